package models

// TypeStat is the per-file-type bucket of the dashboard.
type TypeStat struct {
	Type      FileType `json:"type"`
	Count     int64    `json:"count"`
	TotalSize int64    `json:"totalSize"`
}

// FolderStat counts only files placed directly in the folder.
type FolderStat struct {
	FolderID  string `json:"folderId"`
	Name      string `json:"name"`
	FileCount int64  `json:"fileCount"`
	TotalSize int64  `json:"totalSize"`
}

type StorageStats struct {
	StorageUsed  int64        `json:"storageUsed"`
	StorageLimit int64        `json:"storageLimit"`
	ByType       []TypeStat   `json:"fileStats"`
	TotalFolders int64        `json:"totalFolders"`
	Folders      []FolderStat `json:"folders"`
}

// Reconciliation is the outcome of recomputing a user's storage counter.
type Reconciliation struct {
	UserID string `json:"userId"`
	Before int64  `json:"before"`
	After  int64  `json:"after"`
}

// Drift is the amount the stored counter was off by.
func (r Reconciliation) Drift() int64 {
	return r.After - r.Before
}
