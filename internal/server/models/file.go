// Package models defines the records persisted by cloudkeeper and the
// aggregates computed from them.
package models

import "time"

type FileType string

const (
	FileTypeNote  FileType = "note"
	FileTypeImage FileType = "image"
	FileTypePDF   FileType = "pdf"
)

// ParseFileType accepts only the closed set note, image, pdf.
func ParseFileType(s string) (FileType, bool) {
	switch t := FileType(s); t {
	case FileTypeNote, FileTypeImage, FileTypePDF:
		return t, true
	}
	return "", false
}

// File is the metadata of one stored object. Duplicates share StorageKey
// and URL with their original.
type File struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Type       FileType  `json:"type"`
	OwnerID    string    `json:"owner"`
	FolderID   *string   `json:"folder"`
	URL        string    `json:"url"`
	StorageKey string    `json:"-"`
	MimeType   string    `json:"mimeType"`
	Size       int64     `json:"size"`
	IsFavorite bool      `json:"isFavorite"`
	IsLocked   bool      `json:"isLocked"`
	SharedLink *string   `json:"sharedLink"`
	CreatedAt  time.Time `json:"createdAt"`
}

// IsShared reports whether the file carries a non-empty share slug.
func (f *File) IsShared() bool {
	return f.SharedLink != nil && *f.SharedLink != ""
}

// ShareLink is returned when a file is shared.
type ShareLink struct {
	SharedURL string `json:"sharedUrl"`
	Slug      string `json:"slug"`
}
