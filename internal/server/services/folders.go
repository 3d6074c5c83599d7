package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/cloudkeeper/internal/common"
	"github.com/dmitrijs2005/cloudkeeper/internal/logging"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/access"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/models"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/repositories/folders"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/repositories/repomanager"
)

// FolderService manages the caller's folder tree.
type FolderService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	log         logging.Logger
}

func NewFolderService(db *sql.DB, m repomanager.RepositoryManager, log logging.Logger) *FolderService {
	return &FolderService{db: db, repomanager: m, log: log.With("service", "folders")}
}

func (s *FolderService) owned(ctx context.Context, repo folders.Repository, callerID, id string) (*models.Folder, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	f, err := repo.GetByID(ctx, id)
	if err := access.OwnsFound(callerID, ownerOfFolder(f), err); err != nil {
		return nil, err
	}
	return f, nil
}

// Create makes a folder; parentID may be empty for a top-level folder.
func (s *FolderService) Create(ctx context.Context, callerID, name, parentID string) (*models.Folder, error) {
	name, err := cleanName(name, "folder name")
	if err != nil {
		return nil, err
	}

	repo := s.repomanager.Folders(s.db)
	folder := &models.Folder{Name: name, OwnerID: callerID}
	if parentID != "" {
		parent, err := s.owned(ctx, repo, callerID, parentID)
		if err != nil {
			return nil, err
		}
		folder.ParentID = &parent.ID
	}
	return repo.Create(ctx, folder)
}

func (s *FolderService) Rename(ctx context.Context, callerID, id, name string) (*models.Folder, error) {
	name, err := cleanName(name, "folder name")
	if err != nil {
		return nil, err
	}
	repo := s.repomanager.Folders(s.db)
	if _, err := s.owned(ctx, repo, callerID, id); err != nil {
		return nil, err
	}
	return repo.Rename(ctx, id, name)
}

// Delete removes an empty folder. Folders still holding files or
// subfolders are rejected with common.ErrorConflict.
func (s *FolderService) Delete(ctx context.Context, callerID, id string) error {
	repo := s.repomanager.Folders(s.db)
	if _, err := s.owned(ctx, repo, callerID, id); err != nil {
		return err
	}
	busy, err := repo.HasContents(ctx, id)
	if err != nil {
		return err
	}
	if busy {
		return fmt.Errorf("%w: folder is not empty", common.ErrorConflict)
	}
	return repo.Delete(ctx, id)
}

func (s *FolderService) List(ctx context.Context, callerID string) ([]*models.Folder, error) {
	return s.repomanager.Folders(s.db).ListByOwner(ctx, callerID)
}

func (s *FolderService) Get(ctx context.Context, callerID, id string) (*models.Folder, error) {
	return s.owned(ctx, s.repomanager.Folders(s.db), callerID, id)
}
