package services

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/cloudkeeper/internal/common"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/models"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/repositories/files"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/repositories/repomanager"
)

type DashboardService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	storage     *StorageService
}

func NewDashboardService(db *sql.DB, m repomanager.RepositoryManager, storage *StorageService) *DashboardService {
	return &DashboardService{db: db, repomanager: m, storage: storage}
}

func (s *DashboardService) Stats(ctx context.Context, userID string) (*models.StorageStats, error) {
	return s.storage.Stats(ctx, userID)
}

// Recents returns the newest files regardless of folder, favorite or lock.
func (s *DashboardService) Recents(ctx context.Context, userID string) ([]*models.File, error) {
	return s.repomanager.Files(s.db).List(ctx, userID, files.Filter{
		Lock:  files.AnyLock,
		Limit: common.RecentFilesLimit,
	})
}

// Reconcile repairs the caller's own counter.
func (s *DashboardService) Reconcile(ctx context.Context, userID string) (*models.Reconciliation, error) {
	return s.storage.Reconcile(ctx, userID)
}
