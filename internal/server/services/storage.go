package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/cloudkeeper/internal/common"
	"github.com/dmitrijs2005/cloudkeeper/internal/dbx"
	"github.com/dmitrijs2005/cloudkeeper/internal/logging"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/models"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/repositories/repomanager"
)

// StorageService reports and repairs per-user storage accounting.
type StorageService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	metrics     *metrics.Metrics
	log         logging.Logger
}

func NewStorageService(db *sql.DB, m repomanager.RepositoryManager, mx *metrics.Metrics, log logging.Logger) *StorageService {
	return &StorageService{db: db, repomanager: m, metrics: mx, log: log.With("service", "storage")}
}

// Stats aggregates the caller's usage. Folder buckets count only files
// placed directly in the folder; unfiled files appear in no bucket.
func (s *StorageService) Stats(ctx context.Context, userID string) (*models.StorageStats, error) {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	filesRepo := s.repomanager.Files(s.db)
	byType, err := filesRepo.StatsByType(ctx, userID)
	if err != nil {
		return nil, err
	}
	byFolder, err := filesRepo.StatsByFolder(ctx, userID)
	if err != nil {
		return nil, err
	}
	total, err := s.repomanager.Folders(s.db).CountByOwner(ctx, userID)
	if err != nil {
		return nil, err
	}

	if byType == nil {
		byType = []models.TypeStat{}
	}
	if byFolder == nil {
		byFolder = []models.FolderStat{}
	}

	return &models.StorageStats{
		StorageUsed:  user.StorageUsed,
		StorageLimit: common.StorageLimitBytes,
		ByType:       byType,
		TotalFolders: total,
		Folders:      byFolder,
	}, nil
}

// Reconcile recomputes the counter from the user's files under a row lock.
// Running it twice leaves the counter unchanged.
func (s *StorageService) Reconcile(ctx context.Context, userID string) (*models.Reconciliation, error) {
	r := &models.Reconciliation{UserID: userID}
	err := withTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		usersRepo := s.repomanager.Users(tx)

		before, err := usersRepo.LockStorageUsed(ctx, userID)
		if err != nil {
			return err
		}
		after, err := s.repomanager.Files(tx).SumSizeByOwner(ctx, userID)
		if err != nil {
			return err
		}
		r.Before, r.After = before, after
		if before == after {
			return nil
		}
		return usersRepo.SetStorageUsed(ctx, userID, after)
	})
	s.metrics.Reconciled(r.Drift(), err)
	if err != nil {
		return nil, err
	}

	if drift := r.Drift(); drift != 0 {
		s.log.Warn(ctx, "storage counter drift corrected", "user_id", userID, "before", r.Before, "after", r.After, "drift", drift)
	}
	return r, nil
}

// ReconcileAll reconciles every user, carrying on past individual failures.
func (s *StorageService) ReconcileAll(ctx context.Context) error {
	ids, err := s.repomanager.Users(s.db).ListIDs(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.Reconcile(ctx, id); err != nil && !errors.Is(err, common.ErrorNotFound) {
			errs = append(errs, fmt.Errorf("user %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// RunReconciler calls ReconcileAll every interval until ctx is done.
func (s *StorageService) RunReconciler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ReconcileAll(ctx); err != nil && ctx.Err() == nil {
				s.log.Error(ctx, "reconcile failed", "error", err)
			}
		}
	}
}
