package folders

import (
	"context"

	"github.com/dmitrijs2005/cloudkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, folder *models.Folder) (*models.Folder, error)
	GetByID(ctx context.Context, id string) (*models.Folder, error)
	// ListByOwner returns the owner's folders, newest first.
	ListByOwner(ctx context.Context, ownerID string) ([]*models.Folder, error)
	Rename(ctx context.Context, id, name string) (*models.Folder, error)
	Delete(ctx context.Context, id string) error
	CountByOwner(ctx context.Context, ownerID string) (int64, error)
	// HasContents reports whether any file or folder references id as parent.
	HasContents(ctx context.Context, id string) (bool, error)
}
