package files

import (
	"context"
	"time"

	"github.com/dmitrijs2005/cloudkeeper/internal/server/models"
)

// LockMode selects how locked files take part in a listing.
type LockMode int

const (
	// ExcludeLocked is the default for every ordinary listing.
	ExcludeLocked LockMode = iota
	OnlyLocked
	AnyLock
)

// Filter narrows an owner-scoped listing. Zero values mean "no constraint".
type Filter struct {
	FolderID      string
	RootOnly      bool
	Type          models.FileType
	FavoritesOnly bool
	Lock          LockMode
	CreatedFrom   time.Time
	CreatedTo     time.Time
	Limit         int
}

type Repository interface {
	Create(ctx context.Context, file *models.File) (*models.File, error)
	GetByID(ctx context.Context, id string) (*models.File, error)
	GetBySlug(ctx context.Context, slug string) (*models.File, error)
	// List returns the owner's files matching f, newest first.
	List(ctx context.Context, ownerID string, f Filter) ([]*models.File, error)

	Rename(ctx context.Context, id, name string) (*models.File, error)
	ToggleFavorite(ctx context.Context, id string) (*models.File, error)
	ToggleLock(ctx context.Context, id string) (*models.File, error)
	SetSharedLink(ctx context.Context, id, slug string) error
	Delete(ctx context.Context, id string) error

	// CountByStorageKey counts file rows pointing at one stored object.
	CountByStorageKey(ctx context.Context, key string) (int64, error)
	StorageKeysByOwner(ctx context.Context, ownerID string) ([]string, error)

	SumSizeByOwner(ctx context.Context, ownerID string) (int64, error)
	StatsByType(ctx context.Context, ownerID string) ([]models.TypeStat, error)
	// StatsByFolder reports every folder of the owner with its direct files.
	StatsByFolder(ctx context.Context, ownerID string) ([]models.FolderStat, error)
}
