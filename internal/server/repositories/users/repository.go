package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/cloudkeeper/internal/server/models"
)

// Repository persists accounts and owns the per-user storage counter.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByResetToken(ctx context.Context, token string) (*models.User, error)
	ListIDs(ctx context.Context) ([]string, error)

	UpdateUserName(ctx context.Context, id, userName string) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	SetPasscodeHash(ctx context.Context, id, hash string) error
	// SetResetToken stores a reset token; an empty token clears it.
	SetResetToken(ctx context.Context, id, token string, expires *time.Time) error
	Delete(ctx context.Context, id string) error

	// AddStorageUsed applies delta to the counter, clamping at zero, and
	// returns the new value.
	AddStorageUsed(ctx context.Context, id string, delta int64) (int64, error)
	// LockStorageUsed reads the counter with a row lock for reconciliation.
	LockStorageUsed(ctx context.Context, id string) (int64, error)
	SetStorageUsed(ctx context.Context, id string, value int64) error
}
