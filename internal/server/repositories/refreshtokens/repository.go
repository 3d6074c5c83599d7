// Package refreshtokens persists the opaque refresh tokens handed out at
// login and rotated on refresh.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/cloudkeeper/internal/server/models"
)

type Repository interface {
	// Create stores token for userID, expiring at now+validity.
	Create(ctx context.Context, userID string, token string, validity time.Duration) error

	// Find returns common.ErrorNotFound when the token is unknown.
	Find(ctx context.Context, token string) (*models.RefreshToken, error)

	// Delete is a no-op for unknown tokens.
	Delete(ctx context.Context, token string) error

	// DeleteByUser revokes every session of userID.
	DeleteByUser(ctx context.Context, userID string) error
}
