// Package staticpages reads the about, privacy and terms pages.
package staticpages

import (
	"context"

	"github.com/dmitrijs2005/cloudkeeper/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, key string) (*models.StaticPage, error)
}
