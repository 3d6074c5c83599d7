package services

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/cloudkeeper/internal/common"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/models"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/repositories/repomanager"
)

var staticPageKeys = map[string]struct{}{
	"about":   {},
	"privacy": {},
	"terms":   {},
}

type StaticService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

func NewStaticService(db *sql.DB, m repomanager.RepositoryManager) *StaticService {
	return &StaticService{db: db, repomanager: m}
}

func (s *StaticService) Get(ctx context.Context, key string) (*models.StaticPage, error) {
	if _, ok := staticPageKeys[key]; !ok {
		return nil, common.ErrorNotFound
	}
	return s.repomanager.StaticPages(s.db).Get(ctx, key)
}
