// Package repomanager vends repositories bound to a database handle so
// services can run the same code against *sql.DB or inside a transaction.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/cloudkeeper/internal/dbx"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/repositories/files"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/repositories/folders"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/repositories/staticpages"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/repositories/users"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Files(db dbx.DBTX) files.Repository
	Folders(db dbx.DBTX) folders.Repository
	StaticPages(db dbx.DBTX) staticpages.Repository
}
