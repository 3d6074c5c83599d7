// Package files stores file metadata in PostgreSQL and computes the
// per-owner storage aggregates.
package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/cloudkeeper/internal/common"
	"github.com/dmitrijs2005/cloudkeeper/internal/dbx"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/models"
)

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const fileColumns = `id, name, type, owner_id, folder_id, url, storage_key, mime_type, size,
		is_favorite, is_locked, shared_link, created_at`

func scanFile(row dbx.RowScanner) (*models.File, error) {
	f := &models.File{}
	var folderID, slug sql.NullString

	err := row.Scan(&f.ID, &f.Name, &f.Type, &f.OwnerID, &folderID, &f.URL, &f.StorageKey, &f.MimeType,
		&f.Size, &f.IsFavorite, &f.IsLocked, &slug, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if folderID.Valid {
		f.FolderID = &folderID.String
	}
	if slug.Valid {
		f.SharedLink = &slug.String
	}
	return f, nil
}

func (r *PostgresRepository) Create(ctx context.Context, file *models.File) (*models.File, error) {
	query := `INSERT INTO files (name, type, owner_id, folder_id, url, storage_key, mime_type, size, is_favorite, is_locked)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		file.Name, file.Type, file.OwnerID, file.FolderID, file.URL, file.StorageKey, file.MimeType,
		file.Size, file.IsFavorite, file.IsLocked).Scan(&file.ID, &file.CreatedAt)
	if err != nil {
		if dbx.IsForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: folder", common.ErrorNotFound)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return file, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.File, error) {
	return scanFile(r.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id))
}

func (r *PostgresRepository) GetBySlug(ctx context.Context, slug string) (*models.File, error) {
	return scanFile(r.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE shared_link = $1`, slug))
}

// buildList renders the SELECT for an owner-scoped listing.
func buildList(ownerID string, f Filter) (string, []any) {
	var b strings.Builder
	args := []any{ownerID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	b.WriteString(`SELECT ` + fileColumns + ` FROM files WHERE owner_id = $1`)

	switch {
	case f.FolderID != "":
		b.WriteString(` AND folder_id = ` + arg(f.FolderID))
	case f.RootOnly:
		b.WriteString(` AND folder_id IS NULL`)
	}
	if f.Type != "" {
		b.WriteString(` AND type = ` + arg(string(f.Type)))
	}
	if f.FavoritesOnly {
		b.WriteString(` AND is_favorite`)
	}
	switch f.Lock {
	case ExcludeLocked:
		b.WriteString(` AND NOT is_locked`)
	case OnlyLocked:
		b.WriteString(` AND is_locked`)
	}
	if !f.CreatedFrom.IsZero() {
		b.WriteString(` AND created_at >= ` + arg(f.CreatedFrom))
	}
	if !f.CreatedTo.IsZero() {
		b.WriteString(` AND created_at < ` + arg(f.CreatedTo))
	}
	b.WriteString(` ORDER BY created_at DESC, id`)
	if f.Limit > 0 {
		b.WriteString(` LIMIT ` + arg(f.Limit))
	}
	return b.String(), args
}

func (r *PostgresRepository) List(ctx context.Context, ownerID string, f Filter) ([]*models.File, error) {
	query, args := buildList(ownerID, f)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make([]*models.File, 0)
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) Rename(ctx context.Context, id, name string) (*models.File, error) {
	return scanFile(r.db.QueryRowContext(ctx,
		`UPDATE files SET name = $2 WHERE id = $1 RETURNING `+fileColumns, id, name))
}

func (r *PostgresRepository) ToggleFavorite(ctx context.Context, id string) (*models.File, error) {
	return scanFile(r.db.QueryRowContext(ctx,
		`UPDATE files SET is_favorite = NOT is_favorite WHERE id = $1 RETURNING `+fileColumns, id))
}

func (r *PostgresRepository) ToggleLock(ctx context.Context, id string) (*models.File, error) {
	return scanFile(r.db.QueryRowContext(ctx,
		`UPDATE files SET is_locked = NOT is_locked WHERE id = $1 RETURNING `+fileColumns, id))
}

func (r *PostgresRepository) SetSharedLink(ctx context.Context, id, slug string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE files SET shared_link = $2 WHERE id = $1`, id, slug)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return fmt.Errorf("%w: share slug collision", common.ErrorConflict)
		}
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	} else if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	} else if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) CountByStorageKey(ctx context.Context, key string) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE storage_key = $1`, key).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) StorageKeysByOwner(ctx context.Context, ownerID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT storage_key FROM files WHERE owner_id = $1`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return keys, nil
}

func (r *PostgresRepository) SumSizeByOwner(ctx context.Context, ownerID string) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM files WHERE owner_id = $1`, ownerID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return total, nil
}

func (r *PostgresRepository) StatsByType(ctx context.Context, ownerID string) ([]models.TypeStat, error) {
	query := `SELECT type, COUNT(*), COALESCE(SUM(size), 0)
		FROM files
		WHERE owner_id = $1
		GROUP BY type
		ORDER BY type`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	stats := make([]models.TypeStat, 0, 3)
	for rows.Next() {
		var s models.TypeStat
		if err := rows.Scan(&s.Type, &s.Count, &s.TotalSize); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return stats, nil
}

func (r *PostgresRepository) StatsByFolder(ctx context.Context, ownerID string) ([]models.FolderStat, error) {
	query := `SELECT fo.id, fo.name, COUNT(f.id), COALESCE(SUM(f.size), 0)
		FROM folders fo
		LEFT JOIN files f ON f.folder_id = fo.id
		WHERE fo.owner_id = $1
		GROUP BY fo.id, fo.name, fo.created_at
		ORDER BY fo.created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	stats := make([]models.FolderStat, 0)
	for rows.Next() {
		var s models.FolderStat
		if err := rows.Scan(&s.FolderID, &s.Name, &s.FileCount, &s.TotalSize); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return stats, nil
}
