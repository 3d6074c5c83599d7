// Package users stores accounts in PostgreSQL.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/cloudkeeper/internal/common"
	"github.com/dmitrijs2005/cloudkeeper/internal/dbx"
	"github.com/dmitrijs2005/cloudkeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectUser = `SELECT id, username, email, password_hash, google_id, file_passcode_hash,
		storage_used, reset_password_token, reset_password_expires, created_at, updated_at
		FROM users`

func scanUser(row dbx.RowScanner) (*models.User, error) {
	u := &models.User{}
	var googleID sql.NullString
	var resetExpires sql.NullTime

	err := row.Scan(&u.ID, &u.UserName, &u.Email, &u.PasswordHash, &googleID, &u.FilePasscodeHash,
		&u.StorageUsed, &u.ResetPasswordToken, &resetExpires, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if googleID.Valid {
		u.GoogleID = &googleID.String
	}
	if resetExpires.Valid {
		u.ResetPasswordExpires = &resetExpires.Time
	}
	return u, nil
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query := `INSERT INTO users (username, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query, user.UserName, user.Email, user.PasswordHash).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: username or email already registered", common.ErrorConflict)
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, selectUser+` WHERE id = $1`, id))
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, selectUser+` WHERE lower(email) = lower($1)`, email))
}

func (r *PostgresRepository) GetByResetToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, common.ErrorNotFound
	}
	return scanUser(r.db.QueryRowContext(ctx, selectUser+` WHERE reset_password_token = $1`, token))
}

func (r *PostgresRepository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return ids, nil
}

// exec runs a single-row UPDATE/DELETE and reports a missing row as not found.
func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return fmt.Errorf("%w: value already taken", common.ErrorConflict)
		}
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *PostgresRepository) UpdateUserName(ctx context.Context, id, userName string) error {
	return r.exec(ctx, `UPDATE users SET username = $2, updated_at = now() WHERE id = $1`, id, userName)
}

func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return r.exec(ctx, `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, id, hash)
}

func (r *PostgresRepository) SetPasscodeHash(ctx context.Context, id, hash string) error {
	return r.exec(ctx, `UPDATE users SET file_passcode_hash = $2, updated_at = now() WHERE id = $1`, id, hash)
}

func (r *PostgresRepository) SetResetToken(ctx context.Context, id, token string, expires *time.Time) error {
	return r.exec(ctx, `UPDATE users SET reset_password_token = $2, reset_password_expires = $3, updated_at = now() WHERE id = $1`,
		id, token, expires)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, `DELETE FROM users WHERE id = $1`, id)
}

func (r *PostgresRepository) AddStorageUsed(ctx context.Context, id string, delta int64) (int64, error) {
	query := `UPDATE users SET storage_used = GREATEST(storage_used + $2, 0)
		WHERE id = $1
		RETURNING storage_used`

	var used int64
	if err := r.db.QueryRowContext(ctx, query, id, delta).Scan(&used); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrorNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return used, nil
}

func (r *PostgresRepository) LockStorageUsed(ctx context.Context, id string) (int64, error) {
	var used int64
	err := r.db.QueryRowContext(ctx, `SELECT storage_used FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&used)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrorNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}
	return used, nil
}

func (r *PostgresRepository) SetStorageUsed(ctx context.Context, id string, value int64) error {
	if value < 0 {
		value = 0
	}
	return r.exec(ctx, `UPDATE users SET storage_used = $2 WHERE id = $1`, id, value)
}
