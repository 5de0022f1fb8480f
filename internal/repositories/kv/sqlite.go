package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/prwatch/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository binds the repository to a *sql.DB or a *sql.Tx. Bound
// to a *sql.DB, multi-key writes run in their own transaction; bound to a
// *sql.Tx they join the caller's.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM storage WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get storage[%s]: %w", key, err)
	}
	return value, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO storage (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set storage[%s]: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) SetMany(ctx context.Context, values map[string][]byte) error {
	return r.atomically(ctx, func(ctx context.Context, repo *SQLiteRepository) error {
		for k, v := range values {
			if err := repo.Set(ctx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) Delete(ctx context.Context, keys ...string) error {
	return r.atomically(ctx, func(ctx context.Context, repo *SQLiteRepository) error {
		for _, k := range keys {
			if _, err := repo.db.ExecContext(ctx, `DELETE FROM storage WHERE key = ?`, k); err != nil {
				return fmt.Errorf("failed to delete storage[%s]: %w", k, err)
			}
		}
		return nil
	})
}

func (r *SQLiteRepository) atomically(ctx context.Context, fn func(ctx context.Context, repo *SQLiteRepository) error) error {
	return dbx.Atomically(ctx, r.db, NewSQLiteRepository, fn)
}
