package hidden

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/prwatch/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) IDs(ctx context.Context) (map[int64]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM hidden_pull_requests`)
	if err != nil {
		return nil, fmt.Errorf("failed to select hidden ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan hidden id: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *SQLiteRepository) Hide(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO hidden_pull_requests (id) VALUES (?) ON CONFLICT(id) DO NOTHING`, id)
	if err != nil {
		return fmt.Errorf("failed to hide %d: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) Unhide(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM hidden_pull_requests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to unhide %d: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM hidden_pull_requests`); err != nil {
		return fmt.Errorf("failed to clear hidden ids: %w", err)
	}
	return nil
}
