// Package dbx holds the transaction plumbing shared by the SQLite
// repositories.
package dbx

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX is satisfied by *sql.DB and *sql.Tx, so a repository can be bound to
// either.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// WithTx runs fn in a transaction on db and commits when fn succeeds. An
// error or panic from fn rolls back; the panic is re-raised afterwards.
func WithTx(ctx context.Context, db TxBeginner, fn func(ctx context.Context, tx DBTX) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	done := false
	defer func() {
		if !done {
			_ = tx.Rollback()
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	done = true
	return nil
}

// Atomically rebinds a repository to a fresh transaction and runs fn on it.
// When db is already a transaction (it cannot begin another), fn runs on
// db directly and the caller's transaction decides the outcome.
func Atomically[R any](ctx context.Context, db DBTX, bind func(DBTX) R, fn func(ctx context.Context, repo R) error) error {
	beginner, ok := db.(TxBeginner)
	if !ok {
		return fn(ctx, bind(db))
	}
	return WithTx(ctx, beginner, func(ctx context.Context, tx DBTX) error {
		return fn(ctx, bind(tx))
	})
}
