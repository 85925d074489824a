package database

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/mkopo/core"
)

type txKey struct{}

// Executor runs queries: either the transaction carried by a context or the DB itself.
type Executor interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Transactor carries a *sqlx.Tx in the context handed to RunInTx's fn.
// Nested calls join the outer transaction.
type Transactor struct {
	db *sqlx.DB
}

var _ core.Transactor = (*Transactor)(nil) // interface compliance check

func NewTransactor(db *sqlx.DB) *Transactor {
	return &Transactor{db: db}
}

func WithTx(ctx context.Context, tx *sqlx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func txFrom(ctx context.Context) (*sqlx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	return tx, ok
}

// Executor returns the transaction carried by ctx, or the DB outside of any transaction.
func (t *Transactor) Executor(ctx context.Context) Executor {
	if tx, ok := txFrom(ctx); ok {
		return tx
	}
	return t.db
}

func (t *Transactor) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}

	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return core.NewStorageError(err, "beginning transaction")
	}
	if err = fn(WithTx(ctx, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return core.NewStorageError(tx.Commit(), "committing transaction")
}
