package store

import (
	"context"
	"database/sql"

	"github.com/joao-fontenele/orderflow-fulfillment/internal/apperr"
)

type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// DB is a pool that can both run statements and start transactions.
type DB interface {
	DBTX
	TxBeginner
}

// WithTx runs fn inside one transaction. Any error or panic from fn rolls the
// whole unit back; errors already in taxonomy form are returned unchanged.
func WithTx(ctx context.Context, db TxBeginner, label string, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Database("Failed to begin transaction", label, err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		if _, ok := apperr.From(err); !ok {
			err = apperr.Internal("Transaction aborted", label, err)
		}
		return err
	}

	if err = tx.Commit(); err != nil {
		return apperr.Database("Failed to commit transaction", label, err)
	}
	return nil
}
