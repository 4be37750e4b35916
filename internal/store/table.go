package store

import (
	"context"
	"database/sql"
	"slices"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Scanner interface {
	Scan(dest ...any) error
}

// Table describes how an entity kind maps onto its table.
type Table[T any] struct {
	Name   string
	Entity string
	// Columns are selected and returned in this order; Scan must match it.
	Columns []string
	// Insert lists the columns written by Create; InsertValues must match it.
	Insert       []string
	InsertValues func(*T) []any
	Updatable    []string
	Scan         func(Scanner, *T) error
	ID           func(*T) string
	SetID        func(*T, string)
	OrderBy      string
}

func (t *Table[T]) hasColumn(column string) bool {
	return slices.Contains(t.Columns, column)
}

func (t *Table[T]) canUpdate(column string) bool {
	return slices.Contains(t.Updatable, column)
}

func (t *Table[T]) orderBy() string {
	if t.OrderBy == "" {
		return "created_at DESC"
	}
	return t.OrderBy
}
