// Package store implements the uniform persistence contract every entity
// repository is built on. All storage failures leave this package as
// apperr.Database errors labelled with the owning repository.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/orderflow-fulfillment/internal/apperr"
)

// Patch maps column names to new values.
type Patch map[string]any

type Query struct {
	Where   string
	Args    []any
	OrderBy string
	Limit   int
	Offset  int
	Lock    bool
}

type Store[T any] struct {
	table  Table[T]
	label  string
	logger *slog.Logger
}

func New[T any](table Table[T], label string, logger *slog.Logger) *Store[T] {
	return &Store[T]{
		table:  table,
		label:  label,
		logger: logger,
	}
}

func (s *Store[T]) Label() string {
	return s.label
}

func (s *Store[T]) Create(ctx context.Context, q DBTX, entity *T) (*T, error) {
	if s.table.ID(entity) == "" {
		s.table.SetID(entity, uuid.New().String())
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		s.table.Name,
		strings.Join(s.table.Insert, ", "),
		placeholders(1, len(s.table.Insert)),
		s.columns(),
	)

	created := new(T)
	if err := s.table.Scan(q.QueryRowContext(ctx, query, s.table.InsertValues(entity)...), created); err != nil {
		return nil, s.fail(fmt.Sprintf("Failed to create %s", s.table.Entity), err)
	}

	s.logger.DebugContext(ctx, "entity created", "entity", s.table.Entity, "id", s.table.ID(created))
	return created, nil
}

// FindByID returns (nil, nil) when no row matches.
func (s *Store[T]) FindByID(ctx context.Context, q DBTX, id string) (*T, error) {
	return s.findByID(ctx, q, id, false)
}

// FindByIDForUpdate locks the row until the surrounding transaction ends.
func (s *Store[T]) FindByIDForUpdate(ctx context.Context, q DBTX, id string) (*T, error) {
	return s.findByID(ctx, q, id, true)
}

func (s *Store[T]) findByID(ctx context.Context, q DBTX, id string, lock bool) (*T, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", s.columns(), s.table.Name)
	if lock {
		query += " FOR UPDATE"
	}

	entity := new(T)
	err := s.table.Scan(q.QueryRowContext(ctx, query, id), entity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.DebugContext(ctx, "entity not found", "entity", s.table.Entity, "id", id)
			return nil, nil
		}
		return nil, s.fail(fmt.Sprintf("Failed to find %s by ID: %s", s.table.Entity, id), err)
	}

	return entity, nil
}

func (s *Store[T]) FindAll(ctx context.Context, q DBTX) ([]T, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", s.columns(), s.table.Name, s.table.orderBy())

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, s.fail(fmt.Sprintf("Failed to find all %s", s.table.Entity), err)
	}

	items, err := s.scanAll(rows)
	if err != nil {
		return nil, s.fail(fmt.Sprintf("Failed to find all %s", s.table.Entity), err)
	}
	return items, nil
}

func (s *Store[T]) FindByIDs(ctx context.Context, q DBTX, ids []string) ([]T, error) {
	if len(ids) == 0 {
		return []T{}, nil
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ANY($1) ORDER BY %s", s.columns(), s.table.Name, s.table.orderBy())

	rows, err := q.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, s.fail(fmt.Sprintf("Failed to find %s by IDs", s.table.Entity), err)
	}

	items, err := s.scanAll(rows)
	if err != nil {
		return nil, s.fail(fmt.Sprintf("Failed to find %s by IDs", s.table.Entity), err)
	}
	return items, nil
}

// Find runs a filtered select. Where and OrderBy are SQL fragments owned by
// the calling repository; values always travel in Args.
func (s *Store[T]) Find(ctx context.Context, q DBTX, fq Query) ([]T, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", s.columns(), s.table.Name)
	if fq.Where != "" {
		b.WriteString(" WHERE " + fq.Where)
	}
	orderBy := fq.OrderBy
	if orderBy == "" {
		orderBy = s.table.orderBy()
	}
	b.WriteString(" ORDER BY " + orderBy)
	if fq.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", fq.Limit)
	}
	if fq.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", fq.Offset)
	}
	if fq.Lock {
		b.WriteString(" FOR UPDATE")
	}

	rows, err := q.QueryContext(ctx, b.String(), fq.Args...)
	if err != nil {
		return nil, s.fail(fmt.Sprintf("Failed to execute custom query on %s", s.table.Entity), err)
	}

	items, err := s.scanAll(rows)
	if err != nil {
		return nil, s.fail(fmt.Sprintf("Failed to execute custom query on %s", s.table.Entity), err)
	}
	return items, nil
}

func (s *Store[T]) Count(ctx context.Context, q DBTX, where string, args ...any) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table.Name)
	if where != "" {
		query += " WHERE " + where
	}

	var count int64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, s.fail(fmt.Sprintf("Failed to count %s", s.table.Entity), err)
	}
	return count, nil
}

// Raw runs an arbitrary query, typically an aggregate, and hands each row to scan.
func (s *Store[T]) Raw(ctx context.Context, q DBTX, query string, args []any, scan func(Scanner) error) error {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return s.fail(fmt.Sprintf("Failed to execute custom query on %s", s.table.Entity), err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return s.fail(fmt.Sprintf("Failed to execute custom query on %s", s.table.Entity), err)
		}
	}

	if err := rows.Err(); err != nil {
		return s.fail(fmt.Sprintf("Failed to execute custom query on %s", s.table.Entity), err)
	}
	return nil
}

// Update looks the row up first and fails with NotFound before writing
// anything when it is absent. An empty patch returns the current row.
func (s *Store[T]) Update(ctx context.Context, q DBTX, id string, patch Patch) (*T, error) {
	existing, err := s.FindByID(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, s.notFound(id)
	}
	if len(patch) == 0 {
		return existing, nil
	}

	columns := slices.Sorted(maps.Keys(patch))
	sets := make([]string, 0, len(columns)+1)
	args := make([]any, 0, len(columns)+1)
	for i, column := range columns {
		if !s.table.canUpdate(column) {
			return nil, apperr.Internal(fmt.Sprintf("Column %s of %s is not updatable", column, s.table.Entity), s.label, nil)
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", column, i+1))
		args = append(args, patch[column])
	}
	sets = append(sets, "updated_at = NOW()")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d RETURNING %s",
		s.table.Name, strings.Join(sets, ", "), len(args), s.columns())

	updated := new(T)
	if err := s.table.Scan(q.QueryRowContext(ctx, query, args...), updated); err != nil {
		return nil, s.fail(fmt.Sprintf("Failed to update %s with ID: %s", s.table.Entity, id), err)
	}

	s.logger.DebugContext(ctx, "entity updated", "entity", s.table.Entity, "id", id, "columns", columns)
	return updated, nil
}

func (s *Store[T]) Delete(ctx context.Context, q DBTX, id string) error {
	existing, err := s.FindByID(ctx, q, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return s.notFound(id)
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", s.table.Name)
	if _, err := q.ExecContext(ctx, query, id); err != nil {
		return s.fail(fmt.Sprintf("Failed to delete %s with ID: %s", s.table.Entity, id), err)
	}

	s.logger.DebugContext(ctx, "entity deleted", "entity", s.table.Entity, "id", id)
	return nil
}

// DeleteWhere removes every row whose column equals value and reports how many went.
func (s *Store[T]) DeleteWhere(ctx context.Context, q DBTX, column string, value any) (int64, error) {
	if !s.table.hasColumn(column) {
		return 0, apperr.Internal(fmt.Sprintf("Unknown column %s on %s", column, s.table.Entity), s.label, nil)
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", s.table.Name, column)
	result, err := q.ExecContext(ctx, query, value)
	if err != nil {
		return 0, s.fail(fmt.Sprintf("Failed to delete %s by %s", s.table.Entity, column), err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, s.fail(fmt.Sprintf("Failed to delete %s by %s", s.table.Entity, column), err)
	}

	s.logger.DebugContext(ctx, "entities deleted", "entity", s.table.Entity, "column", column, "count", n)
	return n, nil
}

func (s *Store[T]) scanAll(rows *sql.Rows) ([]T, error) {
	defer func() { _ = rows.Close() }()

	items := []T{}
	for rows.Next() {
		var item T
		if err := s.table.Scan(rows, &item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store[T]) columns() string {
	return strings.Join(s.table.Columns, ", ")
}

func (s *Store[T]) notFound(id string) error {
	return apperr.NotFound(fmt.Sprintf("%s with ID %s not found", s.table.Entity, id), s.label)
}

// fail is the single translation point from storage errors to the taxonomy.
func (s *Store[T]) fail(message string, err error) error {
	if e, ok := apperr.From(err); ok {
		return e
	}

	s.logger.Error(message, "component", s.label, "error", err)

	e := apperr.Database(message, s.label, err)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		e.Data["code"] = pqErr.Code.Name()
	}
	return e
}

func placeholders(start, n int) string {
	ph := make([]string, n)
	for i := range n {
		ph[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(ph, ", ")
}
