package store

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/orderflow-fulfillment/internal/apperr"
)

type widget struct {
	ID        string
	Name      string
	Qty       int
	CreatedAt time.Time
}

var widgetTable = Table[widget]{
	Name:    "widgets",
	Entity:  "Widget",
	Columns: []string{"id", "name", "qty", "created_at"},
	Insert:  []string{"id", "name", "qty"},
	InsertValues: func(w *widget) []any {
		return []any{w.ID, w.Name, w.Qty}
	},
	Updatable: []string{"name", "qty"},
	Scan: func(s Scanner, w *widget) error {
		return s.Scan(&w.ID, &w.Name, &w.Qty, &w.CreatedAt)
	},
	ID:    func(w *widget) string { return w.ID },
	SetID: func(w *widget, id string) { w.ID = id },
}

const (
	widgetID     = "5b1f7f4e-3c2a-4d7b-9e51-0a9c2d4b6e11"
	selectWidget = "SELECT id, name, qty, created_at FROM widgets WHERE id = $1"
)

var widgetColumns = []string{"id", "name", "qty", "created_at"}

func newTestStore(t *testing.T) (*Store[widget], *sql.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(widgetTable, "WidgetRepository", logger), db, mock
}

func requireDatabaseError(t *testing.T, err error, message string) *apperr.Error {
	t.Helper()

	e, ok := apperr.From(err)
	require.True(t, ok, "expected taxonomy error, got %v", err)
	assert.Equal(t, apperr.KindInternal, e.Kind)
	assert.Equal(t, apperr.TypeDatabase, e.Type())
	assert.Equal(t, "WidgetRepository", e.Context)
	assert.Equal(t, message, e.Message)
	return e
}

func TestStore_Create(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("persists and returns generated fields", func(t *testing.T) {
		s, db, mock := newTestStore(t)

		mock.ExpectQuery("INSERT INTO widgets (id, name, qty) VALUES ($1, $2, $3) RETURNING id, name, qty, created_at").
			WithArgs(sqlmock.AnyArg(), "bolt", 3).
			WillReturnRows(sqlmock.NewRows(widgetColumns).AddRow(widgetID, "bolt", 3, now))

		created, err := s.Create(ctx, db, &widget{Name: "bolt", Qty: 3})
		require.NoError(t, err)
		assert.Equal(t, widgetID, created.ID)
		assert.Equal(t, now, created.CreatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("keeps caller supplied id", func(t *testing.T) {
		s, db, mock := newTestStore(t)

		mock.ExpectQuery("INSERT INTO widgets (id, name, qty) VALUES ($1, $2, $3) RETURNING id, name, qty, created_at").
			WithArgs(widgetID, "bolt", 3).
			WillReturnRows(sqlmock.NewRows(widgetColumns).AddRow(widgetID, "bolt", 3, now))

		_, err := s.Create(ctx, db, &widget{ID: widgetID, Name: "bolt", Qty: 3})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wraps storage failure", func(t *testing.T) {
		s, db, mock := newTestStore(t)
		cause := &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}

		mock.ExpectQuery("INSERT INTO widgets (id, name, qty) VALUES ($1, $2, $3) RETURNING id, name, qty, created_at").
			WillReturnError(cause)

		created, err := s.Create(ctx, db, &widget{Name: "bolt"})
		assert.Nil(t, created)

		e := requireDatabaseError(t, err, "Failed to create Widget")
		assert.Equal(t, "unique_violation", e.Data["code"])
		assert.ErrorIs(t, err, cause)
		assert.NotContains(t, e.Error(), "duplicate key")
	})
}

func TestStore_FindByID(t *testing.T) {
	ctx := context.Background()

	t.Run("returns nil when absent", func(t *testing.T) {
		s, db, mock := newTestStore(t)

		mock.ExpectQuery(selectWidget).
			WithArgs(widgetID).
			WillReturnRows(sqlmock.NewRows(widgetColumns))

		got, err := s.FindByID(ctx, db, widgetID)
		assert.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("wraps lookup failure", func(t *testing.T) {
		s, db, mock := newTestStore(t)

		mock.ExpectQuery(selectWidget).
			WithArgs(widgetID).
			WillReturnError(errors.New("connection reset"))

		_, err := s.FindByID(ctx, db, widgetID)
		requireDatabaseError(t, err, "Failed to find Widget by ID: "+widgetID)
	})

	t.Run("locks row when asked", func(t *testing.T) {
		s, db, mock := newTestStore(t)

		mock.ExpectQuery(selectWidget + " FOR UPDATE").
			WithArgs(widgetID).
			WillReturnRows(sqlmock.NewRows(widgetColumns).AddRow(widgetID, "bolt", 3, time.Now()))

		got, err := s.FindByIDForUpdate(ctx, db, widgetID)
		require.NoError(t, err)
		assert.Equal(t, "bolt", got.Name)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_FindAllAndByIDs(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("find all", func(t *testing.T) {
		s, db, mock := newTestStore(t)

		mock.ExpectQuery("SELECT id, name, qty, created_at FROM widgets ORDER BY created_at DESC").
			WillReturnRows(sqlmock.NewRows(widgetColumns).
				AddRow(widgetID, "bolt", 3, now).
				AddRow("7d3e6c52-1b0a-4f2e-8c9d-3a4b5c6d7e8f", "nut", 1, now))

		items, err := s.FindAll(ctx, db)
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})

	t.Run("find all failure", func(t *testing.T) {
		s, db, mock := newTestStore(t)

		mock.ExpectQuery("SELECT id, name, qty, created_at FROM widgets ORDER BY created_at DESC").
			WillReturnError(errors.New("boom"))

		_, err := s.FindAll(ctx, db)
		requireDatabaseError(t, err, "Failed to find all Widget")
	})

	t.Run("empty id set skips the query", func(t *testing.T) {
		s, db, mock := newTestStore(t)

		items, err := s.FindByIDs(ctx, db, nil)
		require.NoError(t, err)
		assert.Empty(t, items)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("find by ids", func(t *testing.T) {
		s, db, mock := newTestStore(t)

		mock.ExpectQuery("SELECT id, name, qty, created_at FROM widgets WHERE id = ANY($1) ORDER BY created_at DESC").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows(widgetColumns).AddRow(widgetID, "bolt", 3, now))

		items, err := s.FindByIDs(ctx, db, []string{widgetID})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, widgetID, items[0].ID)
	})
}

func TestStore_Find(t *testing.T) {
	s, db, mock := newTestStore(t)

	mock.ExpectQuery("SELECT id, name, qty, created_at FROM widgets WHERE qty <= $1 ORDER BY qty ASC LIMIT 10 OFFSET 20 FOR UPDATE").
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(widgetColumns))

	items, err := s.Find(context.Background(), db, Query{
		Where:   "qty <= $1",
		Args:    []any{5},
		OrderBy: "qty ASC",
		Limit:   10,
		Offset:  20,
		Lock:    true,
	})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CountAndRaw(t *testing.T) {
	ctx := context.Background()

	t.Run("count", func(t *testing.T) {
		s, db, mock := newTestStore(t)

		mock.ExpectQuery("SELECT COUNT(*) FROM widgets WHERE name = $1").
			WithArgs("bolt").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

		n, err := s.Count(ctx, db, "name = $1", "bolt")
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
	})

	t.Run("raw aggregate", func(t *testing.T) {
		s, db, mock := newTestStore(t)

		mock.ExpectQuery("SELECT name, SUM(qty) FROM widgets GROUP BY name").
			WillReturnRows(sqlmock.NewRows([]string{"name", "sum"}).AddRow("bolt", 3).AddRow("nut", 7))

		totals := map[string]int{}
		err := s.Raw(ctx, db, "SELECT name, SUM(qty) FROM widgets GROUP BY name", nil, func(row Scanner) error {
			var name string
			var sum int
			if err := row.Scan(&name, &sum); err != nil {
				return err
			}
			totals[name] = sum
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"bolt": 3, "nut": 7}, totals)
	})

	t.Run("raw failure", func(t *testing.T) {
		s, db, mock := newTestStore(t)

		mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("syntax"))

		err := s.Raw(ctx, db, "SELECT 1", nil, func(Scanner) error { return nil })
		requireDatabaseError(t, err, "Failed to execute custom query on Widget")
	})
}

func TestStore_Update(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("absent row fails before writing", func(t *testing.T) {
		s, db, mock := newTestStore(t)

		mock.ExpectQuery(selectWidget).
			WithArgs(widgetID).
			WillReturnRows(sqlmock.NewRows(widgetColumns))

		_, err := s.Update(ctx, db, widgetID, Patch{"qty": 1})

		e, ok := apperr.From(err)
		require.True(t, ok)
		assert.Equal(t, apperr.KindNotFound, e.Kind)
		assert.Equal(t, "[WidgetRepository] Widget with ID "+widgetID+" not found", e.Error())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("writes patched columns in sorted order", func(t *testing.T) {
		s, db, mock := newTestStore(t)

		mock.ExpectQuery(selectWidget).
			WithArgs(widgetID).
			WillReturnRows(sqlmock.NewRows(widgetColumns).AddRow(widgetID, "bolt", 3, now))
		mock.ExpectQuery("UPDATE widgets SET name = $1, qty = $2, updated_at = NOW() WHERE id = $3 RETURNING id, name, qty, created_at").
			WithArgs("nut", 5, widgetID).
			WillReturnRows(sqlmock.NewRows(widgetColumns).AddRow(widgetID, "nut", 5, now))

		updated, err := s.Update(ctx, db, widgetID, Patch{"qty": 5, "name": "nut"})
		require.NoError(t, err)
		assert.Equal(t, "nut", updated.Name)
		assert.Equal(t, 5, updated.Qty)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty patch returns current row", func(t *testing.T) {
		s, db, mock := newTestStore(t)

		mock.ExpectQuery(selectWidget).
			WithArgs(widgetID).
			WillReturnRows(sqlmock.NewRows(widgetColumns).AddRow(widgetID, "bolt", 3, now))

		got, err := s.Update(ctx, db, widgetID, nil)
		require.NoError(t, err)
		assert.Equal(t, "bolt", got.Name)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("write failure is internal", func(t *testing.T) {
		s, db, mock := newTestStore(t)

		mock.ExpectQuery(selectWidget).
			WithArgs(widgetID).
			WillReturnRows(sqlmock.NewRows(widgetColumns).AddRow(widgetID, "bolt", 3, now))
		mock.ExpectQuery("UPDATE widgets SET qty = $1, updated_at = NOW() WHERE id = $2 RETURNING id, name, qty, created_at").
			WithArgs(-1, widgetID).
			WillReturnError(&pq.Error{Code: "23514"})

		_, err := s.Update(ctx, db, widgetID, Patch{"qty": -1})
		e := requireDatabaseError(t, err, "Failed to update Widget with ID: "+widgetID)
		assert.Equal(t, "check_violation", e.Data["code"])
	})

	t.Run("rejects columns outside the updatable set", func(t *testing.T) {
		s, db, mock := newTestStore(t)

		mock.ExpectQuery(selectWidget).
			WithArgs(widgetID).
			WillReturnRows(sqlmock.NewRows(widgetColumns).AddRow(widgetID, "bolt", 3, now))

		_, err := s.Update(ctx, db, widgetID, Patch{"created_at": now})
		assert.True(t, apperr.Is(err, apperr.KindInternal))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("absent row", func(t *testing.T) {
		s, db, mock := newTestStore(t)

		mock.ExpectQuery(selectWidget).
			WithArgs(widgetID).
			WillReturnRows(sqlmock.NewRows(widgetColumns))

		err := s.Delete(ctx, db, widgetID)
		assert.True(t, apperr.Is(err, apperr.KindNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deletes existing row", func(t *testing.T) {
		s, db, mock := newTestStore(t)

		mock.ExpectQuery(selectWidget).
			WithArgs(widgetID).
			WillReturnRows(sqlmock.NewRows(widgetColumns).AddRow(widgetID, "bolt", 3, time.Now()))
		mock.ExpectExec("DELETE FROM widgets WHERE id = $1").
			WithArgs(widgetID).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.Delete(ctx, db, widgetID))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delete failure is internal", func(t *testing.T) {
		s, db, mock := newTestStore(t)

		mock.ExpectQuery(selectWidget).
			WithArgs(widgetID).
			WillReturnRows(sqlmock.NewRows(widgetColumns).AddRow(widgetID, "bolt", 3, time.Now()))
		mock.ExpectExec("DELETE FROM widgets WHERE id = $1").
			WithArgs(widgetID).
			WillReturnError(errors.New("fk violation"))

		err := s.Delete(ctx, db, widgetID)
		requireDatabaseError(t, err, "Failed to delete Widget with ID: "+widgetID)
	})

	t.Run("delete where", func(t *testing.T) {
		s, db, mock := newTestStore(t)

		mock.ExpectExec("DELETE FROM widgets WHERE name = $1").
			WithArgs("bolt").
			WillReturnResult(sqlmock.NewResult(0, 3))

		n, err := s.DeleteWhere(ctx, db, "name", "bolt")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("delete where rejects unknown column", func(t *testing.T) {
		s, db, mock := newTestStore(t)

		_, err := s.DeleteWhere(ctx, db, "name; DROP TABLE widgets", "x")
		assert.True(t, apperr.Is(err, apperr.KindInternal))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
