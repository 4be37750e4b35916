package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/orderflow-fulfillment/internal/apperr"
)

func TestWithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		_, db, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE widgets SET qty = 0").WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectCommit()

		err := WithTx(ctx, db, "Test", func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, "UPDATE widgets SET qty = 0")
			return err
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back and passes taxonomy errors through", func(t *testing.T) {
		_, db, mock := newTestStore(t)
		want := apperr.BadRequest("nope", "Test")

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := WithTx(ctx, db, "Test", func(*sql.Tx) error { return want })
		assert.Same(t, want, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wraps foreign errors as internal", func(t *testing.T) {
		_, db, mock := newTestStore(t)
		cause := errors.New("unexpected")

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := WithTx(ctx, db, "Test", func(*sql.Tx) error { return cause })
		assert.True(t, apperr.Is(err, apperr.KindInternal))
		assert.ErrorIs(t, err, cause)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		_, db, mock := newTestStore(t)

		mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

		called := false
		err := WithTx(ctx, db, "Test", func(*sql.Tx) error {
			called = true
			return nil
		})
		assert.False(t, called)
		e, ok := apperr.From(err)
		require.True(t, ok)
		assert.Equal(t, apperr.TypeDatabase, e.Type())
	})

	t.Run("commit failure", func(t *testing.T) {
		_, db, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

		err := WithTx(ctx, db, "Test", func(*sql.Tx) error { return nil })
		e, ok := apperr.From(err)
		require.True(t, ok)
		assert.Equal(t, "Failed to commit transaction", e.Message)
	})

	t.Run("rolls back on panic", func(t *testing.T) {
		_, db, mock := newTestStore(t)

		mock.ExpectBegin()
		mock.ExpectRollback()

		assert.Panics(t, func() {
			_ = WithTx(ctx, db, "Test", func(*sql.Tx) error { panic("kaboom") })
		})
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
