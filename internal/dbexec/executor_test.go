package dbexec

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardExecutor(t *testing.T) {
	t.Run("nil db returns error", func(t *testing.T) {
		executor := &StandardExecutor{db: nil}

		_, err := executor.QueryContext(context.Background(), "SELECT 1")
		if err != sql.ErrConnDone {
			t.Errorf("expected ErrConnDone, got %v", err)
		}
	})

	t.Run("queries through the pool", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow(1))

		rows, err := NewStandardExecutor(db).QueryContext(context.Background(), "SELECT 1")
		require.NoError(t, err)
		require.True(t, rows.Next())
		require.NoError(t, rows.Close())
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestScopedExecutor(t *testing.T) {
	t.Run("nil db returns error", func(t *testing.T) {
		_, err := NewScopedExecutor(nil).QueryContext(context.Background(), "SELECT 1")
		assert.ErrorIs(t, err, sql.ErrConnDone)
	})

	t.Run("releases connection when rows are closed", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"x"}).AddRow(1))

		rows, err := NewScopedExecutor(db).QueryContext(context.Background(), "SELECT 1")
		require.NoError(t, err)
		assert.Equal(t, 1, db.Stats().InUse)

		var x int
		require.True(t, rows.Next())
		require.NoError(t, rows.Scan(&x))
		assert.Equal(t, 1, x)
		require.NoError(t, rows.Close())
		// a second Close must not release twice
		require.NoError(t, rows.Close())

		assert.Equal(t, 0, db.Stats().InUse)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("releases connection when the query fails", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("boom"))

		_, err = NewScopedExecutor(db).QueryContext(context.Background(), "SELECT 1")
		require.EqualError(t, err, "boom")
		assert.Equal(t, 0, db.Stats().InUse)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
