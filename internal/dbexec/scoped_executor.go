package dbexec

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

// ScopedExecutor runs every query on a connection acquired from the pool for
// that query alone. The connection goes back to the pool when the returned rows
// are closed, or immediately when the query fails.
type ScopedExecutor struct {
	db *sql.DB
}

// NewScopedExecutor creates an executor that scopes a pool connection to each query.
func NewScopedExecutor(db *sql.DB) *ScopedExecutor {
	return &ScopedExecutor{db: db}
}

func (e *ScopedExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &scopedRows{
		Rows: rows,
		release: func() {
			_ = conn.Close()
		},
	}, nil
}

type scopedRows struct {
	*sql.Rows
	release func()
	once    sync.Once
}

func (r *scopedRows) Close() error {
	defer r.once.Do(r.release)
	return r.Rows.Close()
}
