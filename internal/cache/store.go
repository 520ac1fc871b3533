package cache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"chainquery/internal/dbexec"
	"chainquery/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// SQLStore reads cache contents from the indexer's tables.
type SQLStore struct {
	exec    dbexec.QueryExecutor
	dialect sqlutil.Dialect
}

func NewSQLStore(exec dbexec.QueryExecutor, dialect sqlutil.Dialect) *SQLStore {
	return &SQLStore{exec: exec, dialect: dialect}
}

func (s *SQLStore) query(ctx context.Context, b sq.SelectBuilder) (dbexec.Rows, error) {
	query, args, err := b.PlaceholderFormat(s.dialect.Placeholder).ToSql()
	if err != nil {
		return nil, err
	}
	return s.exec.QueryContext(ctx, query, args...)
}

func (s *SQLStore) accountColumns() []string {
	return []string{
		s.dialect.Quote("Id"),
		s.dialect.Quote("Alias"),
		s.dialect.Quote("Address"),
	}
}

// LoadAccounts implements AccountStore.
func (s *SQLStore) LoadAccounts(ctx context.Context, ids []int64) (map[int64]Alias, error) {
	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}
	rows, err := s.query(ctx, sq.Select(s.accountColumns()...).
		From(s.dialect.Quote("Accounts")).
		Where(s.dialect.AnyOf(s.dialect.Quote("Id"), values)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]Alias, len(ids))
	for rows.Next() {
		var (
			id      int64
			name    sql.NullString
			address string
		)
		if err := rows.Scan(&id, &name, &address); err != nil {
			return nil, err
		}
		out[id] = Alias{Name: name.String, Address: address}
	}
	return out, rows.Err()
}

// AccountByAddress implements AccountStore.
func (s *SQLStore) AccountByAddress(ctx context.Context, address string) (int64, Alias, bool, error) {
	rows, err := s.query(ctx, sq.Select(s.accountColumns()...).
		From(s.dialect.Quote("Accounts")).
		Where(sq.Eq{s.dialect.Quote("Address"): address}).
		Limit(1))
	if err != nil {
		return 0, Alias{}, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return 0, Alias{}, false, rows.Err()
	}
	var (
		id   int64
		name sql.NullString
		addr string
	)
	if err := rows.Scan(&id, &name, &addr); err != nil {
		return 0, Alias{}, false, err
	}
	return id, Alias{Name: name.String, Address: addr}, true, nil
}

// LoadTimes returns block timestamps for levels >= from in level order.
// Levels must be contiguous.
func (s *SQLStore) LoadTimes(ctx context.Context, from int64) ([]time.Time, error) {
	level := s.dialect.Quote("Level")
	rows, err := s.query(ctx, sq.Select(level, s.dialect.Quote("Timestamp")).
		From(s.dialect.Quote("Blocks")).
		Where(sq.GtOrEq{level: from}).
		OrderBy(level))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	next := from
	for rows.Next() {
		var (
			lvl int64
			ts  time.Time
		)
		if err := rows.Scan(&lvl, &ts); err != nil {
			return nil, err
		}
		if lvl != next {
			return nil, fmt.Errorf("level times: gap at level %d (got %d)", next, lvl)
		}
		out = append(out, ts.UTC())
		next++
	}
	return out, rows.Err()
}

// LoadQuotes returns quote rows for levels >= from in level order.
func (s *SQLStore) LoadQuotes(ctx context.Context, from int64) ([]QuoteRow, error) {
	level := s.dialect.Quote("Level")
	cols := make([]string, 0, len(Symbols)+1)
	cols = append(cols, level)
	for _, sym := range Symbols {
		cols = append(cols, s.dialect.Quote(strings.ToUpper(sym[:1])+sym[1:]))
	}
	rows, err := s.query(ctx, sq.Select(cols...).
		From(s.dialect.Quote("Quotes")).
		Where(sq.GtOrEq{level: from}).
		OrderBy(level))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []QuoteRow
	next := from
	for rows.Next() {
		var lvl int64
		row := make(QuoteRow, len(Symbols))
		dest := make([]any, 0, len(Symbols)+1)
		dest = append(dest, &lvl)
		for i := range row {
			dest = append(dest, &row[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if lvl != next {
			return nil, fmt.Errorf("quotes: gap at level %d (got %d)", next, lvl)
		}
		out = append(out, row)
		next++
	}
	return out, rows.Err()
}
