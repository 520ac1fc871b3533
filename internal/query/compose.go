// Package query composes read-only SELECT statements from a base table,
// projected columns, joins, compiled predicates and a pagination request.
package query

import (
	"errors"

	"chainquery/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// SQLQuery represents a planned SQL statement with bound args.
type SQLQuery struct {
	SQL  string
	Args []interface{}
}

// Statement describes one entity query. Every string is pre-quoted SQL taken
// from a static entity definition.
type Statement struct {
	// Table is the FROM item, e.g. "Blocks" AS "b".
	Table    string
	Columns  []string
	Joins    []string
	Where    []sq.Sqlizer
	Identity string
	Sorts    SortMap
	Page     Page
}

var errNoColumns = errors.New("query has no columns")

// Compose builds the SELECT for st. The page must already be normalized.
// Rows are ordered by the resolved sort column and then by the identity column
// in the same direction so that ties page deterministically.
func Compose(d sqlutil.Dialect, st Statement) (SQLQuery, error) {
	if len(st.Columns) == 0 {
		return SQLQuery{}, errNoColumns
	}
	builder := from(sq.Select(st.Columns...), st)

	page := st.Page
	column := st.Sorts.Resolve(page.Sort, st.Identity)
	if page.Cursor != nil {
		column = st.Identity
		if page.Sort.Desc {
			builder = builder.Where(sq.Lt{st.Identity: *page.Cursor})
		} else {
			builder = builder.Where(sq.Gt{st.Identity: *page.Cursor})
		}
	}

	builder = builder.OrderBy(orderBy(column, st.Identity, page.Sort.Desc)...)

	limit := page.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	builder = builder.Limit(uint64(limit))
	if page.Offset > 0 {
		builder = builder.Offset(uint64(page.Offset))
	}

	query, args, err := builder.PlaceholderFormat(d.Placeholder).ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

// ComposeCount builds the SELECT COUNT(*) sharing st's FROM, joins and filters.
func ComposeCount(d sqlutil.Dialect, st Statement) (SQLQuery, error) {
	query, args, err := from(sq.Select("COUNT(*)"), st).
		PlaceholderFormat(d.Placeholder).
		ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

func from(builder sq.SelectBuilder, st Statement) sq.SelectBuilder {
	builder = builder.From(st.Table)
	seen := make(map[string]struct{}, len(st.Joins))
	for _, join := range st.Joins {
		if _, ok := seen[join]; ok {
			continue
		}
		seen[join] = struct{}{}
		builder = builder.JoinClause(join)
	}
	for _, cond := range st.Where {
		if cond == nil {
			continue
		}
		builder = builder.Where(cond)
	}
	return builder
}

func orderBy(column, identity string, desc bool) []string {
	dir := " ASC"
	if desc {
		dir = " DESC"
	}
	if column == identity || identity == "" {
		return []string{column + dir}
	}
	return []string{column + dir, identity + dir}
}
