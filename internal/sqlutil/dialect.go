package sqlutil

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Dialect captures the handful of SQL differences the query engine cares about:
// identifier quoting, placeholder style and set membership.
type Dialect struct {
	Name        string
	DriverName  string
	Placeholder sq.PlaceholderFormat

	quote func(string) string
	// arrays reports whether the store binds a whole list as one array parameter
	// (col = ANY(?)) instead of expanding it into IN (?, ?, ...).
	arrays bool
}

var (
	// Postgres targets PostgreSQL through the pgx stdlib driver.
	Postgres = Dialect{
		Name:        "postgres",
		DriverName:  "pgx",
		Placeholder: sq.Dollar,
		quote:       QuoteIdentifierANSI,
		arrays:      true,
	}
	// MySQL targets MySQL/TiDB through go-sql-driver/mysql.
	MySQL = Dialect{
		Name:        "mysql",
		DriverName:  "mysql",
		Placeholder: sq.Question,
		quote:       QuoteIdentifier,
	}
)

// DialectByName resolves a configured dialect name.
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "mysql", "tidb":
		return MySQL, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver %q (expected postgres or mysql)", name)
	}
}

// Quote quotes a single identifier.
func (d Dialect) Quote(name string) string {
	if d.quote == nil {
		return QuoteIdentifierANSI(name)
	}
	return d.quote(name)
}

// Column returns alias.column with both parts quoted. An empty alias yields the bare column.
func (d Dialect) Column(alias, name string) string {
	if alias == "" {
		return d.Quote(name)
	}
	return d.Quote(alias) + "." + d.Quote(name)
}

// Table returns "table" AS "alias".
func (d Dialect) Table(name, alias string) string {
	if alias == "" || alias == name {
		return d.Quote(name)
	}
	return d.Quote(name) + " AS " + d.Quote(alias)
}

// AnyOf matches rows whose column equals any of values. Callers must handle the
// empty list themselves; it is not representable as a single predicate here.
func (d Dialect) AnyOf(column string, values []any) sq.Sqlizer {
	if d.arrays {
		return sq.Expr(column+" = ANY(?)", TypedArray(values))
	}
	return sq.Eq{column: values}
}

// NoneOf matches rows whose column equals none of values.
func (d Dialect) NoneOf(column string, values []any) sq.Sqlizer {
	if d.arrays {
		return sq.Expr(column+" <> ALL(?)", TypedArray(values))
	}
	return sq.NotEq{column: values}
}

// TypedArray narrows a heterogeneous list to a concrete slice type when every
// element shares one, so array-binding drivers encode it as int8[] / text[].
func TypedArray(values []any) any {
	if len(values) == 0 {
		return values
	}
	switch values[0].(type) {
	case int64:
		out := make([]int64, 0, len(values))
		for _, v := range values {
			n, ok := v.(int64)
			if !ok {
				return values
			}
			out = append(out, n)
		}
		return out
	case int32:
		out := make([]int32, 0, len(values))
		for _, v := range values {
			n, ok := v.(int32)
			if !ok {
				return values
			}
			out = append(out, n)
		}
		return out
	case string:
		out := make([]string, 0, len(values))
		for _, v := range values {
			s, ok := v.(string)
			if !ok {
				return values
			}
			out = append(out, s)
		}
		return out
	}
	return values
}
