// Package projection plans client-selected output fields against a static
// per-entity schema map. A plan fixes, once per request, the distinct columns
// to select, the distinct joins needed to reach them and the positional
// reader each output slot uses to build its value from a raw row.
package projection

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"chainquery/internal/cache"
	"chainquery/internal/dbexec"
)

// ErrUnknownEnum is returned when a stored enum code has no name.
var ErrUnknownEnum = errors.New("unknown enum code")

// ColumnKind classifies selected columns for post-processing.
type ColumnKind int

const (
	// Plain columns are only read by their extractors.
	Plain ColumnKind = iota
	// AccountID columns hold account ids whose aliases are prefetched before
	// rows are materialized.
	AccountID
)

// Column is one selected expression. Expr is pre-quoted SQL drawn from a static
// schema; As is an optional unquoted result alias.
type Column struct {
	Expr string
	As   string
	Kind ColumnKind
}

func (c Column) key() string {
	return c.Expr + "\x00" + c.As
}

// Extractor builds a field value from the field's own columns, in declaration order.
type Extractor func(v Values, s *Scope) (any, error)

// Loader fetches values for a batch of keys in a follow-up query. The first
// column of a field with a Loader is its key.
type Loader struct {
	Name  string
	Fetch func(ctx context.Context, q dbexec.QueryExecutor, keys []int64) (map[int64]any, error)
}

// Field is one entry of a schema map.
type Field struct {
	Columns []Column
	Joins   []string
	Extract Extractor
	// Sub resolves dotted paths below this field. A field with Sub is a
	// sub-object: selecting it without a path yields its summary via Extract.
	Sub  Schema
	Load *Loader
}

// Schema maps output field names to their definitions. Legacy names are
// ordinary entries pointing at the same Field.
type Schema map[string]*Field

// Names returns the schema's field names in sorted order.
func (s Schema) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// With returns a copy of f that also requires joins.
func (f *Field) With(joins ...string) *Field {
	out := *f
	out.Joins = append(append([]string(nil), f.Joins...), joins...)
	return &out
}

// Int reads an integer column; NULL yields nil.
func Int(expr, as string) *Field {
	return &Field{
		Columns: []Column{{Expr: expr, As: as}},
		Extract: func(v Values, _ *Scope) (any, error) {
			n, ok, err := v.CheckedInt64(0)
			if !ok || err != nil {
				return nil, err
			}
			return n, nil
		},
	}
}

// Str reads a text column; NULL yields nil.
func Str(expr, as string) *Field {
	return &Field{
		Columns: []Column{{Expr: expr, As: as}},
		Extract: func(v Values, _ *Scope) (any, error) {
			if s, ok := v.NullString(0); ok {
				return s, nil
			}
			return nil, nil
		},
	}
}

// Bool reads a boolean column or predicate expression; NULL yields false.
func Bool(expr, as string) *Field {
	return &Field{
		Columns: []Column{{Expr: expr, As: as}},
		Extract: func(v Values, _ *Scope) (any, error) {
			return v.Bool(0), nil
		},
	}
}

// Float reads a numeric column; NULL yields nil.
func Float(expr, as string) *Field {
	return &Field{
		Columns: []Column{{Expr: expr, As: as}},
		Extract: func(v Values, _ *Scope) (any, error) {
			if v.IsNull(0) {
				return nil, nil
			}
			return v.Float64(0), nil
		},
	}
}

// Time reads a timestamp column; NULL yields nil.
func Time(expr, as string) *Field {
	return &Field{
		Columns: []Column{{Expr: expr, As: as}},
		Extract: func(v Values, _ *Scope) (any, error) {
			if v.IsNull(0) {
				return nil, nil
			}
			return v.Time(0), nil
		},
	}
}

// LevelTime resolves a level column to its block timestamp.
func LevelTime(levelExpr, as string) *Field {
	return &Field{
		Columns: []Column{{Expr: levelExpr, As: as}},
		Extract: func(v Values, s *Scope) (any, error) {
			level, ok, err := v.CheckedInt64(0)
			if !ok || err != nil {
				return nil, err
			}
			return s.Timestamp(level)
		},
	}
}

// Quote resolves a level column to the prices of the symbols requested for
// this scope. It yields nil when no symbols were requested.
func Quote(levelExpr, as string) *Field {
	return &Field{
		Columns: []Column{{Expr: levelExpr, As: as}},
		Extract: func(v Values, s *Scope) (any, error) {
			level, ok, err := v.CheckedInt64(0)
			if !ok || err != nil {
				return nil, err
			}
			q := s.Quotes(level)
			if q == nil {
				return nil, nil
			}
			return q, nil
		},
	}
}

// Sum adds several integer columns; NULLs count as zero.
func Sum(cols ...Column) *Field {
	return &Field{
		Columns: cols,
		Extract: func(v Values, _ *Scope) (any, error) {
			var total int64
			for i := 0; i < v.Len(); i++ {
				n, _, err := v.CheckedInt64(i)
				if err != nil {
					return nil, err
				}
				total += n
			}
			return total, nil
		},
	}
}

// Account resolves an account id column to its alias. The field also exposes
// alias and address subfields reading the same column.
func Account(expr, as string) *Field {
	col := []Column{{Expr: expr, As: as, Kind: AccountID}}
	lookup := func(v Values, s *Scope) (*cache.Alias, error) {
		id, ok, err := v.CheckedInt64(0)
		if !ok || err != nil {
			return nil, err
		}
		a, err := s.Alias(id)
		if err != nil {
			return nil, err
		}
		return &a, nil
	}
	name := &Field{Columns: col, Extract: func(v Values, s *Scope) (any, error) {
		a, err := lookup(v, s)
		if a == nil || err != nil || a.Name == "" {
			return nil, err
		}
		return a.Name, nil
	}}
	return &Field{
		Columns: col,
		Extract: func(v Values, s *Scope) (any, error) {
			a, err := lookup(v, s)
			if a == nil || err != nil {
				return nil, err
			}
			return a, nil
		},
		Sub: Schema{
			"alias": name,
			"name":  name,
			"address": {Columns: col, Extract: func(v Values, s *Scope) (any, error) {
				a, err := lookup(v, s)
				if a == nil || err != nil {
					return nil, err
				}
				return a.Address, nil
			}},
			"id": Int(expr, as),
		},
	}
}

// Enum decodes a stored enum code through a static table.
func Enum(expr, as string, table EnumTable) *Field {
	return &Field{
		Columns: []Column{{Expr: expr, As: as}},
		Extract: func(v Values, _ *Scope) (any, error) {
			code, ok, err := v.CheckedInt64(0)
			if !ok || err != nil {
				return nil, err
			}
			name, ok := table.Name(code)
			if !ok {
				return nil, fmt.Errorf("%w: %d", ErrUnknownEnum, code)
			}
			return name, nil
		},
	}
}

// Object is a sub-object field. The first column must be the joined row's
// surrogate id: when it is NULL the whole object is nil and build is not called.
func Object(cols []Column, build Extractor, sub Schema) *Field {
	return &Field{
		Columns: cols,
		Extract: func(v Values, s *Scope) (any, error) {
			if v.IsNull(0) {
				return nil, nil
			}
			return build(v, s)
		},
		Sub: sub,
	}
}

// Deferred is a field whose value comes from a follow-up batch query keyed by
// the value of keyExpr. Rows with a NULL key yield nil.
func Deferred(keyExpr, as string, loader *Loader) *Field {
	return &Field{
		Columns: []Column{{Expr: keyExpr, As: as}},
		Load:    loader,
		Extract: func(v Values, s *Scope) (any, error) {
			key, ok, err := v.CheckedInt64(0)
			if !ok || err != nil {
				return nil, err
			}
			value, _ := s.Loaded(loader.Name, key)
			return value, nil
		},
	}
}

// EnumTable maps stored enum codes to their names.
type EnumTable struct {
	names map[int64]string
	codes map[string]int
}

func NewEnumTable(names map[int64]string) EnumTable {
	t := EnumTable{names: names, codes: make(map[string]int, len(names))}
	for code, name := range names {
		t.codes[name] = int(code)
	}
	return t
}

// Name returns the name of code.
func (t EnumTable) Name(code int64) (string, bool) {
	name, ok := t.names[code]
	return name, ok
}

// Codes returns the name to code map used for filtering.
func (t EnumTable) Codes() map[string]int {
	return t.codes
}
