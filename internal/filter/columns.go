package filter

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"chainquery/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// Kind is the value domain of a filterable column.
type Kind int

const (
	KindInt Kind = iota
	KindAccount
	KindTime
	KindString
	KindBool
	KindEnum
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindAccount:
		return "account"
	case KindTime:
		return "time"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindEnum:
		return "enum"
	}
	return "unknown"
}

// Column is a filterable column. Expr is a fully quoted, statically declared
// SQL column expression; it is never derived from request input.
type Column struct {
	Expr string
	Kind Kind
	// Enum maps names to stored codes for KindEnum columns.
	Enum map[string]int
}

// Columns is an entity's closed field → column map.
type Columns map[string]Column

func (c Column) ordered() bool {
	return c.Kind == KindInt || c.Kind == KindTime
}

func (c Column) condition(d sqlutil.Dialect, field string, op Op, value any) (sq.Sqlizer, error) {
	switch op {
	case Null, NotNull:
		if value != nil {
			return nil, fmt.Errorf("%w: %s.%s takes no value, got %T", ErrOperandType, field, op, value)
		}
		if op == Null {
			return sq.Eq{c.Expr: nil}, nil
		}
		return sq.NotEq{c.Expr: nil}, nil

	case In, NotIn:
		values, err := c.normalizeList(field, op, value)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			if op == In {
				return alwaysFalse, nil
			}
			return nil, nil
		}
		if op == In {
			return d.AnyOf(c.Expr, values), nil
		}
		return d.NoneOf(c.Expr, values), nil

	case Eq, Ne:
		v, err := c.normalize(field, op, value)
		if err != nil {
			return nil, err
		}
		if op == Eq {
			return sq.Eq{c.Expr: v}, nil
		}
		return sq.NotEq{c.Expr: v}, nil

	case Ge, Gt, Le, Lt:
		if !c.ordered() {
			return nil, fmt.Errorf("%w: %s.%s is not supported for %s fields", ErrOperandType, field, op, c.Kind)
		}
		v, err := c.normalize(field, op, value)
		if err != nil {
			return nil, err
		}
		switch op {
		case Ge:
			return sq.GtOrEq{c.Expr: v}, nil
		case Gt:
			return sq.Gt{c.Expr: v}, nil
		case Le:
			return sq.LtOrEq{c.Expr: v}, nil
		default:
			return sq.Lt{c.Expr: v}, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown operator %s", ErrOperandType, op)
}

func (c Column) normalizeList(field string, op Op, value any) ([]any, error) {
	if value == nil {
		return nil, fmt.Errorf("%w: %s.%s requires a list", ErrOperandType, field, op)
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("%w: %s.%s requires a list, got %T", ErrOperandType, field, op, value)
	}
	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		v, err := c.normalize(field, op, rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// normalize checks a scalar operand against the column kind and converts it
// to the canonical bound type (int64, time.Time, string, bool).
func (c Column) normalize(field string, op Op, value any) (any, error) {
	mismatch := func() error {
		return fmt.Errorf("%w: %s.%s expects %s, got %T", ErrOperandType, field, op, c.Kind, value)
	}
	switch c.Kind {
	case KindInt, KindAccount:
		n, ok := asInt64(value)
		if !ok {
			return nil, mismatch()
		}
		return n, nil
	case KindTime:
		t, ok := value.(time.Time)
		if !ok {
			return nil, mismatch()
		}
		return t.UTC(), nil
	case KindString:
		s, ok := value.(string)
		if !ok {
			return nil, mismatch()
		}
		return s, nil
	case KindBool:
		b, ok := value.(bool)
		if !ok {
			return nil, mismatch()
		}
		return b, nil
	case KindEnum:
		if name, ok := value.(string); ok {
			code, ok := c.Enum[name]
			if !ok {
				return nil, fmt.Errorf("%w: %s must be one of %s", ErrInvalidValue, field, strings.Join(enumNames(c.Enum), ", "))
			}
			return int64(code), nil
		}
		n, ok := asInt64(value)
		if !ok {
			return nil, mismatch()
		}
		return n, nil
	}
	return nil, mismatch()
}

// Parse converts a raw query-string value into the column's operand type.
// Account columns accept numeric ids only; address resolution happens upstream.
func (c Column) Parse(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch c.Kind {
	case KindInt, KindAccount:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, raw)
		}
		return n, nil
	case KindTime:
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.UTC(), nil
		}
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			return t.UTC(), nil
		}
		return nil, fmt.Errorf("%w: %q is not an RFC 3339 timestamp", ErrInvalidValue, raw)
	case KindBool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a boolean", ErrInvalidValue, raw)
		}
		return b, nil
	case KindEnum:
		if _, ok := c.Enum[raw]; !ok {
			return nil, fmt.Errorf("%w: %q must be one of %s", ErrInvalidValue, raw, strings.Join(enumNames(c.Enum), ", "))
		}
		return raw, nil
	}
	return raw, nil
}

func asInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > 1<<63-1 {
			return 0, false
		}
		return int64(v), true
	case uint:
		if uint64(v) > 1<<63-1 {
			return 0, false
		}
		return int64(v), true
	}
	return 0, false
}

func enumNames(enum map[string]int) []string {
	names := make([]string, 0, len(enum))
	for name := range enum {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
