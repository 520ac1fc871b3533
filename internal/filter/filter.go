// Package filter compiles declarative per-field constraints into parameterized
// SQL predicates. Column names always come from a closed, statically declared
// column map; caller values only ever travel as bound parameters.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"chainquery/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

var (
	// ErrUnknownField is returned when a constraint names a field that the entity does not expose.
	ErrUnknownField = errors.New("unknown filter field")
	// ErrOperandType is returned when an operator is applied to a value of the wrong shape or type.
	ErrOperandType = errors.New("incompatible filter operand")
	// ErrInvalidValue is returned when a value has the right type but is not acceptable (e.g. unknown enum name).
	ErrInvalidValue = errors.New("invalid filter value")
)

// Op is a comparison operator.
type Op int

const (
	Eq Op = iota
	Ne
	In
	NotIn
	Null
	NotNull
	Ge
	Gt
	Le
	Lt
)

var opNames = map[Op]string{
	Eq:      "eq",
	Ne:      "ne",
	In:      "in",
	NotIn:   "ni",
	Null:    "null",
	NotNull: "notnull",
	Ge:      "ge",
	Gt:      "gt",
	Le:      "le",
	Lt:      "lt",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// ParseOp maps a query-string operator suffix to an Op.
func ParseOp(name string) (Op, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Eq, true
	}
	for op, candidate := range opNames {
		if candidate == name {
			return op, true
		}
	}
	return 0, false
}

// Predicate is one AND-ed member of a Set.
type Predicate interface {
	compile(d sqlutil.Dialect, cols Columns) (sq.Sqlizer, error)
}

// Set is an ordered conjunction of predicates. A nil or empty Set is unconstrained.
type Set []Predicate

// And returns a new set with the predicates appended, leaving s untouched.
func (s Set) And(preds ...Predicate) Set {
	out := make(Set, 0, len(s)+len(preds))
	out = append(out, s...)
	return append(out, preds...)
}

// Compile turns the set into WHERE fragments in declaration order. Predicates
// that do not constrain anything (nil constraints, empty NotIn) contribute nothing.
func Compile(d sqlutil.Dialect, cols Columns, set Set) ([]sq.Sqlizer, error) {
	if len(set) == 0 {
		return nil, nil
	}
	out := make([]sq.Sqlizer, 0, len(set))
	for _, pred := range set {
		if pred == nil {
			continue
		}
		cond, err := pred.compile(d, cols)
		if err != nil {
			return nil, err
		}
		if cond != nil {
			out = append(out, cond)
		}
	}
	return out, nil
}

// Constraint compares one field against a value.
type Constraint struct {
	Field string
	Op    Op
	Value any
}

func Where(field string, op Op, value any) Constraint {
	return Constraint{Field: field, Op: op, Value: value}
}

func Equal(field string, value any) Constraint    { return Where(field, Eq, value) }
func NotEqual(field string, value any) Constraint { return Where(field, Ne, value) }
func AnyIn(field string, values any) Constraint   { return Where(field, In, values) }
func NoneIn(field string, values any) Constraint  { return Where(field, NotIn, values) }
func IsNull(field string) Constraint              { return Where(field, Null, nil) }
func NotNullField(field string) Constraint        { return Where(field, NotNull, nil) }

func (c Constraint) compile(d sqlutil.Dialect, cols Columns) (sq.Sqlizer, error) {
	col, ok := cols[c.Field]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, c.Field)
	}
	return col.condition(d, c.Field, c.Op, c.Value)
}

// OrBranch is one (column, candidate values) pair of an OrGroup.
type OrBranch struct {
	Field  string
	Values any
}

// OrGroup matches rows where any branch column equals one of its values.
// Branches with empty lists are omitted; a group whose branches are all empty
// matches nothing.
type OrGroup []OrBranch

func (g OrGroup) compile(d sqlutil.Dialect, cols Columns) (sq.Sqlizer, error) {
	if len(g) == 0 {
		return nil, nil
	}
	ors := make(sq.Or, 0, len(g))
	for _, branch := range g {
		col, ok := cols[branch.Field]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, branch.Field)
		}
		if branch.Values == nil {
			continue
		}
		values, err := col.normalizeList(branch.Field, In, branch.Values)
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			continue
		}
		ors = append(ors, d.AnyOf(col.Expr, values))
	}
	if len(ors) == 0 {
		return alwaysFalse, nil
	}
	if len(ors) == 1 {
		return ors[0], nil
	}
	return ors, nil
}

// AnyOf compares a single value against the columns behind several roles,
// e.g. "this account as sender or as target". The caller names the roles; each
// role is a field of the entity's column map.
type AnyOf struct {
	Roles []string
	Op    Op
	Value any
}

func (a AnyOf) compile(d sqlutil.Dialect, cols Columns) (sq.Sqlizer, error) {
	if len(a.Roles) == 0 {
		return nil, fmt.Errorf("%w: anyof requires at least one role", ErrOperandType)
	}
	switch a.Op {
	case Eq, In, Null:
	default:
		return nil, fmt.Errorf("%w: anyof does not support %s", ErrOperandType, a.Op)
	}
	conds := make(sq.Or, 0, len(a.Roles))
	for _, role := range a.Roles {
		col, ok := cols[role]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, role)
		}
		cond, err := col.condition(d, role, a.Op, a.Value)
		if err != nil {
			return nil, err
		}
		if cond == nil {
			continue
		}
		conds = append(conds, cond)
	}
	switch len(conds) {
	case 0:
		return nil, nil
	case 1:
		return conds[0], nil
	}
	return conds, nil
}

var (
	alwaysFalse = sq.Expr("1 = 0")
)
