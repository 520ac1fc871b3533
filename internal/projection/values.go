package projection

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ErrBadValue is returned when a stored value cannot be read as the field's type.
var ErrBadValue = errors.New("unreadable column value")

// Values is a typed positional view of one field's columns within a raw row.
// Index i refers to the field's i-th declared column; the mapping to row
// positions is fixed when the plan is built.
type Values struct {
	row []any
	pos []int
}

// NewValues builds a view over row; column i of the view is row[pos[i]].
func NewValues(row []any, pos []int) Values {
	return Values{row: row, pos: pos}
}

// Len returns the number of columns in the view.
func (v Values) Len() int {
	return len(v.pos)
}

// Raw returns the driver value of column i.
func (v Values) Raw(i int) any {
	if i < 0 || i >= len(v.pos) {
		return nil
	}
	p := v.pos[i]
	if p < 0 || p >= len(v.row) {
		return nil
	}
	return v.row[p]
}

// IsNull reports whether column i is NULL.
func (v Values) IsNull(i int) bool {
	return v.Raw(i) == nil
}

// NullInt64 returns column i as int64 and whether it was non-NULL.
func (v Values) NullInt64(i int) (int64, bool) {
	return asInt64(v.Raw(i))
}

// CheckedInt64 is NullInt64 that fails on a non-NULL value which is not an
// integer, such as a fractional NUMERIC.
func (v Values) CheckedInt64(i int) (int64, bool, error) {
	raw := v.Raw(i)
	if raw == nil {
		return 0, false, nil
	}
	n, ok := asInt64(raw)
	if !ok {
		return 0, false, fmt.Errorf("%w: %T %v is not an integer", ErrBadValue, raw, raw)
	}
	return n, true, nil
}

// Int64 returns column i as int64; NULL reads as 0.
func (v Values) Int64(i int) int64 {
	n, _ := v.NullInt64(i)
	return n
}

// Int returns column i as int; NULL reads as 0.
func (v Values) Int(i int) int {
	return int(v.Int64(i))
}

// NullString returns column i as string and whether it was non-NULL.
func (v Values) NullString(i int) (string, bool) {
	switch x := v.Raw(i).(type) {
	case string:
		return x, true
	case []byte:
		return string(x), true
	case nil:
		return "", false
	case time.Time:
		return x.UTC().Format(time.RFC3339), true
	default:
		if n, ok := asInt64(x); ok {
			return strconv.FormatInt(n, 10), true
		}
		return "", false
	}
}

// String returns column i as string; NULL reads as "".
func (v Values) String(i int) string {
	s, _ := v.NullString(i)
	return s
}

// Bool returns column i as bool; NULL reads as false.
func (v Values) Bool(i int) bool {
	switch x := v.Raw(i).(type) {
	case bool:
		return x
	case []byte:
		b, _ := strconv.ParseBool(string(x))
		return b
	case string:
		b, _ := strconv.ParseBool(x)
		return b
	default:
		n, ok := asInt64(x)
		return ok && n != 0
	}
}

// Float64 returns column i as float64; NULL reads as 0.
func (v Values) Float64(i int) float64 {
	switch x := v.Raw(i).(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case []byte:
		f, _ := strconv.ParseFloat(string(x), 64)
		return f
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	default:
		n, _ := asInt64(x)
		return float64(n)
	}
}

// Time returns column i as a UTC time; NULL reads as the zero time.
func (v Values) Time(i int) time.Time {
	switch x := v.Raw(i).(type) {
	case time.Time:
		return x.UTC()
	case []byte:
		return parseTime(string(x))
	case string:
		return parseTime(x)
	}
	return time.Time{}
}

func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func asInt64(value any) (int64, bool) {
	switch x := value.(type) {
	case int64:
		return x, true
	case int32:
		return int64(x), true
	case int16:
		return int64(x), true
	case int8:
		return int64(x), true
	case int:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case float64:
		if x != math.Trunc(x) || x < math.MinInt64 || x >= math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case []byte:
		n, err := strconv.ParseInt(string(x), 10, 64)
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
