package query

const (
	// DefaultListLimit is the page size used when a request does not set one.
	DefaultListLimit = 100
	// MaxListLimit caps the page size a request may ask for.
	MaxListLimit = 10000
)

// Limits bounds page sizes.
type Limits struct {
	Default int
	Max     int
}

// DefaultLimits returns the stock page size bounds.
func DefaultLimits() Limits {
	return Limits{Default: DefaultListLimit, Max: MaxListLimit}
}

// Sort names a caller-facing sort key and direction.
type Sort struct {
	Key  string
	Desc bool
}

// Page is a pagination request. At most one offset mode applies: a cursor wins
// over a page number, which wins over a plain element offset.
type Page struct {
	Sort   Sort
	Offset int
	// Number is a zero-based page index; the offset becomes Number*Limit.
	Number *int
	// Cursor continues after the row with this identity value, in sort
	// direction. A cursor forces ordering by the identity column.
	Cursor *int64
	Limit  int
}

// Normalize clamps the page to the given limits: a missing or non-positive
// limit becomes the default, oversized limits are capped and negative offsets
// become zero. Page numbers are folded into Offset.
func (p Page) Normalize(l Limits) Page {
	if l.Default <= 0 {
		l.Default = DefaultListLimit
	}
	if l.Max <= 0 {
		l.Max = MaxListLimit
	}
	if l.Default > l.Max {
		l.Default = l.Max
	}

	if p.Limit <= 0 {
		p.Limit = l.Default
	}
	if p.Limit > l.Max {
		p.Limit = l.Max
	}
	if p.Number != nil {
		n := *p.Number
		if n < 0 {
			n = 0
		}
		p.Offset = n * p.Limit
		p.Number = nil
	}
	if p.Offset < 0 || p.Cursor != nil {
		p.Offset = 0
	}
	return p
}

// SortColumns holds the expressions used to order by one sort key. Asc and
// Desc may differ, e.g. to hit a descending index.
type SortColumns struct {
	Asc  string
	Desc string
}

// SortMap maps caller-facing sort keys to column expressions.
type SortMap map[string]SortColumns

// By returns a SortMap entry using the same expression for both directions.
func By(expr string) SortColumns {
	return SortColumns{Asc: expr, Desc: expr}
}

// Resolve maps a sort request to a column expression. Unknown keys fall back
// to identity; a sort key is user input and never produces an error.
func (m SortMap) Resolve(s Sort, identity string) string {
	cols, ok := m[s.Key]
	if !ok {
		return identity
	}
	col := cols.Asc
	if s.Desc {
		col = cols.Desc
	}
	if col == "" {
		return identity
	}
	return col
}
