package projection

import (
	"fmt"
)

// Slot is one output position of a projected row.
type Slot struct {
	Path  string
	field *Field
	pos   []int
}

// Known reports whether the slot resolved to a schema field.
func (s Slot) Known() bool {
	return s.field != nil
}

// LoaderRef binds a follow-up loader to the row position of its key column.
type LoaderRef struct {
	Loader *Loader
	Key    int
}

// Plan is the resolved projection of one request.
type Plan struct {
	Columns []Column
	Joins   []string
	Slots   []Slot
	Loaders []LoaderRef
	// Accounts holds row positions of account id columns.
	Accounts []int

	colIndex  map[string]int
	joinSeen  map[string]struct{}
	loaderPos map[string]int
	slotIndex map[string]int
}

// Build plans fields against schema. Unknown names still occupy their slot
// but add no columns and no joins; joins on the way to a sub-object leaf are
// added once however many of its subfields are selected.
func Build(schema Schema, fields []string) *Plan {
	p := &Plan{
		Slots:     make([]Slot, len(fields)),
		colIndex:  map[string]int{},
		joinSeen:  map[string]struct{}{},
		loaderPos: map[string]int{},
		slotIndex: make(map[string]int, len(fields)),
	}
	for i, path := range fields {
		p.Slots[i].Path = path
		if _, dup := p.slotIndex[path]; !dup {
			p.slotIndex[path] = i
		}
	}
	p.walk(Select(fields), schema, nil)
	return p
}

func (p *Plan) walk(nodes []*Selector, schema Schema, joins []string) {
	for _, node := range nodes {
		f, ok := schema[node.Name]
		if !ok || f == nil {
			continue
		}
		path := joins
		if len(f.Joins) > 0 {
			path = append(append([]string(nil), joins...), f.Joins...)
		}
		for _, slot := range node.Slots {
			p.bind(slot, f, path)
		}
		if len(node.Children) > 0 && f.Sub != nil {
			p.walk(node.Children, f.Sub, path)
		}
	}
}

func (p *Plan) bind(slot int, f *Field, joins []string) {
	for _, j := range joins {
		if _, ok := p.joinSeen[j]; ok {
			continue
		}
		p.joinSeen[j] = struct{}{}
		p.Joins = append(p.Joins, j)
	}

	pos := make([]int, len(f.Columns))
	for i, c := range f.Columns {
		key := c.key()
		at, ok := p.colIndex[key]
		if !ok {
			at = len(p.Columns)
			p.colIndex[key] = at
			p.Columns = append(p.Columns, c)
			if c.Kind == AccountID {
				p.Accounts = append(p.Accounts, at)
			}
		}
		pos[i] = at
	}
	p.Slots[slot].field = f
	p.Slots[slot].pos = pos

	if f.Load != nil && len(pos) > 0 {
		if _, ok := p.loaderPos[f.Load.Name]; !ok {
			p.loaderPos[f.Load.Name] = len(p.Loaders)
			p.Loaders = append(p.Loaders, LoaderRef{Loader: f.Load, Key: pos[0]})
		}
	}
}

// Empty reports whether no known field was selected.
func (p *Plan) Empty() bool {
	return len(p.Columns) == 0
}

// Row materializes one raw row into values aligned with the requested fields.
func (p *Plan) Row(row []any, s *Scope) ([]any, error) {
	out := make([]any, len(p.Slots))
	for i, slot := range p.Slots {
		if slot.field == nil {
			continue
		}
		v, err := slot.field.Extract(Values{row: row, pos: slot.pos}, s)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", slot.Path, err)
		}
		out[i] = v
	}
	return out, nil
}

// Record materializes one raw row for by-name access.
func (p *Plan) Record(row []any, s *Scope) (Record, error) {
	values, err := p.Row(row, s)
	if err != nil {
		return Record{}, err
	}
	return Record{index: p.slotIndex, values: values}, nil
}

// AccountIDs collects the distinct non-NULL account ids referenced by rows.
func (p *Plan) AccountIDs(rows [][]any) []int64 {
	if len(p.Accounts) == 0 {
		return nil
	}
	seen := map[int64]struct{}{}
	var ids []int64
	for _, row := range rows {
		for _, at := range p.Accounts {
			id, ok := asInt64(row[at])
			if !ok {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// Keys collects the distinct non-NULL keys of a loader across rows.
func (r LoaderRef) Keys(rows [][]any) []int64 {
	seen := map[int64]struct{}{}
	var keys []int64
	for _, row := range rows {
		k, ok := asInt64(row[r.Key])
		if !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// Record is a materialized row addressed by requested field path.
type Record struct {
	index  map[string]int
	values []any
}

// Value returns the value of path, or nil when it was not selected.
func (r Record) Value(path string) any {
	i, ok := r.index[path]
	if !ok {
		return nil
	}
	return r.values[i]
}

// Get returns the value of path as T, or T's zero value.
func Get[T any](r Record, path string) T {
	v, _ := r.Value(path).(T)
	return v
}

// Ptr returns a pointer to the value of path as T, or nil when absent.
func Ptr[T any](r Record, path string) *T {
	v, ok := r.Value(path).(T)
	if !ok {
		return nil
	}
	return &v
}
