package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"chainquery/internal/cache"
	"chainquery/internal/engine"
	"chainquery/internal/filter"
	"chainquery/internal/query"
)

// errBadParam reports a malformed query parameter.
var errBadParam = errors.New("invalid parameter")

// unknownAccount stands in for addresses the store has never seen. Account ids
// are positive, so it matches no row.
const unknownAccount int64 = -1

// selectMode controls the response shape of a selection.
type selectMode int

const (
	selectNone selectMode = iota
	// selectFields renders one object per row keyed by field path.
	selectFields
	// selectValues renders one array per row.
	selectValues
)

// params is a parsed list request.
type params struct {
	req    engine.Request
	fields []string
	mode   selectMode
}

// AddressResolver maps account addresses to ids.
type AddressResolver interface {
	AccountID(ctx context.Context, address string) (int64, bool, error)
}

type parser struct {
	ctx      context.Context
	cols     filter.Columns
	resolver AddressResolver
}

// parse reads a list request. Every parameter that is not a selection,
// pagination or quote parameter is a filter. Parameters are read in key order
// so the composed SQL is stable for a given query string. A repeated filter
// key adds one constraint per value; other repeated keys keep the last value.
func (p *parser) parse(values url.Values) (params, error) {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var out params
	for _, key := range keys {
		vals := values[key]
		if len(vals) == 0 {
			continue
		}
		raw := vals[len(vals)-1]
		var err error
		switch {
		case key == "select" || key == "select.fields":
			out.fields, out.mode = splitList(raw), selectFields
		case key == "select.values":
			out.fields, out.mode = splitList(raw), selectValues
		case key == "sort" || key == "sort.asc":
			out.req.Page.Sort = query.Sort{Key: strings.TrimSpace(raw)}
		case key == "sort.desc":
			out.req.Page.Sort = query.Sort{Key: strings.TrimSpace(raw), Desc: true}
		case key == "offset" || key == "offset.el":
			out.req.Page.Offset, err = parseInt(key, raw)
		case key == "offset.pg":
			var n int
			n, err = parseInt(key, raw)
			out.req.Page.Number = &n
		case key == "offset.cr":
			var c int64
			c, err = strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
			if err != nil {
				err = fmt.Errorf("%w: %s must be an integer", errBadParam, key)
			}
			out.req.Page.Cursor = &c
		case key == "limit":
			out.req.Page.Limit, err = parseInt(key, raw)
		case key == "quote":
			out.req.Quotes, err = parseQuotes(raw)
		default:
			var preds []filter.Predicate
			preds, err = p.predicates(key, vals)
			out.req.Filter = out.req.Filter.And(preds...)
		}
		if err != nil {
			return params{}, err
		}
	}
	return out, nil
}

// filters reads only the filter parameters of values, as used by count.
func (p *parser) filters(values url.Values) (filter.Set, error) {
	parsed, err := p.parse(values)
	if err != nil {
		return nil, err
	}
	return parsed.req.Filter, nil
}

// predicates parses every value of a filter key.
func (p *parser) predicates(key string, vals []string) ([]filter.Predicate, error) {
	preds := make([]filter.Predicate, 0, len(vals))
	for _, raw := range vals {
		var (
			pred filter.Predicate
			err  error
		)
		if roles, ok := strings.CutPrefix(key, "anyof."); ok {
			pred, err = p.anyOf(roles, raw)
		} else {
			pred, err = p.constraint(key, raw)
		}
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)
	}
	return preds, nil
}

// constraint parses "field" or "field.op".
func (p *parser) constraint(key, raw string) (filter.Predicate, error) {
	field, op := splitOp(key)
	col, ok := p.cols[field]
	if !ok {
		return nil, fmt.Errorf("%w: %s", filter.ErrUnknownField, field)
	}
	op, value, err := p.operand(col, op, raw)
	if err != nil {
		return nil, err
	}
	return filter.Where(field, op, value), nil
}

// anyOf parses "role1.role2[.op]".
func (p *parser) anyOf(key, raw string) (filter.Predicate, error) {
	path, op := splitOp(key)
	roles := strings.Split(path, ".")
	if len(roles) < 2 {
		return nil, fmt.Errorf("%w: anyof needs at least two fields", errBadParam)
	}
	col, ok := p.cols[roles[0]]
	if !ok {
		return nil, fmt.Errorf("%w: %s", filter.ErrUnknownField, roles[0])
	}
	op, value, err := p.operand(col, op, raw)
	if err != nil {
		return nil, err
	}
	return filter.AnyOf{Roles: roles, Op: op, Value: value}, nil
}

// operand converts raw into the value op expects for col. A null test takes
// an optional boolean that flips it.
func (p *parser) operand(col filter.Column, op filter.Op, raw string) (filter.Op, any, error) {
	switch op {
	case filter.Null, filter.NotNull:
		if raw == "" {
			return op, nil, nil
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return op, nil, fmt.Errorf("%w: %q is not a boolean", filter.ErrInvalidValue, raw)
		}
		if !b {
			if op == filter.Null {
				op = filter.NotNull
			} else {
				op = filter.Null
			}
		}
		return op, nil, nil

	case filter.In, filter.NotIn:
		items := splitList(raw)
		values := make([]any, 0, len(items))
		for _, item := range items {
			v, err := p.scalar(col, item)
			if err != nil {
				return op, nil, err
			}
			values = append(values, v)
		}
		return op, values, nil
	}
	v, err := p.scalar(col, raw)
	return op, v, err
}

func (p *parser) scalar(col filter.Column, raw string) (any, error) {
	if col.Kind != filter.KindAccount {
		return col.Parse(raw)
	}
	raw = strings.TrimSpace(raw)
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return id, nil
	}
	if p.resolver == nil {
		return unknownAccount, nil
	}
	id, ok, err := p.resolver.AccountID(p.ctx, raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return unknownAccount, nil
	}
	return id, nil
}

// splitOp splits a trailing operator name off key. Keys without a known
// operator suffix compare for equality.
func splitOp(key string) (string, filter.Op) {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		if op, ok := filter.ParseOp(key[i+1:]); ok {
			return key[:i], op
		}
	}
	return key, filter.Eq
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInt(key, raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errBadParam, key)
	}
	return n, nil
}

func parseQuotes(raw string) ([]string, error) {
	symbols := splitList(strings.ToLower(raw))
	for _, s := range symbols {
		if _, ok := cache.SymbolIndex(s); !ok {
			return nil, fmt.Errorf("%w: unknown quote symbol %q", errBadParam, s)
		}
	}
	return symbols, nil
}
