// Package engine runs filter-projection queries for one entity kind at a time.
// A Repository composes a single SELECT from a request, executes it on a
// connection scoped to that query, warms the alias cache for every account id
// in the result, runs follow-up batch loads concurrently and finally
// materializes rows either as domain objects or as positional field arrays.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chainquery/internal/dbexec"
	"chainquery/internal/denorm"
	"chainquery/internal/filter"
	"chainquery/internal/logging"
	"chainquery/internal/observability"
	"chainquery/internal/projection"
	"chainquery/internal/query"
	"chainquery/internal/sqlutil"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Definition is the static description of one entity kind.
type Definition[T any] struct {
	Name string
	// Table and Alias are unquoted; Identity and every expression in Filters,
	// Sorts and Schema are pre-quoted for the dialect the definition was built for.
	Table    string
	Alias    string
	Identity string
	Filters  filter.Columns
	Sorts    query.SortMap
	Schema   projection.Schema
	// Default lists the fields Build reads; Get plans exactly these.
	Default []string
	Build   func(r projection.Record) T
}

// Config wires a repository to the store and caches.
type Config struct {
	Dialect sqlutil.Dialect
	// Executor runs the main query. Production uses a ScopedExecutor so the
	// connection is returned before rows are materialized.
	Executor dbexec.QueryExecutor
	// Followups runs follow-up batch loads; defaults to Executor.
	Followups dbexec.QueryExecutor
	Resolver  *denorm.Resolver
	Limits    query.Limits
	Metrics   *observability.QueryMetrics
	Logger    *logging.Logger
}

// Request carries the typed filter and pagination of one call.
type Request struct {
	Filter filter.Set
	Page   query.Page
	// Quotes selects the currency symbols rendered by quote fields.
	Quotes []string
}

// Repository runs queries for one entity kind.
type Repository[T any] struct {
	def    Definition[T]
	cfg    Config
	from   string
	tracer trace.Tracer
}

// NewRepository creates a repository for def.
func NewRepository[T any](cfg Config, def Definition[T]) *Repository[T] {
	if cfg.Followups == nil {
		cfg.Followups = cfg.Executor
	}
	if cfg.Limits.Default <= 0 || cfg.Limits.Max <= 0 {
		cfg.Limits = query.DefaultLimits()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	cfg.Logger = cfg.Logger.WithFields(slog.String("component", "engine"), slog.String("entity", def.Name))
	return &Repository[T]{
		def:    def,
		cfg:    cfg,
		from:   cfg.Dialect.Table(def.Table, def.Alias),
		tracer: otel.Tracer("chainquery/engine"),
	}
}

// Name returns the entity name.
func (r *Repository[T]) Name() string {
	return r.def.Name
}

// Fields lists the selectable top-level field names.
func (r *Repository[T]) Fields() []string {
	return r.def.Schema.Names()
}

// FilterColumns exposes the entity's filterable fields.
func (r *Repository[T]) FilterColumns() filter.Columns {
	return r.def.Filters
}

// Get returns full domain objects.
func (r *Repository[T]) Get(ctx context.Context, req Request) (out []T, err error) {
	plan := projection.Build(r.def.Schema, r.def.Default)
	ctx, finish := r.begin(ctx, "objects", req, len(r.def.Default))
	defer func() { finish(len(out), err) }()

	rows, scope, err := r.run(ctx, req, plan)
	if err != nil {
		return nil, err
	}
	out = make([]T, 0, len(rows))
	for _, row := range rows {
		rec, err := plan.Record(row, scope)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.def.Name, err)
		}
		out = append(out, r.def.Build(rec))
	}
	return out, nil
}

// GetFields returns one array per row, positionally aligned with fields.
// Unknown fields yield nil at their position; a selection with no known
// field yields an empty result without querying.
func (r *Repository[T]) GetFields(ctx context.Context, req Request, fields []string) (out [][]any, err error) {
	plan := projection.Build(r.def.Schema, fields)
	ctx, finish := r.begin(ctx, "fields", req, len(fields))
	defer func() { finish(len(out), err) }()

	if plan.Empty() {
		return [][]any{}, nil
	}
	rows, scope, err := r.run(ctx, req, plan)
	if err != nil {
		return nil, err
	}
	out = make([][]any, 0, len(rows))
	for _, row := range rows {
		values, err := plan.Row(row, scope)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.def.Name, err)
		}
		out = append(out, values)
	}
	return out, nil
}

// GetField returns a single field per row.
func (r *Repository[T]) GetField(ctx context.Context, req Request, field string) (out []any, err error) {
	plan := projection.Build(r.def.Schema, []string{field})
	ctx, finish := r.begin(ctx, "field", req, 1)
	defer func() { finish(len(out), err) }()

	if plan.Empty() {
		return []any{}, nil
	}
	rows, scope, err := r.run(ctx, req, plan)
	if err != nil {
		return nil, err
	}
	out = make([]any, 0, len(rows))
	for _, row := range rows {
		values, err := plan.Row(row, scope)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.def.Name, err)
		}
		out = append(out, values[0])
	}
	return out, nil
}

// Count returns the number of rows matching set.
func (r *Repository[T]) Count(ctx context.Context, set filter.Set) (n int, err error) {
	ctx, finish := r.begin(ctx, "count", Request{Filter: set}, 0)
	defer func() { finish(1, err) }()

	conds, err := filter.Compile(r.cfg.Dialect, r.def.Filters, set)
	if err != nil {
		return 0, err
	}
	q, err := query.ComposeCount(r.cfg.Dialect, query.Statement{Table: r.from, Where: conds})
	if err != nil {
		return 0, fmt.Errorf("failed to compose %s count: %w", r.def.Name, err)
	}
	rows, err := r.cfg.Executor.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", r.def.Name, err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("failed to scan %s count: %w", r.def.Name, err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", r.def.Name, err)
	}
	return n, nil
}

// run composes and executes the main query, then prepares the scope
// extractors read from.
func (r *Repository[T]) run(ctx context.Context, req Request, plan *projection.Plan) ([][]any, *projection.Scope, error) {
	conds, err := filter.Compile(r.cfg.Dialect, r.def.Filters, req.Filter)
	if err != nil {
		return nil, nil, err
	}

	columns := make([]string, len(plan.Columns))
	for i, c := range plan.Columns {
		columns[i] = selectExpr(r.cfg.Dialect, c)
	}
	r.cfg.Metrics.RecordProjection(ctx, r.def.Name, len(columns))

	q, err := query.Compose(r.cfg.Dialect, query.Statement{
		Table:    r.from,
		Columns:  columns,
		Joins:    plan.Joins,
		Where:    conds,
		Identity: r.def.Identity,
		Sorts:    r.def.Sorts,
		Page:     req.Page.Normalize(r.cfg.Limits),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compose %s query: %w", r.def.Name, err)
	}

	rows, err := fetch(ctx, r.cfg.Executor, q, len(columns))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query %s: %w", r.def.Name, err)
	}

	scope := projection.NewScope(r.cfg.Resolver, req.Quotes)
	if len(rows) == 0 {
		return rows, scope, nil
	}
	if ids := plan.AccountIDs(rows); len(ids) > 0 && r.cfg.Resolver != nil {
		aliases, err := r.cfg.Resolver.Prefetch(ctx, ids)
		if err != nil {
			return nil, nil, err
		}
		scope.Warm(aliases)
	}
	if err := r.followups(ctx, plan, rows, scope); err != nil {
		return nil, nil, err
	}
	return rows, scope, nil
}

func (r *Repository[T]) begin(ctx context.Context, shape string, req Request, fields int) (context.Context, func(rows int, err error)) {
	info := observability.QueryInfo{
		Entity:      r.def.Name,
		Shape:       shape,
		FieldCount:  fields,
		FilterCount: len(req.Filter),
		SortKey:     req.Page.Sort.Key,
		Desc:        req.Page.Sort.Desc,
		Limit:       req.Page.Limit,
		Offset:      req.Page.Offset,
		Cursor:      req.Page.Cursor != nil,
	}
	ctx, span := r.tracer.Start(ctx, "engine."+shape, trace.WithAttributes(observability.QuerySpanAttributes(info)...))
	r.cfg.Metrics.IncrementActiveQueries(ctx)
	start := time.Now()

	return ctx, func(rows int, err error) {
		duration := time.Since(start)
		r.cfg.Metrics.DecrementActiveQueries(ctx)
		r.cfg.Metrics.RecordQuery(ctx, duration, r.def.Name, shape, rows, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			r.cfg.Logger.Debug("query failed",
				append(observability.QueryLogFields(ctx, info),
					slog.Duration("duration", duration),
					slog.String("error", err.Error()))...)
		}
		span.End()
	}
}

func selectExpr(d sqlutil.Dialect, c projection.Column) string {
	if c.As == "" {
		return c.Expr
	}
	return c.Expr + " AS " + d.Quote(c.As)
}
