package engine

import (
	"context"
	"fmt"
	"time"

	"chainquery/internal/dbexec"
	"chainquery/internal/projection"
	"chainquery/internal/query"

	"golang.org/x/sync/errgroup"
)

// fetch runs q and scans every row into a slice of raw driver values. Rows are
// closed before returning so a scoped connection goes back to the pool before
// any cache lookup or follow-up query.
func fetch(ctx context.Context, exec dbexec.QueryExecutor, q query.SQLQuery, width int) ([][]any, error) {
	rows, err := exec.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([][]any, 0)
	for rows.Next() {
		row := make([]any, width)
		dest := make([]any, width)
		for i := range row {
			dest[i] = &row[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// followups runs the plan's batch loaders concurrently, one per loader, and
// publishes their results into scope once all succeeded.
func (r *Repository[T]) followups(ctx context.Context, plan *projection.Plan, rows [][]any, scope *projection.Scope) error {
	if len(plan.Loaders) == 0 {
		return nil
	}
	results := make([]map[int64]any, len(plan.Loaders))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range plan.Loaders {
		keys := ref.Keys(rows)
		if len(keys) == 0 {
			continue
		}
		g.Go(func() error {
			start := time.Now()
			values, err := ref.Loader.Fetch(gctx, r.cfg.Followups, keys)
			r.cfg.Metrics.RecordFollowup(gctx, ref.Loader.Name, len(keys), err)
			if err != nil {
				return fmt.Errorf("load %s: %w", ref.Loader.Name, err)
			}
			r.cfg.Logger.Debug("follow-up loaded", "loader", ref.Loader.Name, "keys", len(keys), "duration", time.Since(start))
			results[i] = values
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, ref := range plan.Loaders {
		if results[i] != nil {
			scope.SetLoaded(ref.Loader.Name, results[i])
		}
	}
	return nil
}
