package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// QueryMetrics holds custom metrics for engine queries
type QueryMetrics struct {
	queryDuration  metric.Float64Histogram
	queryCounter   metric.Int64Counter
	errorCounter   metric.Int64Counter
	activeQueries  metric.Int64UpDownCounter
	resultRows     metric.Int64Histogram
	projectedCols  metric.Int64Histogram
	followupKeys   metric.Int64Histogram
	followupErrors metric.Int64Counter
}

// InitQueryMetrics initializes engine query metrics
func InitQueryMetrics() (*QueryMetrics, error) {
	meter := otel.Meter("chainquery")

	queryDuration, err := meter.Float64Histogram(
		"chainquery.query.duration",
		metric.WithDescription("Duration of engine queries in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	queryCounter, err := meter.Int64Counter(
		"chainquery.queries.total",
		metric.WithDescription("Total number of engine queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"chainquery.query.errors.total",
		metric.WithDescription("Total number of failed engine queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query error counter: %w", err)
	}

	activeQueries, err := meter.Int64UpDownCounter(
		"chainquery.queries.active",
		metric.WithDescription("Number of engine queries in flight"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active queries counter: %w", err)
	}

	resultRows, err := meter.Int64Histogram(
		"chainquery.query.rows",
		metric.WithDescription("Number of rows returned by engine queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create result rows histogram: %w", err)
	}

	projectedCols, err := meter.Int64Histogram(
		"chainquery.query.columns",
		metric.WithDescription("Number of distinct columns selected by a planned projection"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create projected columns histogram: %w", err)
	}

	followupKeys, err := meter.Int64Histogram(
		"chainquery.followup.keys",
		metric.WithDescription("Number of keys resolved by a follow-up batch query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create follow-up keys histogram: %w", err)
	}

	followupErrors, err := meter.Int64Counter(
		"chainquery.followup.errors.total",
		metric.WithDescription("Total number of failed follow-up batch queries"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create follow-up error counter: %w", err)
	}

	return &QueryMetrics{
		queryDuration:  queryDuration,
		queryCounter:   queryCounter,
		errorCounter:   errorCounter,
		activeQueries:  activeQueries,
		resultRows:     resultRows,
		projectedCols:  projectedCols,
		followupKeys:   followupKeys,
		followupErrors: followupErrors,
	}, nil
}

// RecordQuery records one engine call with its duration and outcome.
// shape is one of "objects", "fields", "field" or "count".
func (m *QueryMetrics) RecordQuery(ctx context.Context, duration time.Duration, entity, shape string, rows int, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("entity", entity),
		attribute.String("shape", shape),
		attribute.Bool("success", err == nil),
	}

	m.queryDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.queryCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if err != nil {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("entity", entity),
			attribute.String("shape", shape),
		))
		return
	}
	m.resultRows.Record(ctx, int64(rows), metric.WithAttributes(
		attribute.String("entity", entity),
	))
}

// RecordProjection records how many distinct columns a projection selected.
func (m *QueryMetrics) RecordProjection(ctx context.Context, entity string, columns int) {
	if m == nil {
		return
	}
	m.projectedCols.Record(ctx, int64(columns), metric.WithAttributes(
		attribute.String("entity", entity),
	))
}

// RecordFollowup records a follow-up batch load.
func (m *QueryMetrics) RecordFollowup(ctx context.Context, loader string, keys int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.followupErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("loader", loader)))
		return
	}
	m.followupKeys.Record(ctx, int64(keys), metric.WithAttributes(attribute.String("loader", loader)))
}

// IncrementActiveQueries increments the in-flight query counter
func (m *QueryMetrics) IncrementActiveQueries(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeQueries.Add(ctx, 1)
}

// DecrementActiveQueries decrements the in-flight query counter
func (m *QueryMetrics) DecrementActiveQueries(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeQueries.Add(ctx, -1)
}

// InitMetrics initializes all custom metrics.
func InitMetrics(logger *slog.Logger) (*QueryMetrics, *CacheMetrics, error) {
	queryMetrics, err := InitQueryMetrics()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize query metrics: %w", err)
	}
	cacheMetrics, err := InitCacheMetrics()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize cache metrics: %w", err)
	}

	logger.Info("custom query and cache metrics initialized")
	return queryMetrics, cacheMetrics, nil
}
