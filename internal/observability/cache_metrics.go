package observability

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CacheMetrics holds metrics for the lookup caches and their refresh loop.
type CacheMetrics struct {
	lookups         metric.Int64Counter
	prefetchIDs     metric.Int64Histogram
	prefetchMisses  metric.Int64Histogram
	refreshCounter  metric.Int64Counter
	errorCounter    metric.Int64Counter
	durationHist    metric.Float64Histogram
	lastSuccessUnix atomic.Int64
}

// InitCacheMetrics initializes cache metrics.
func InitCacheMetrics() (*CacheMetrics, error) {
	meter := otel.Meter("chainquery/cache")

	lookups, err := meter.Int64Counter(
		"cache.lookups.total",
		metric.WithDescription("Total number of synchronous cache lookups"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache lookup counter: %w", err)
	}

	prefetchIDs, err := meter.Int64Histogram(
		"cache.prefetch.ids",
		metric.WithDescription("Number of distinct ids in an alias prefetch"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prefetch ids histogram: %w", err)
	}

	prefetchMisses, err := meter.Int64Histogram(
		"cache.prefetch.misses",
		metric.WithDescription("Number of prefetched ids that had to be read from the store"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create prefetch misses histogram: %w", err)
	}

	refreshCounter, err := meter.Int64Counter(
		"cache.refresh.total",
		metric.WithDescription("Total number of level cache refresh attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache refresh counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"cache.refresh.errors.total",
		metric.WithDescription("Total number of failed level cache refresh attempts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache refresh error counter: %w", err)
	}

	durationHist, err := meter.Float64Histogram(
		"cache.refresh.duration",
		metric.WithDescription("Duration of level cache refresh attempts in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache refresh duration histogram: %w", err)
	}

	lastSuccessGauge, err := meter.Int64ObservableGauge(
		"cache.refresh.last_success_unix",
		metric.WithDescription("Unix timestamp of the last successful level cache refresh"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache refresh last success gauge: %w", err)
	}

	metrics := &CacheMetrics{
		lookups:        lookups,
		prefetchIDs:    prefetchIDs,
		prefetchMisses: prefetchMisses,
		refreshCounter: refreshCounter,
		errorCounter:   errorCounter,
		durationHist:   durationHist,
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			value := metrics.lastSuccessUnix.Load()
			if value > 0 {
				observer.ObserveInt64(lastSuccessGauge, value)
			}
			return nil
		},
		lastSuccessGauge,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register cache refresh gauge callback: %w", err)
	}

	return metrics, nil
}

// RecordLookup records a synchronous lookup against one cache.
func (m *CacheMetrics) RecordLookup(ctx context.Context, cache string, hit bool) {
	if m == nil {
		return
	}
	m.lookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache", cache),
		attribute.Bool("hit", hit),
	))
}

// RecordPrefetch records a bulk alias warm-up.
func (m *CacheMetrics) RecordPrefetch(ctx context.Context, ids, misses int) {
	if m == nil || ids == 0 {
		return
	}
	m.prefetchIDs.Record(ctx, int64(ids))
	m.prefetchMisses.Record(ctx, int64(misses))
}

// RecordRefresh records a level cache refresh attempt.
func (m *CacheMetrics) RecordRefresh(ctx context.Context, duration time.Duration, success bool, trigger string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("trigger", trigger),
		attribute.Bool("success", success),
	}

	m.refreshCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.durationHist.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if !success {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
		return
	}

	m.lastSuccessUnix.Store(time.Now().Unix())
}
