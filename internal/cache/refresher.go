package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"chainquery/internal/logging"
	"chainquery/internal/observability"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// LevelSource reads level-indexed rows appended by the indexer.
type LevelSource interface {
	LoadTimes(ctx context.Context, from int64) ([]time.Time, error)
	LoadQuotes(ctx context.Context, from int64) ([]QuoteRow, error)
}

// RefresherConfig controls the level index refresh loop.
type RefresherConfig struct {
	Source      LevelSource
	Times       *Times
	Quotes      *Quotes
	Logger      *logging.Logger
	Metrics     *observability.CacheMetrics
	MinInterval time.Duration
	MaxInterval time.Duration
}

// Refresher keeps Times and Quotes caught up with the store. Polling backs off
// toward MaxInterval while the head does not move and snaps back to
// MinInterval as soon as new levels appear.
type Refresher struct {
	source      LevelSource
	times       *Times
	quotes      *Quotes
	logger      *logging.Logger
	metrics     *observability.CacheMetrics
	minInterval time.Duration
	maxInterval time.Duration
	mu          sync.Mutex
	wg          sync.WaitGroup
}

// NewRefresher loads everything the store has and returns a refresher.
func NewRefresher(ctx context.Context, cfg RefresherConfig) (*Refresher, error) {
	if cfg.Source == nil {
		return nil, errors.New("cache refresher requires a level source")
	}
	if cfg.Times == nil || cfg.Quotes == nil {
		return nil, errors.New("cache refresher requires level time and quote caches")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	minInterval := cfg.MinInterval
	maxInterval := cfg.MaxInterval
	if minInterval <= 0 {
		minInterval = 5 * time.Second
	}
	if maxInterval <= 0 {
		maxInterval = time.Minute
	}
	if maxInterval < minInterval {
		maxInterval = minInterval
	}

	r := &Refresher{
		source:      cfg.Source,
		times:       cfg.Times,
		quotes:      cfg.Quotes,
		logger:      cfg.Logger.WithFields(slog.String("component", "cache_refresh")),
		metrics:     cfg.Metrics,
		minInterval: minInterval,
		maxInterval: maxInterval,
	}

	start := time.Now()
	added, err := r.refresh(ctx)
	r.recordRefresh(time.Since(start), err == nil, "startup")
	if err != nil {
		return nil, err
	}
	r.logger.Info("level caches loaded",
		slog.Int("levels", added),
		slog.Int64("head", r.times.Head()),
	)
	return r, nil
}

// Start begins the background refresh loop.
func (r *Refresher) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.refreshLoop(ctx)
	}()
}

// Wait blocks until the refresh loop exits or the context is canceled.
func (r *Refresher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshNow appends any levels the store has that the caches do not.
func (r *Refresher) RefreshNow(ctx context.Context) error {
	start := time.Now()
	_, err := r.refresh(ctx)
	r.recordRefresh(time.Since(start), err == nil, "manual")
	return err
}

func (r *Refresher) refreshLoop(ctx context.Context) {
	interval := r.minInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("cache refresh stopped")
			return
		case <-timer.C:
			r.refreshOnce(ctx, &interval)
			timer.Reset(interval)
		}
	}
}

func (r *Refresher) refreshOnce(ctx context.Context, interval *time.Duration) {
	start := time.Now()
	added, err := r.refresh(ctx)
	if err != nil {
		r.logger.Warn("cache refresh failed", slog.String("error", err.Error()))
		r.recordRefresh(time.Since(start), false, "poll")
		*interval = r.minInterval
		return
	}
	if added == 0 {
		r.recordRefresh(time.Since(start), true, "poll_no_change")
		*interval = nextInterval(*interval, r.minInterval, r.maxInterval)
		return
	}
	*interval = r.minInterval
	r.recordRefresh(time.Since(start), true, "poll")
	r.logger.Debug("level caches advanced",
		slog.Int("levels", added),
		slog.Int64("head", r.times.Head()),
	)
}

// refresh appends new levels to both caches and reports how many level
// timestamps were added. Quotes may lag behind block times by a few levels.
func (r *Refresher) refresh(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := otel.Tracer("chainquery/cache").Start(ctx, "cache.refresh")
	defer span.End()

	from := r.times.Head() + 1
	ts, err := r.source.LoadTimes(ctx, from)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to load level times from %d: %w", from, err)
	}
	if err := r.times.Append(from, ts); err != nil {
		span.RecordError(err)
		return 0, err
	}

	quotesFrom := r.quotes.Head() + 1
	rows, err := r.source.LoadQuotes(ctx, quotesFrom)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to load quotes from %d: %w", quotesFrom, err)
	}
	if err := r.quotes.Append(quotesFrom, rows); err != nil {
		span.RecordError(err)
		return 0, err
	}

	span.SetAttributes(
		attribute.Int64("cache.head", r.times.Head()),
		attribute.Int("cache.levels_added", len(ts)),
	)
	return len(ts), nil
}

func nextInterval(current, minInterval, maxInterval time.Duration) time.Duration {
	if current < minInterval {
		return minInterval
	}
	next := current + current/2
	if next > maxInterval {
		return maxInterval
	}
	return next
}

func (r *Refresher) recordRefresh(duration time.Duration, success bool, trigger string) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordRefresh(context.Background(), duration, success, trigger)
}
