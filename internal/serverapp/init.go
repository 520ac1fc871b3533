package serverapp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"chainquery/internal/cache"
	"chainquery/internal/dbexec"
)

// Init initializes all runtime resources. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	meterProvider, queryMetrics, cacheMetrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	a.logger.Info("connecting to database",
		slog.String("driver", a.dialect.Name),
		slog.String("host", a.cfg.Database.Host),
		slog.Int("port", a.cfg.Database.Port),
		slog.String("database", a.database),
		slog.Bool("dsn_present", strings.TrimSpace(a.cfg.Database.ConnectionString) != ""),
	)

	db, dbStatsReg, err := connectDB(a.cfg, a.logger, a.dialect)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanup.push("database", func(_ context.Context) error {
		if dbStatsReg != nil {
			if err := dbStatsReg.Unregister(); err != nil {
				a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
			}
		}
		return db.Close()
	})

	if err := configureDatabase(ctx, a.cfg, a.logger, db, a.database); err != nil {
		return fmt.Errorf("failed to verify database connection: %w", err)
	}

	store := cache.NewSQLStore(dbexec.NewStandardExecutor(db), a.dialect)
	lookups, err := buildCaches(ctx, a.cfg, a.logger, store, cacheMetrics)
	if err != nil {
		return fmt.Errorf("failed to load caches: %w", err)
	}
	refreshCancel := func() {}
	if lookups.refresher != nil && a.cfg.Cache.RefreshEnabled {
		var refreshCtx context.Context
		refreshCtx, refreshCancel = context.WithCancel(context.Background())
		lookups.refresher.Start(refreshCtx)
		cleanup.push("cache refresher", func(shutdownCtx context.Context) error {
			refreshCancel()
			return lookups.refresher.Wait(shutdownCtx)
		})
	}

	registry := buildRegistry(a.cfg, a.logger, db, a.dialect, lookups, queryMetrics)

	mux := buildRouter(a.cfg, a.logger, db, registry, lookups, meterProvider)
	handler := wrapHTTPHandler(a.cfg, a.logger, mux)

	serverAddr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	srv, certs, err := buildServer(a.cfg, a.logger, handler, serverAddr)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	cleanup.push("HTTP server", func(shutdownCtx context.Context) error {
		return srv.Shutdown(shutdownCtx)
	})

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.queryMetrics = queryMetrics
	a.cacheMetrics = cacheMetrics
	a.tracerProvider = tracerProvider
	a.db = db
	a.dbStatsReg = dbStatsReg
	a.accounts = lookups.accounts
	a.refresher = lookups.refresher
	a.refreshCancel = refreshCancel
	a.registry = registry
	a.mux = mux
	a.handler = handler
	a.serverAddr = serverAddr
	a.srv = srv
	a.certs = certs
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}
