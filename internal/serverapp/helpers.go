package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"chainquery/internal/cache"
	"chainquery/internal/config"
	"chainquery/internal/dbexec"
	"chainquery/internal/denorm"
	"chainquery/internal/engine"
	"chainquery/internal/entity"
	"chainquery/internal/httpapi"
	"chainquery/internal/logging"
	"chainquery/internal/middleware"
	"chainquery/internal/observability"
	"chainquery/internal/query"
	"chainquery/internal/sqlutil"
	"chainquery/internal/tlscert"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func exporterConfig(c config.OTLPConfig) observability.OTLPExporterConfig {
	return observability.OTLPExporterConfig{
		Endpoint:    c.Endpoint,
		Protocol:    c.Protocol,
		Insecure:    c.Insecure,
		TLSCertFile: c.TLSCertFile,
		Headers:     c.Headers,
		Timeout:     c.Timeout,
		Compression: c.Compression,
	}
}

func observabilityConfig(cfg *config.Config, otlp config.OTLPConfig) observability.Config {
	return observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig:       exporterConfig(otlp),
	}
}

// InitLogger builds the process logger and, when log export is enabled, the
// OTLP logger provider behind it.
func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(observabilityConfig(cfg, logsConfig))
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.QueryMetrics, *observability.CacheMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil, nil
	}

	meterProvider, err := observability.InitMeterProvider(observabilityConfig(cfg, config.OTLPConfig{}))
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info("OpenTelemetry metrics initialized",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("environment", cfg.Observability.Environment),
	)

	queryMetrics, cacheMetrics, err := observability.InitMetrics(logger.Logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return meterProvider, queryMetrics, cacheMetrics, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)

	return observability.InitTracerProvider(observabilityConfig(cfg, tracesConfig))
}

func dbSystem(dialect sqlutil.Dialect) attribute.KeyValue {
	if dialect.Name == sqlutil.MySQL.Name {
		return semconv.DBSystemMySQL
	}
	return semconv.DBSystemPostgreSQL
}

func connectDB(cfg *config.Config, logger *logging.Logger, dialect sqlutil.Dialect) (*sql.DB, interface{ Unregister() error }, error) {
	if err := cfg.Database.RegisterTLS(); err != nil {
		return nil, nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}
	dsn := cfg.Database.DSN()

	if !cfg.Observability.MetricsEnabled && !cfg.Observability.TracingEnabled {
		db, err := sql.Open(dialect.DriverName, dsn)
		return db, nil, err
	}

	opts := []otelsql.Option{otelsql.WithAttributes(dbSystem(dialect))}
	if cfg.Observability.TracingEnabled {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{
			DisableErrSkip: true,
		}))
		if cfg.Observability.SQLCommenterEnabled {
			opts = append(opts, otelsql.WithSQLCommenter(true))
		}
	} else if cfg.Observability.SQLCommenterEnabled {
		logger.Warn("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
	}

	db, err := otelsql.Open(dialect.DriverName, dsn, opts...)
	if err != nil {
		return nil, nil, err
	}

	var dbStatsReg interface{ Unregister() error }
	if cfg.Observability.MetricsEnabled {
		dbStatsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(dbSystem(dialect)))
		if err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		}
	}

	logger.Info("database instrumentation enabled",
		slog.Bool("metrics", cfg.Observability.MetricsEnabled),
		slog.Bool("tracing", cfg.Observability.TracingEnabled),
		slog.Bool("sqlcommenter", cfg.Observability.SQLCommenterEnabled && cfg.Observability.TracingEnabled),
	)
	return db, dbStatsReg, nil
}

func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, database string) error {
	db.SetMaxOpenConns(cfg.Database.Pool.MaxOpen)
	db.SetMaxIdleConns(cfg.Database.Pool.MaxIdle)
	db.SetConnMaxLifetime(cfg.Database.Pool.MaxLifetime)

	if err := waitForDatabase(ctx, cfg, logger, db); err != nil {
		return err
	}

	logger.Info("connected to database",
		slog.String("database", database),
		slog.Int("pool_max_open", cfg.Database.Pool.MaxOpen),
		slog.Int("pool_max_idle", cfg.Database.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", cfg.Database.Pool.MaxLifetime),
	)
	return nil
}

// waitForDatabase pings until the store answers or the connection timeout
// elapses. A zero timeout tries once.
func waitForDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	timeout := cfg.Database.ConnectionTimeout
	interval := cfg.Database.ConnectionRetryInterval
	if interval <= 0 {
		interval = time.Second
	}

	if timeout == 0 {
		return db.PingContext(ctx)
	}

	deadline := time.Now().Add(timeout)
	for attempt := 1; ; attempt++ {
		err := db.PingContext(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		interval = min(interval*2, 30*time.Second)
	}
}

// caches bundles the lookup caches and the resolver reading them.
type caches struct {
	accounts  *cache.Accounts
	times     *cache.Times
	quotes    *cache.Quotes
	refresher *cache.Refresher
	resolver  *denorm.Resolver
}

// buildCaches creates the caches and loads every indexed level and quote.
func buildCaches(ctx context.Context, cfg *config.Config, logger *logging.Logger, store *cache.SQLStore, metrics *observability.CacheMetrics) (*caches, error) {
	accounts, err := cache.NewAccounts(cfg.Cache.AccountCapacity, store)
	if err != nil {
		return nil, err
	}
	accounts.SetMetrics(metrics)

	c := &caches{
		accounts: accounts,
		times:    cache.NewTimes(nil),
		quotes:   cache.NewQuotes(nil),
	}
	c.refresher, err = cache.NewRefresher(ctx, cache.RefresherConfig{
		Source:      store,
		Times:       c.times,
		Quotes:      c.quotes,
		Logger:      logger,
		Metrics:     metrics,
		MinInterval: cfg.Cache.RefreshMinInterval,
		MaxInterval: cfg.Cache.RefreshMaxInterval,
	})
	if err != nil {
		return nil, err
	}
	c.resolver = denorm.New(c.accounts, c.times, c.quotes)
	return c, nil
}

func queryLimits(cfg *config.Config) query.Limits {
	limits := query.DefaultLimits()
	if cfg.Query.DefaultLimit > 0 {
		limits.Default = cfg.Query.DefaultLimit
	}
	if cfg.Query.MaxLimit > 0 {
		limits.Max = cfg.Query.MaxLimit
	}
	return limits
}

func buildRegistry(cfg *config.Config, logger *logging.Logger, db *sql.DB, dialect sqlutil.Dialect, c *caches, metrics *observability.QueryMetrics) *engine.Registry {
	registry := engine.NewRegistry()
	entity.Register(registry, engine.Config{
		Dialect:   dialect,
		Executor:  dbexec.NewScopedExecutor(db),
		Followups: dbexec.NewStandardExecutor(db),
		Resolver:  c.resolver,
		Limits:    queryLimits(cfg),
		Metrics:   metrics,
		Logger:    logger,
	})
	logger.Info("entity repositories registered", slog.Any("entities", registry.Names()))
	return registry
}

func buildRouter(cfg *config.Config, logger *logging.Logger, db *sql.DB, registry *engine.Registry, c *caches, meterProvider *observability.MeterProvider) *http.ServeMux {
	api := http.NewServeMux()
	httpapi.NewHandler(registry, c.resolver, logger).Register(api)
	apiHandler := middleware.LoggingMiddleware(logger)(api)

	mux := http.NewServeMux()
	mux.Handle("/v1", apiHandler)
	mux.Handle("/v1/", apiHandler)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.Redirect(w, r, "/v1", http.StatusFound)
			return
		}
		http.NotFound(w, r)
	})

	mux.HandleFunc("/health", healthHandler(db, cfg.Server.HealthCheckTimeout))
	if cfg.Server.AdminEnabled {
		mux.Handle("/admin/refresh-caches", middleware.LoggingMiddleware(logger)(refreshHandler(c.refresher)))
	} else {
		logger.Debug("admin endpoints disabled")
	}

	if cfg.Observability.MetricsEnabled && meterProvider != nil {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info("metrics endpoint enabled", slog.String("path", "/metrics"))
	}

	return mux
}

func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, handler http.Handler) http.Handler {
	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r)
			}),
		)
		logger.Info("HTTP instrumentation enabled")
	}

	if cfg.Server.CORSEnabled {
		handler = middleware.CORSMiddleware(middleware.CORSConfig{
			Enabled:          cfg.Server.CORSEnabled,
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   cfg.Server.CORSAllowedMethods,
			AllowedHeaders:   cfg.Server.CORSAllowedHeaders,
			ExposeHeaders:    cfg.Server.CORSExposeHeaders,
			AllowCredentials: cfg.Server.CORSAllowCredentials,
			MaxAge:           cfg.Server.CORSMaxAge,
		})(handler)
	}

	if cfg.Server.RateLimitEnabled {
		handler = middleware.RateLimitMiddleware(middleware.RateLimitConfig{
			Enabled:   cfg.Server.RateLimitEnabled,
			RPS:       cfg.Server.RateLimitRPS,
			Burst:     cfg.Server.RateLimitBurst,
			PerClient: cfg.Server.RateLimitPerClient,
		})(handler)
	}

	return handler
}

func httpRootSpanName(r *http.Request) string {
	if r == nil {
		return "HTTP /*"
	}

	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}

	return method + " " + normalizeHTTPSpanRoute(r.URL.Path)
}

// normalizeHTTPSpanRoute keeps span names low-cardinality by collapsing entity
// names into route templates.
func normalizeHTTPSpanRoute(rawPath string) string {
	switch rawPath {
	case "/", "/v1", "/health", "/metrics", "/admin/refresh-caches":
		return rawPath
	}
	rest, ok := strings.CutPrefix(rawPath, "/v1/")
	if !ok || rest == "" {
		return "/*"
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 1:
		return "/v1/{entity}"
	case len(parts) == 2 && parts[1] == "count":
		return "/v1/{entity}/count"
	}
	return "/*"
}

func tlsEnabled(cfg *config.Config) bool {
	return cfg.Server.TLSMode != "" && cfg.Server.TLSMode != "off"
}

func buildServer(cfg *config.Config, logger *logging.Logger, handler http.Handler, serverAddr string) (*http.Server, *tlscert.Source, error) {
	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	if !tlsEnabled(cfg) {
		return srv, nil, nil
	}

	certs, err := tlscert.New(tlscert.Config{
		Mode:     tlscert.Mode(cfg.Server.TLSMode),
		CertFile: cfg.Server.TLSCertFile,
		KeyFile:  cfg.Server.TLSKeyFile,
		Dir:      cfg.Server.TLSAutoCertDir,
	}, logger.Logger)
	if err != nil {
		return nil, nil, err
	}
	srv.TLSConfig = certs.TLSConfig()

	logger.Info("TLS enabled",
		slog.String("mode", cfg.Server.TLSMode),
		slog.String("cert_source", certs.Description()))
	return srv, certs, nil
}

func startServer(cfg *config.Config, logger *logging.Logger, srv *http.Server, serverAddr string) chan error {
	serverErrors := make(chan error, 1)
	secure := tlsEnabled(cfg)
	go func() {
		protocol := "http"
		if secure {
			protocol = "https"
		}

		logAttrs := []any{
			slog.String("protocol", protocol),
			slog.String("address", serverAddr),
			slog.String("api_endpoint", "/v1"),
			slog.String("health_endpoint", "/health"),
			slog.Int("default_limit", cfg.Query.DefaultLimit),
			slog.Int("max_limit", cfg.Query.MaxLimit),
			slog.String("log_level", cfg.Observability.Logging.Level),
		}
		if cfg.Observability.MetricsEnabled {
			logAttrs = append(logAttrs, slog.String("metrics_endpoint", "/metrics"))
		}
		if cfg.Server.RateLimitEnabled {
			logAttrs = append(logAttrs,
				slog.Float64("rate_limit_rps", cfg.Server.RateLimitRPS),
				slog.Int("rate_limit_burst", cfg.Server.RateLimitBurst),
				slog.Bool("rate_limit_per_client", cfg.Server.RateLimitPerClient),
			)
		}
		logAttrs = append(logAttrs, slog.Bool("tls_enabled", secure))

		logger.Info("server starting", logAttrs...)

		var err error
		if secure {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()
	return serverErrors
}

// healthHandler returns an HTTP handler for health checks
func healthHandler(db *sql.DB, timeout time.Duration) http.HandlerFunc {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			reqLogger.Error("health check failed",
				slog.String("error", err.Error()),
				slog.String("check", "database"),
			)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprint(w, `{"status":"unhealthy","database":"failed"}`)
			return
		}

		reqLogger.Debug("health check passed")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, `{"status":"healthy","database":"ok"}`)
	}
}

// refreshHandler forces a level time and quote refresh.
func refreshHandler(refresher *cache.Refresher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			_, _ = fmt.Fprint(w, `{"error":"method not allowed"}`)
			return
		}
		if refresher == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprint(w, `{"status":"error","message":"cache refresh unavailable"}`)
			return
		}

		reqLogger.Info("admin endpoint accessed",
			slog.String("operation", "cache_refresh"),
			slog.String("remote_addr", r.RemoteAddr),
		)

		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer cancel()
		if err := refresher.RefreshNow(ctx); err != nil {
			reqLogger.Error("cache refresh failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = fmt.Fprint(w, `{"status":"error","message":"cache refresh failed"}`)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, `{"status":"ok"}`)
	}
}
