// Package serverapp wires configuration, the store, caches, the query engine
// and the HTTP server into one lifecycle.
package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"

	"chainquery/internal/cache"
	"chainquery/internal/config"
	"chainquery/internal/engine"
	"chainquery/internal/logging"
	"chainquery/internal/observability"
	"chainquery/internal/sqlutil"
	"chainquery/internal/tlscert"
)

// App owns runtime resources for the chainquery server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider

	database string
	dialect  sqlutil.Dialect

	meterProvider  *observability.MeterProvider
	queryMetrics   *observability.QueryMetrics
	cacheMetrics   *observability.CacheMetrics
	tracerProvider *observability.TracerProvider

	db         *sql.DB
	dbStatsReg interface{ Unregister() error }

	accounts      *cache.Accounts
	refresher     *cache.Refresher
	refreshCancel context.CancelFunc
	registry      *engine.Registry

	mux     *http.ServeMux
	handler http.Handler

	serverAddr string
	srv        *http.Server
	certs      *tlscert.Source

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error

	shutdownOnce sync.Once
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	database, err := cfg.Database.EffectiveDatabaseName()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve effective database configuration: %w", err)
	}
	dialect, err := sqlutil.DialectByName(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		database: database,
		dialect:  dialect,
	}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Handler returns the fully wrapped HTTP handler. It is nil before Init.
func (a *App) Handler() http.Handler {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.handler
}
