package serverapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chainquery/internal/cache"
	"chainquery/internal/config"
	"chainquery/internal/denorm"
	"chainquery/internal/engine"
	"chainquery/internal/sqlutil"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLevels struct {
	times []time.Time
}

func (s staticLevels) LoadTimes(_ context.Context, from int64) ([]time.Time, error) {
	if from >= int64(len(s.times)) {
		return nil, nil
	}
	return s.times[from:], nil
}

func (staticLevels) LoadQuotes(context.Context, int64) ([]cache.QuoteRow, error) {
	return nil, nil
}

func testCaches(t *testing.T) *caches {
	t.Helper()
	c := &caches{times: cache.NewTimes(nil), quotes: cache.NewQuotes(nil)}
	refresher, err := cache.NewRefresher(context.Background(), cache.RefresherConfig{
		Source: staticLevels{times: []time.Time{time.Unix(0, 0).UTC()}},
		Times:  c.times,
		Quotes: c.quotes,
		Logger: testLogger(),
	})
	require.NoError(t, err)
	c.refresher = refresher
	c.resolver = denorm.New(nil, c.times, c.quotes)
	return c
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestBuildRouter_AdminDisabledReturnsNotFound(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{HealthCheckTimeout: time.Second}}
	mux := buildRouter(cfg, testLogger(), nil, engine.NewRegistry(), testCaches(t), nil)

	rec := serve(mux, http.MethodPost, "/admin/refresh-caches")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBuildRouter_AdminRefresh(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{HealthCheckTimeout: time.Second, AdminEnabled: true}}
	mux := buildRouter(cfg, testLogger(), nil, engine.NewRegistry(), testCaches(t), nil)

	rec := serve(mux, http.MethodPost, "/admin/refresh-caches")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = serve(mux, http.MethodGet, "/admin/refresh-caches")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBuildRouter_RootRedirectsToIndex(t *testing.T) {
	cfg := &config.Config{}
	mux := buildRouter(cfg, testLogger(), nil, engine.NewRegistry(), testCaches(t), nil)

	rec := serve(mux, http.MethodGet, "/")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/v1", rec.Header().Get("Location"))

	rec = serve(mux, http.MethodGet, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBuildRegistry_ServesEntities(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{}
	c := testCaches(t)
	registry := buildRegistry(cfg, testLogger(), db, sqlutil.Postgres, c, nil)
	mux := buildRouter(cfg, testLogger(), db, registry, c, nil)

	rec := serve(mux, http.MethodGet, "/v1")
	require.Equal(t, http.StatusOK, rec.Code)
	var names []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &names))
	assert.Contains(t, names, "blocks")
	assert.Contains(t, names, "migrations")
}

func TestHealthHandler(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectPing()
	rec := serve(healthHandler(db, time.Second), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","database":"ok"}`, rec.Body.String())

	mock.ExpectPing().WillReturnError(context.DeadlineExceeded)
	rec = serve(healthHandler(db, time.Second), http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryLimits(t *testing.T) {
	limits := queryLimits(&config.Config{})
	assert.Equal(t, 100, limits.Default)
	assert.Equal(t, 10000, limits.Max)

	limits = queryLimits(&config.Config{Query: config.QueryConfig{DefaultLimit: 5, MaxLimit: 50}})
	assert.Equal(t, 5, limits.Default)
	assert.Equal(t, 50, limits.Max)
}

func TestWrapHTTPHandler_RateLimit(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{
		RateLimitEnabled: true,
		RateLimitRPS:     0.001,
		RateLimitBurst:   1,
	}}
	handler := wrapHTTPHandler(cfg, testLogger(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	assert.Equal(t, http.StatusNoContent, serve(handler, http.MethodGet, "/v1").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(handler, http.MethodGet, "/v1").Code)
}
