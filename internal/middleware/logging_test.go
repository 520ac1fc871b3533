package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"chainquery/internal/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingMiddleware_PropagatesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := &logging.Logger{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	var seen string
	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.GetRequestID(r.Context())
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"x"}`))
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/blocks?level.gt=5", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, "req-1", seen)
	assert.Equal(t, "req-1", rr.Header().Get(RequestIDHeader))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "/v1/blocks", entry["path"])
	assert.Equal(t, "level.gt=5", entry["query"])
	assert.Equal(t, float64(400), entry["status"])
	assert.Equal(t, float64(13), entry["bytes"])
}

func TestLoggingMiddleware_GeneratesRequestID(t *testing.T) {
	logger := &logging.Logger{Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))}
	handler := LoggingMiddleware(logger)(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, rr.Header().Get(RequestIDHeader), 36)
}
