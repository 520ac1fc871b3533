// Package httpapi exposes the entity registry over HTTP. It only translates
// query strings into engine requests and engine results into JSON; all query
// semantics live in the engine.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"chainquery/internal/engine"
	"chainquery/internal/filter"
	"chainquery/internal/logging"
)

// Handler serves entity list and count requests.
type Handler struct {
	registry *engine.Registry
	resolver AddressResolver
	logger   *logging.Logger
}

// NewHandler creates a handler over registry. resolver maps addresses in
// account filters to ids and may be nil.
func NewHandler(registry *engine.Registry, resolver AddressResolver, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{registry: registry, resolver: resolver, logger: logger}
}

// Register mounts the entity routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/{entity}", h.list)
	mux.HandleFunc("GET /v1/{entity}/count", h.count)
	mux.HandleFunc("GET /v1", h.index)
}

func (h *Handler) index(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Names())
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	repo, err := h.registry.Lookup(r.PathValue("entity"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p := &parser{ctx: ctx, cols: repo.FilterColumns(), resolver: h.resolver}
	parsed, err := p.parse(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var body any
	switch {
	case parsed.mode == selectNone || len(parsed.fields) == 0:
		body, err = repo.Objects(ctx, parsed.req)
	case len(parsed.fields) == 1:
		body, err = repo.GetField(ctx, parsed.req, parsed.fields[0])
	case parsed.mode == selectValues:
		body, err = repo.GetFields(ctx, parsed.req, parsed.fields)
	default:
		var rows [][]any
		rows, err = repo.GetFields(ctx, parsed.req, parsed.fields)
		body = keyed(parsed.fields, rows)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) count(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	repo, err := h.registry.Lookup(r.PathValue("entity"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p := &parser{ctx: ctx, cols: repo.FilterColumns(), resolver: h.resolver}
	set, err := p.filters(r.URL.Query())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	n, err := repo.Count(ctx, set)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// keyed turns positional rows into objects keyed by the requested paths.
func keyed(fields []string, rows [][]any) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		obj := make(map[string]any, len(fields))
		for j, f := range fields {
			obj[f] = row[j]
		}
		out[i] = obj
	}
	return out
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		logger := h.logger
		if id := logging.GetRequestID(r.Context()); id != "" {
			logger = logger.WithRequestID(id)
		}
		logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnknownEntity):
		return http.StatusNotFound
	case errors.Is(err, filter.ErrUnknownField),
		errors.Is(err, filter.ErrOperandType),
		errors.Is(err, filter.ErrInvalidValue),
		errors.Is(err, errBadParam):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
