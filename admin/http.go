package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/feedveil/settings"
)

// Router returns the admin HTTP handler. With withMCP the MCP tools are also
// served over streamable HTTP at /mcp.
func (s *Service) Router(withMCP bool) http.Handler {
	r := chi.NewRouter()
	r.Use(headToGet, securityHeaders, maxBody(64*1024), traceID(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/sessions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.Status())
	})

	r.Post("/sessions/{site}/rescan", func(w http.ResponseWriter, r *http.Request) {
		res, err := s.Rescan(chi.URLParam(r, "site"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	r.Post("/classify", func(w http.ResponseWriter, r *http.Request) {
		var req ClassifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		res, err := s.Classify(r.Context(), req)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		points, err := s.Metrics(r.Context(), MetricsQuery{
			Name:  q.Get("name"),
			Since: q.Get("since"),
			Limit: queryInt(r, "limit", 100),
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, points)
	})

	r.Get("/journal", func(w http.ResponseWriter, r *http.Request) {
		entries, err := s.Journal(r.Context(), r.URL.Query().Get("site"), queryInt(r, "limit", 100))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	})

	if withMCP {
		srv := s.MCPServer()
		r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil))
	}
	return r
}

func (s *Service) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNoSession), errors.Is(err, ErrUnknownSite):
		code = http.StatusNotFound
	case errors.Is(err, ErrNoMetrics):
		code = http.StatusServiceUnavailable
	case errors.Is(err, settings.ErrInvalidCutoff):
		code = http.StatusBadRequest
	}
	if code == http.StatusInternalServerError {
		requestLogger(r.Context()).Error("admin: request failed", "error", err)
	}
	writeError(w, code, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
