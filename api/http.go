package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/kseo/auth"
	"github.com/hazyhaar/kseo/kit"
	"github.com/hazyhaar/kseo/ratelimit"
	"github.com/hazyhaar/kseo/shield"
	"github.com/hazyhaar/kseo/store"
)

// RouterConfig wires the HTTP edge around a Service.
type RouterConfig struct {
	DB           *sql.DB // maintenance flag
	MaxBody      int64
	Auth         *auth.Authenticator
	Limiter      *ratelimit.Limiter
	DefaultLimit int
	MCP          *mcp.Server // nil disables /mcp
}

// Router builds the chi router. Order per request: shield stack, auth,
// rate limit, handler. /healthz skips auth and rate limiting.
func (s *Service) Router(cfg RouterConfig) (http.Handler, *shield.MaintenanceMode) {
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 1 << 20
	}
	r := chi.NewRouter()
	stack, mm := shield.APIStack(cfg.DB, cfg.MaxBody)
	for _, mw := range stack {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "maintenance": mm.Status()})
	})

	r.Group(func(r chi.Router) {
		if cfg.Auth != nil {
			r.Use(cfg.Auth.Middleware)
		}
		if cfg.Limiter != nil {
			r.Use(cfg.Limiter.Middleware(RouteName, cfg.DefaultLimit))
		}

		r.Post("/api/v1/analyze", s.handleAnalyze)
		r.Post("/api/v1/results", s.handleSaveResult)
		r.Get("/api/v1/results/{subjectID}", s.handleLatest)
		r.Get("/api/v1/events", s.handleEvents)
		r.With(auth.RequireKey).Post("/api/v1/batch", s.handleBatch)
		r.Get("/api/v1/batch", s.handleBatchStatus)

		if cfg.MCP != nil {
			h := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return cfg.MCP }, nil)
			r.Handle("/mcp", h)
		}
	})
	return r, mm
}

// RouteName is the rate limit route: method plus the chi pattern, so
// /api/v1/results/a and /api/v1/results/b share one bucket.
func RouteName(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return r.Method + " " + p
		}
	}
	return ratelimit.MethodPath(r)
}

// call runs fn through the audited endpoint chain for action.
func (s *Service) call(r *http.Request, action string, req any, fn kit.Endpoint) (any, error) {
	return s.endpoint("http", action, fn)(r.Context(), req)
}

func (s *Service) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.call(r, "analyze", &req, func(_ context.Context, v any) (any, error) {
		return s.Analyze(*v.(*AnalyzeRequest))
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleSaveResult(w http.ResponseWriter, r *http.Request) {
	var req SaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	resp, err := s.call(r, "result_save", &req, func(ctx context.Context, v any) (any, error) {
		return s.SaveResult(ctx, *v.(*SaveRequest))
	})
	switch {
	case errors.Is(err, ErrEmptyInput), errors.Is(err, store.ErrInvalidSubject):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		shield.GetLogger(r.Context()).Error("api: save result", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusCreated, resp)
	}
}

type latestRequest struct {
	SubjectID string `json:"subject_id"`
}

func (s *Service) handleLatest(w http.ResponseWriter, r *http.Request) {
	req := &latestRequest{SubjectID: chi.URLParam(r, "subjectID")}
	res, err := s.call(r, "result_latest", req, func(ctx context.Context, v any) (any, error) {
		return s.Latest(ctx, v.(*latestRequest).SubjectID)
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case err != nil:
		shield.GetLogger(r.Context()).Error("api: latest result", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := &store.EventFilter{
		Type:      q.Get("type"),
		SubjectID: q.Get("subject_id"),
		Since:     queryInt64(r, "since"),
		Limit:     queryInt(r, "limit", 0),
		Offset:    queryInt(r, "offset", 0),
	}
	events, err := s.call(r, "events_list", f, func(ctx context.Context, v any) (any, error) {
		return s.Events(ctx, *v.(*store.EventFilter))
	})
	if err != nil {
		shield.GetLogger(r.Context()).Error("api: list events", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Service) handleBatch(w http.ResponseWriter, r *http.Request) {
	resp, err := s.call(r, "batch_trigger", nil, func(ctx context.Context, _ any) (any, error) {
		id, err := s.TriggerBatch(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]string{"job_id": id}, nil
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Service) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.call(r, "batch_status", nil, func(context.Context, any) (any, error) {
		return s.Status()
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
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
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func queryInt64(r *http.Request, key string) int64 {
	n, _ := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return n
}
