// Package api exposes the HTTP interface for the watch service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pagewatch/pagewatch/internal/cache"
	"github.com/pagewatch/pagewatch/internal/config"
	"github.com/pagewatch/pagewatch/internal/guard"
	"github.com/pagewatch/pagewatch/internal/metrics"
	"github.com/pagewatch/pagewatch/internal/throttle"
	"github.com/pagewatch/pagewatch/internal/watch"
	"github.com/pagewatch/pagewatch/internal/workwindow"
)

// Core is the scheduler surface the API drives.
type Core interface {
	ForceCrawl(ctx context.Context, name string) (watch.Task, error)
}

// Server wires HTTP handlers to the scheduler and stores.
type Server struct {
	router   chi.Router
	store    watch.TaskStore
	core     Core
	listing  *cache.TaskList
	throttle *throttle.Throttle
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store watch.TaskStore,
	core Core,
	listing *cache.TaskList,
	th *throttle.Throttle,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:    store,
		core:     core,
		listing:  listing,
		throttle: th,
		cfg:      cfg,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.listTasks)
			r.Post("/", s.createTask)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.getTask)
				r.Post("/crawl", s.forceCrawl)
			})
		})
		r.Put("/hosts/frequency", s.setHostFrequency)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The store is the only hard dependency; a cheap read proves it out.
	if _, err := s.store.List(r.Context(), 1, 0); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// taskView is the JSON shape returned for a task.
type taskView struct {
	ID             int64                `json:"id"`
	Name           string               `json:"name"`
	Enabled        bool                 `json:"enabled"`
	Interval       int                  `json:"interval"`
	WorkWindow     string               `json:"work_window"`
	RequestArgs    watch.RequestArgs    `json:"request_args"`
	MaxResultCount int                  `json:"max_result_count"`
	LatestResult   watch.Item           `json:"latest_result"`
	ResultHistory  []watch.HistoryEntry `json:"result_history"`
	LastCheckTime  time.Time            `json:"last_check_time"`
	NextCheckTime  time.Time            `json:"next_check_time"`
	LastChangeTime time.Time            `json:"last_change_time"`
	LastError      string               `json:"last_error,omitempty"`
	CustomInfo     string               `json:"custom_info,omitempty"`
}

func toView(task watch.Task) taskView {
	return taskView{
		ID:             task.ID,
		Name:           task.Name,
		Enabled:        task.Enabled,
		Interval:       task.Interval,
		WorkWindow:     task.WorkWindow,
		RequestArgs:    task.RequestArgs,
		MaxResultCount: task.MaxResultCount,
		LatestResult:   task.LatestResult,
		ResultHistory:  task.ResultHistory,
		LastCheckTime:  task.LastCheckTime,
		NextCheckTime:  task.NextCheckTime,
		LastChangeTime: task.LastChangeTime,
		LastError:      task.LastError,
		CustomInfo:     task.CustomInfo,
	}
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)

	loader := func(ctx context.Context) ([]watch.Task, error) {
		return s.store.List(ctx, limit, offset)
	}
	var tasks []watch.Task
	var err error
	// Only the default page is served from cache; explicit paging always
	// reads through.
	if s.listing != nil && limit == 100 && offset == 0 {
		tasks, err = s.listing.Get(r.Context(), loader)
	} else {
		tasks, err = loader(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	views := make([]taskView, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, toView(task))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": views})
}

type createTaskRequest struct {
	Name           string            `json:"name"`
	Enabled        *bool             `json:"enabled"`
	Interval       int               `json:"interval"`
	WorkWindow     string            `json:"work_window"`
	RequestArgs    watch.RequestArgs `json:"request_args"`
	MaxResultCount int               `json:"max_result_count"`
	CustomInfo     string            `json:"custom_info"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "task name required")
		return
	}
	if req.RequestArgs.URL == "" || req.RequestArgs.Selector == "" {
		writeError(w, http.StatusBadRequest, "request_args.url and request_args.selector required")
		return
	}
	if req.Interval <= 0 {
		req.Interval = 300
	}
	if _, err := workwindow.Evaluate(req.WorkWindow, time.Now()); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid work window: %v", err))
		return
	}

	task := watch.Task{
		Name:           req.Name,
		Enabled:        req.Enabled == nil || *req.Enabled,
		Interval:       req.Interval,
		WorkWindow:     req.WorkWindow,
		RequestArgs:    req.RequestArgs,
		MaxResultCount: req.MaxResultCount,
		CustomInfo:     req.CustomInfo,
	}
	id, err := s.store.Create(r.Context(), task)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if s.listing != nil {
		s.listing.Invalidate()
	}
	created, err := s.store.GetByName(r.Context(), req.Name)
	if err != nil {
		writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
		return
	}
	writeJSON(w, http.StatusCreated, toView(created))
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	task, err := s.store.GetByName(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, toView(task))
}

func (s *Server) forceCrawl(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	task, err := s.core.ForceCrawl(r.Context(), name)
	if err != nil {
		if errors.Is(err, guard.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		if strings.Contains(err.Error(), "not found") {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toView(task))
}

type hostFrequencyRequest struct {
	Host            string `json:"host"`
	N               int    `json:"n"`
	IntervalSeconds int    `json:"interval"`
}

func (s *Server) setHostFrequency(w http.ResponseWriter, r *http.Request) {
	var req hostFrequencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Host == "" {
		writeError(w, http.StatusBadRequest, "host required")
		return
	}
	freq := watch.HostFrequency{N: req.N, IntervalSeconds: req.IntervalSeconds}
	if err := s.throttle.SetPolicy(r.Context(), req.Host, freq); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"host":     strings.ToLower(req.Host),
		"n":        req.N,
		"interval": req.IntervalSeconds,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
