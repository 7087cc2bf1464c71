// Package server exposes the batch over HTTP: health, run history and a
// trigger for the full chain. Only one chain runs at a time.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/callbatch/internal/model"
	"github.com/sells-group/callbatch/internal/orchestrate"
)

// Runner executes the full chain.
type Runner func(ctx context.Context) (*orchestrate.Report, error)

// History is the read side of the ledger.
type History interface {
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
	ListConsumed(ctx context.Context, limit int) ([]model.ConsumedSource, error)
}

// Options configures the HTTP surface.
type Options struct {
	AllowedOrigins []string
}

// Status describes the trigger state.
type Status struct {
	Running   bool                `json:"running"`
	StartedAt *time.Time          `json:"started_at,omitempty"`
	Last      *orchestrate.Report `json:"last,omitempty"`
	LastError string              `json:"last_error,omitempty"`
}

// Server serializes chain runs and serves their history.
type Server struct {
	base    context.Context
	run     Runner
	history History
	opts    Options
	log     *zap.Logger

	mu     sync.Mutex
	status Status
	wg     sync.WaitGroup
}

// New creates a Server. Chains started through it run under base, so
// cancelling base stops accepting work and lets Wait return.
func New(base context.Context, run Runner, history History, opts Options) *Server {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{
		base:    base,
		run:     run,
		history: history,
		opts:    opts,
		log:     zap.L().With(zap.String("component", "server")),
	}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/runs", s.handleListRuns)
	r.Post("/runs", s.handleTrigger)
	r.Get("/sources", s.handleListSources)
	return r
}

// Trigger starts the chain in the background. It returns false when a chain
// is already running.
func (s *Server) Trigger() bool {
	s.mu.Lock()
	if s.status.Running {
		s.mu.Unlock()
		return false
	}
	now := time.Now().UTC()
	s.status.Running = true
	s.status.StartedAt = &now
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		report, err := s.run(s.base)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.status.Running = false
		s.status.StartedAt = nil
		s.status.Last = report
		s.status.LastError = ""
		if err != nil {
			s.status.LastError = err.Error()
			s.log.Error("server: chain failed", zap.Error(err))
			return
		}
		s.log.Info("server: chain complete", zap.String("output", report.Output))
	}()
	return true
}

// Wait blocks until a running chain finishes.
func (s *Server) Wait() { s.wg.Wait() }

// Snapshot returns the current trigger state.
func (s *Server) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (s *Server) handleTrigger(w http.ResponseWriter, _ *http.Request) {
	if !s.Trigger() {
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	runs, err := s.history.ListRuns(r.Context(), limit)
	if err != nil {
		s.log.Error("server: list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	sources, err := s.history.ListConsumed(r.Context(), limit)
	if err != nil {
		s.log.Error("server: list sources", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sources")
		return
	}
	if sources == nil {
		sources = []model.ConsumedSource{}
	}
	writeJSON(w, http.StatusOK, sources)
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
