// Package httpapi exposes the sync engine over HTTP for deployments outside Lambda.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/peteski22/sfbridge/internal/bulk"
	"github.com/peteski22/sfbridge/internal/logging"
	"github.com/peteski22/sfbridge/internal/sync"
)

const (
	maxRequestBytes = 64 << 20
	shutdownTimeout = 10 * time.Second
)

// Runner executes one sync request.
type Runner interface {
	Run(ctx context.Context, req sync.Request) (*sync.Result, error)
}

// JobStore reads recorded bulk job outcomes.
type JobStore interface {
	// Job returns the record for jobID, reporting whether it exists.
	Job(ctx context.Context, jobID string) (bulk.JobRecord, bool, error)

	// JobsByRun returns every job recorded for runID, ordered by batch offset.
	JobsByRun(ctx context.Context, runID string) ([]bulk.JobRecord, error)
}

// Config holds the configuration for creating a Server.
type Config struct {
	// Jobs serves the job lookup routes. Optional; the routes are not mounted without it.
	Jobs JobStore

	// Logger is the structured logger for the server.
	Logger *slog.Logger

	// Runner executes sync requests.
	Runner Runner
}

func (c *Config) validate() error {
	if c.Runner == nil {
		return errors.New("runner is required")
	}
	return nil
}

// Server routes HTTP requests to the sync service.
type Server struct {
	jobs   JobStore
	logger *slog.Logger
	router *chi.Mux
	runner Runner
}

// jobView is the JSON representation of a recorded bulk job.
type jobView struct {
	BatchOffset int       `json:"batch_offset"`
	BatchSize   int       `json:"batch_size"`
	Error       string    `json:"error,omitempty"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
	JobID       string    `json:"job_id"`
	Object      string    `json:"object"`
	Operation   string    `json:"operation"`
	RowsFailed  int       `json:"rows_failed"`
	RunID       string    `json:"run_id"`
	State       string    `json:"state"`
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		jobs:   cfg.Jobs,
		logger: logger,
		router: chi.NewRouter(),
		runner: cfg.Runner,
	}
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Post("/sync", s.handleSync)

	if s.jobs != nil {
		s.router.Get("/jobs/{jobID}", s.handleJob)
		s.router.Get("/runs/{runID}/jobs", s.handleRunJobs)
	}
}

// requestLogger logs each request once it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		logging.FromContext(r.Context(), s.logger).Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context(), s.logger)

	var req sync.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decoding request: %s", err))
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "at least one event is required")
		return
	}

	result, err := s.runner.Run(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			logger.Error("sync failed", "error", err)
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	record, ok, err := s.jobs.Job(r.Context(), jobID)
	if err != nil {
		logging.FromContext(r.Context(), s.logger).Error("failed to read job", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "reading job")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("job %s not found", jobID))
		return
	}

	writeJSON(w, http.StatusOK, toJobView(record))
}

func (s *Server) handleRunJobs(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	records, err := s.jobs.JobsByRun(r.Context(), runID)
	if err != nil {
		logging.FromContext(r.Context(), s.logger).Error("failed to list jobs", "run_id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "listing jobs")
		return
	}

	views := make([]jobView, len(records))
	for i, rec := range records {
		views[i] = toJobView(rec)
	}

	writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "jobs": views})
}

// statusFor maps a sync error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, bulk.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, bulk.ErrCancelled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, bulk.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func toJobView(rec bulk.JobRecord) jobView {
	return jobView{
		BatchOffset: rec.BatchOffset,
		BatchSize:   rec.BatchSize,
		Error:       rec.Error,
		FinishedAt:  rec.FinishedAt,
		JobID:       rec.JobID,
		Object:      rec.Object,
		Operation:   string(rec.Operation),
		RowsFailed:  rec.RowsFailed,
		RunID:       rec.RunID,
		State:       string(rec.State),
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
