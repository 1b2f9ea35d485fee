// Package server exposes health, readiness, metrics and correlator state over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/s0undt3ch/salt-analytics-framework/internal/correlator"
	"github.com/s0undt3ch/salt-analytics-framework/internal/types"
)

const (
	defaultAddr     = ":8080"
	shutdownTimeout = 5 * time.Second
)

// StateReader is the read-only view of the correlator served by /stats and /jobs.
type StateReader interface {
	Stats() correlator.Stats
	TrackedJob(jid types.JobID) (types.PendingJob, bool)
}

// Options configures the Server.
type Options struct {
	// Addr is the listen address. Default: ":8080".
	Addr string

	// Ready reports readiness for /readyz. Nil means always ready.
	Ready func() bool

	Logger *zap.Logger
}

// Server is the status HTTP server.
type Server struct {
	logger     *zap.Logger
	opts       Options
	state      StateReader
	router     chi.Router
	httpServer *http.Server
}

// New creates a Server.
func New(state StateReader, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = defaultAddr
	}
	if opts.Ready == nil {
		opts.Ready = func() bool { return true }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := &Server{
		logger: opts.Logger.Named("status-server"),
		opts:   opts,
		state:  state,
	}
	s.router = s.routes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/stats", s.handleStats)
	r.Get("/jobs/{jid}", s.handleJob)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully. Blocks.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting status server", zap.String("addr", s.opts.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down status server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.opts.Ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.state.Stats())
}

type jobResponse struct {
	JobID     types.JobID         `json:"jid"`
	Function  string              `json:"fun,omitempty"`
	StartTime time.Time           `json:"startTime"`
	TrackedAt time.Time           `json:"trackedAt"`
	Expected  []types.ResponderID `json:"expected"`
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	jid := types.JobID(chi.URLParam(r, "jid"))
	job, ok := s.state.TrackedJob(jid)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not tracked"})
		return
	}
	s.writeJSON(w, http.StatusOK, jobResponse{
		JobID:     job.JobID,
		Function:  job.Function,
		StartTime: job.StartTime,
		TrackedAt: job.TrackedAt,
		Expected:  job.Expected,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("Failed to write response", zap.Error(err))
	}
}

// logRequests logs each request at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
