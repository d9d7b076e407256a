// Package web serves the run API, the dashboard and Prometheus metrics.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/salesqa/salesqa/internal/metrics"
	"github.com/salesqa/salesqa/internal/pipeline"
	mw "github.com/salesqa/salesqa/internal/web/middleware"
)

// DefaultRequestTimeout bounds a request when Options leaves it unset. A
// POST /api/runs request holds its connection for the whole run.
const DefaultRequestTimeout = 10 * time.Minute

// Options configures the server.
type Options struct {
	Addr string

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration

	// APIKeys protect run creation; empty disables auth.
	APIKeys []string

	// TrustedProxies may set X-Real-IP / X-Forwarded-For.
	TrustedProxies []string

	// Metrics and Scheduler are optional.
	Metrics   *metrics.Metrics
	Scheduler *pipeline.Scheduler
}

// Server is the HTTP front end of a Runner.
type Server struct {
	runner *pipeline.Runner
	opts   Options
	router *chi.Mux
	server *http.Server
}

// NewServer creates a Server for runner.
func NewServer(runner *pipeline.Runner, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	s := &Server{
		runner: runner,
		opts:   opts,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.router,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(mw.TrustedRealIP(s.opts.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Timeout(s.opts.RequestTimeout))
	s.router.Use(securityHeaders)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	}
	s.router.Get("/", s.handleDashboard)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/rules", s.handleRules)

		r.Route("/runs", func(r chi.Router) {
			r.With(mw.APIKeyAuth(s.opts.APIKeys)).Post("/", s.handleCreateRun)
			r.Get("/", s.handleListRuns)
			r.Get("/{runID}", s.handleGetRun)
			r.Get("/{runID}/report", s.handleRunReport)
			r.Get("/{runID}/discrepancies", s.handleRunDiscrepancies)
		})
	})
}

// Start listens on Options.Addr until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("starting server", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
