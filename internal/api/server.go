// Package api serves a read-only HTTP view of the dispatcher: runners,
// queue contents, stored results and a live event stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/mattjoyce/ductile-ci/internal/events"
	"github.com/mattjoyce/ductile-ci/internal/results"
	"github.com/mattjoyce/ductile-ci/internal/state"
)

// StateReader exposes a consistent copy of the registry and queue.
type StateReader interface {
	Snapshot() state.Snapshot
}

// ResultReader looks up stored results.
type ResultReader interface {
	Latest(ctx context.Context, commitID string) (results.Record, error)
	Payload(ctx context.Context, commitID string) ([]byte, error)
	Recent(ctx context.Context, limit int) ([]results.Record, error)
}

// Config holds API server configuration
type Config struct {
	Listen             string
	RateLimitPerMinute int
	// Token protects every route except /healthz when non-empty.
	Token string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	state     StateReader
	results   ResultReader
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	handler   http.Handler
	startedAt time.Time
}

// New creates a new API server instance
func New(config Config, st StateReader, res ResultReader, hub *events.Hub, logger *slog.Logger) *Server {
	if hub == nil {
		hub = events.NewHub(0)
	}
	s := &Server{
		config:    config,
		state:     st,
		results:   res,
		events:    hub,
		logger:    logger,
		startedAt: time.Now(),
	}
	s.handler = s.setupRoutes()
	return s
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("api listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve handles requests on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: /events streams for as long as the client stays.
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("API server starting", "listen", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler { return s.handler }

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		if s.config.Token != "" {
			r.Use(s.authMiddleware)
		}

		r.Group(func(r chi.Router) {
			if s.config.RateLimitPerMinute > 0 {
				r.Use(httprate.LimitByIP(s.config.RateLimitPerMinute, time.Minute))
			}
			r.Get("/runners", s.handleRunners)
			r.Get("/commits", s.handleCommits)
			r.Get("/results", s.handleRecentResults)
			r.Get("/results/{commitID}", s.handleResult)
			r.Get("/results/{commitID}/payload", s.handleResultPayload)
		})

		r.Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
