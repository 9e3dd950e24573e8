// Package api exposes the workflow engine over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/deixis/overseer/internal/workflow"
)

// Config holds API server configuration
type Config struct {
	Listen string
	// MCP, when set, is mounted at /mcp.
	MCP http.Handler
	// MaxConcurrentRuns bounds simultaneous command executions.
	MaxConcurrentRuns int
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	engine    *workflow.Engine
	logger    zerolog.Logger
	server    *http.Server
	startedAt time.Time
	runSlots  chan struct{}
}

// New creates a new API server instance
func New(config Config, engine *workflow.Engine, logger zerolog.Logger) *Server {
	if config.MaxConcurrentRuns <= 0 {
		config.MaxConcurrentRuns = 8
	}
	return &Server{
		config:    config,
		engine:    engine,
		logger:    logger,
		startedAt: time.Now(),
		runSlots:  make(chan struct{}, config.MaxConcurrentRuns),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// Runs block until the command exits; the engine enforces deadlines.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("listen", s.config.Listen).Msg("API server starting")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info().Msg("API server shutting down")
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

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/commands", s.handleCommands)
	r.Post("/runs", s.handleRun)
	r.Get("/runs/{runID}", s.handleGetRun)
	r.Post("/pipelines/{pipeline}", s.handlePipeline)

	if s.config.MCP != nil {
		r.Mount("/mcp", s.config.MCP)
	}
	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// acquire takes a run slot, giving up when the request is cancelled.
func (s *Server) acquire(ctx context.Context) bool {
	select {
	case s.runSlots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) release() { <-s.runSlots }
