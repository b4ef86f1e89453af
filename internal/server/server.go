// Package server sets up the HTTP API, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer for HTTP. It decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// The evaluation service itself is built by the caller (cmd/phpinline), because
// the language server and the watch command share it. The server only receives
// it through the handler interfaces.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/phpinline/internal/auth"
	"github.com/sakif/phpinline/internal/config"
	"github.com/sakif/phpinline/internal/handler"
	"github.com/sakif/phpinline/internal/metrics"
	"github.com/sakif/phpinline/internal/middleware"
)

// shutdownTimeout is how long in-flight requests get to finish.
const shutdownTimeout = 30 * time.Second

// Config holds server configuration.
type Config struct {
	// Host is the listen address; empty means loopback.
	Host string
	Port int
	// JWTSecret enables bearer-token auth on /api.
	JWTSecret string
	// Insecure allows starting without a JWT secret, leaving /api open.
	Insecure bool
}

// ErrNoSecret is returned by New when neither a JWT secret nor Insecure is set.
var ErrNoSecret = errors.New("server: refusing to serve an unauthenticated API; set server.jwtSecret or pass --insecure")

// Service is everything the API needs from the evaluation layer.
// *service.EvaluationService satisfies it.
type Service interface {
	handler.Evaluator
	handler.History
}

// Server represents the HTTP server and its dependencies.
type Server struct {
	router  *chi.Mux
	config  Config
	logger  *slog.Logger
	svc     Service
	color   func() string
	metrics *metrics.Metrics
	tokens  *auth.TokenService
}

// New creates a Server. color returns the current success annotation color;
// m may be nil, in which case /metrics is not served.
func New(cfg Config, svc Service, color func() string, m *metrics.Metrics, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		svc:     svc,
		color:   color,
		metrics: m,
	}

	if cfg.JWTSecret != "" {
		tokens, err := auth.NewTokenService(cfg.JWTSecret)
		if err != nil {
			return nil, fmt.Errorf("configuring auth: %w", err)
		}
		s.tokens = tokens
	} else {
		if !cfg.Insecure {
			return nil, ErrNoSecret
		}
		logger.Warn("no JWT secret configured, the API is unauthenticated")
	}
	if s.config.Host == "" {
		s.config.Host = config.DefaultServerHost
	}

	s.setupRoutes()
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /healthz                → liveness probe
// GET    /metrics                → Prometheus metrics
// POST   /api/evaluate           → live mode
// POST   /api/evaluate/block     → block mode
// GET    /api/evaluations        → history, newest first
// GET    /api/evaluations/{id}   → one history record
// DELETE /api/evaluations/{id}   → delete a history record
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns unique ID to each request (for tracing)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Recoverer: catches panics and returns 500 instead of crashing
// 4. Logger: logs each request with timing info
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
	})
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}

	evaluateHandler := handler.NewEvaluateHandler(s.svc, s.color, s.logger)
	historyHandler := handler.NewHistoryHandler(s.svc, s.logger)

	s.router.Route("/api", func(r chi.Router) {
		if s.tokens != nil {
			r.Use(auth.RequireAuth(s.tokens))
		}

		r.Post("/evaluate", evaluateHandler.HandleLive)
		r.Post("/evaluate/block", evaluateHandler.HandleBlock)

		r.Get("/evaluations", historyHandler.HandleList)
		r.Get("/evaluations/{id}", historyHandler.HandleGetByID)
		r.Delete("/evaluations/{id}", historyHandler.HandleDelete)
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully: new
// connections are refused and in-flight requests get shutdownTimeout to
// finish.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port)),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("addr", srv.Addr),
			slog.Bool("auth", s.tokens != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown requested")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
