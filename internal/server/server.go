// Package server provides the GridSight dashboard HTTP API.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gridsight/gridsight/internal/auth"
	"github.com/gridsight/gridsight/internal/engine"
	"github.com/gridsight/gridsight/internal/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ReadinessChecker verifies that the server is ready to serve traffic.
// Returns nil if ready, an error describing why not otherwise.
type ReadinessChecker func(ctx context.Context) error

// Server is the GridSight dashboard HTTP server.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *zap.Logger
	decisions  *engine.DecisionStore
	users      *auth.UserStore
	tokens     *auth.TokenService
	ready      ReadinessChecker
}

// New creates a Server with middleware and routes wired.
func New(addr string, logger *zap.Logger, decisions *engine.DecisionStore, users *auth.UserStore, tokens *auth.TokenService, ready ReadinessChecker) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		logger:    logger,
		decisions: decisions,
		users:     users,
		tokens:    tokens,
		ready:     ready,
	}

	s.registerRoutes()

	// Middleware chain: outermost listed first.
	handler := Chain(s.mux,
		RecoveryMiddleware(logger),
		RequestIDMiddleware,
		LoggingMiddleware(logger, []string{"/healthz", "/readyz", "/metrics"}),
		SecurityHeadersMiddleware,
		VersionHeaderMiddleware,
		RateLimitMiddleware(100, 200, []string{"/healthz", "/readyz", "/metrics"}),
	)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// registerRoutes sets up all routes.
func (s *Server) registerRoutes() {
	// Unversioned operational endpoints.
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	// Versioned API endpoints.
	s.mux.HandleFunc("POST /api/v1/auth/login", s.handleLogin)
	s.mux.Handle("GET /api/v1/decisions", s.protected(s.handleDecisions))
	s.mux.Handle("GET /api/v1/decisions/summary", s.protected(s.handleSummary))
	s.mux.Handle("GET /api/v1/baselines", s.protected(s.handleBaselines))
	s.mux.Handle("GET /api/v1/alerts", s.protected(s.handleAlerts))
}

// protected wraps a handler with JWT validation.
func (s *Server) protected(h http.HandlerFunc) http.Handler {
	return AuthMiddleware(s.tokens)(h)
}

// Handler returns the fully-wired handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// handleHealthz is a liveness probe, 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "alive",
		"version": version.Map(),
	})
}

// handleReadyz checks readiness, 200 if the server can serve traffic.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}

	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
