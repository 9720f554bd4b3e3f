// Package core provides the HTTP chassis for the billing webhook service.
// It builds a chi router that serves both a standalone HTTP server and a
// Lambda Function URL, and applies the cross-cutting middleware (panic
// recovery, request ids, logging, admin auth) before requests reach the
// provider handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"billingsync/internal/config"
)

// RouteRegistrar mounts a group of routes. Handler packages expose one so
// core does not import them.
type RouteRegistrar func(r chi.Router)

// Server holds the router and the dependencies shared by middleware.
type Server struct {
	Config *config.Config
	Logger *slog.Logger

	// HealthProbes are run by GET /health.
	HealthProbes []HealthProbe

	// WebhookRoutes are mounted at the root and are public; they authenticate
	// by provider signature.
	WebhookRoutes []RouteRegistrar

	// AdminRoutes are mounted under /v1/admin behind AdminAuth.
	AdminRoutes []RouteRegistrar

	// Closers run on Shutdown in order, e.g. the database pool.
	Closers []func()

	router *chi.Mux
}

// NewServer validates the required dependencies. Routes are mounted
// separately with MountRoutes so tests can adjust the Server first.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler for http.Server and the
// Lambda adapter.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases resources registered in Closers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")
	for _, closeFn := range s.Closers {
		closeFn()
	}
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
