// Package core provides the HTTP chassis for the push engine admin API. It
// builds a chi router and enforces cross-cutting concerns (panic recovery,
// request IDs, logging, metrics, API-key auth) before requests reach the
// notification handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"pushengine/internal/config"
)

// MetricsCollector records API request telemetry.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// Server holds the dependencies of the admin API.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator
	Metrics   MetricsCollector

	// HealthCheckers are checked by GET /health.
	HealthCheckers []HealthChecker

	// V1RouteRegistrars mount domain handlers under /v1. Populated by main to
	// avoid an import cycle between core and the handler packages.
	V1RouteRegistrars []func(chi.Router)

	// Closers run on Shutdown, in order.
	Closers []func() error

	router *chi.Mux
}

// NewServer validates critical dependencies and prepares the router. Routes
// are mounted separately via MountRoutes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if cfg.Security.AdminAPIKey.IsZero() {
		return nil, fmt.Errorf("admin API key must be configured")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown releases server resources. Every closer runs; the first error is
// returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")

	var first error
	for _, closeFn := range s.Closers {
		if err := closeFn(); err != nil {
			s.Logger.ErrorContext(ctx, "error closing server resource", "error", err)
			if first == nil {
				first = fmt.Errorf("closing server resources: %w", err)
			}
		}
	}

	s.Logger.InfoContext(ctx, "server shutdown complete")
	return first
}
