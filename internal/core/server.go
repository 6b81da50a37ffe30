// Package core provides the API chassis for the Tomorrow platform.
// It creates a chi router compatible with both standard HTTP (for local dev)
// and AWS Lambda Proxy Integration, and enforces cross-cutting concerns --
// recovery, timeouts, logging, security headers, CORS, metrics, and the
// admin key guard on trigger endpoints -- before requests reach handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"tomorrow/internal/config"
)

// MetricsCollector records API request telemetry. Implementations publish to
// CloudWatch or equivalent backends.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// HealthProbe is a single subsystem health check (database, email provider).
type HealthProbe interface {
	// Name identifies the probe in the health response ("database").
	Name() string
	// Check returns an error when the subsystem is unhealthy. It must
	// respect the context deadline.
	Check(ctx context.Context) error
}

// Server bundles the dependencies of the HTTP surface, allowing injection
// during testing and distinct wiring per environment.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// Metrics may be nil; the metrics middleware then passes through.
	Metrics MetricsCollector

	// HealthProbes are executed by GET /health. Empty means always healthy.
	HealthProbes []HealthProbe

	// V1RouteRegistrars register domain handlers under /v1. Populated by the
	// entry point to avoid an import cycle between core and handlers.
	V1RouteRegistrars []func(chi.Router)

	router *chi.Mux
}

// NewServer initializes the server chassis. The caller mounts routes via
// MountRoutes after registering handlers.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler for http.ListenAndServe
// (local) or a Lambda proxy adapter.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router exposes the underlying chi.Mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
