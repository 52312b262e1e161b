// Package server implements the HTTP transport layer for the simulator:
// request routing, middleware chain, and the control-plane endpoints that
// sit alongside the simulated OpenAI surface handled by internal/simulator.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/eugener/llmsim/internal/catalogue"
	"github.com/eugener/llmsim/internal/config"
	"github.com/eugener/llmsim/internal/recordreplay"
	"github.com/eugener/llmsim/internal/simulator"
	"github.com/eugener/llmsim/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Pipeline       *simulator.Pipeline
	Config         *config.Manager
	Catalogue      *catalogue.Registry
	Store          *recordreplay.Store
	Persister      *recordreplay.Persister
	Metrics        *telemetry.Metrics // nil = no Prometheus metrics
	MetricsHandler http.Handler       // nil = no /metrics endpoint
	Tracer         trace.Tracer       // nil = no distributed tracing
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)
	Logger         *slog.Logger
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	r.Use(s.securityHeaders)
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	if deps.Tracer != nil {
		r.Use(tracingMiddleware(deps.Tracer))
	}

	// System endpoints (no auth).
	r.Get("/", s.handleGreeting)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// Control plane.
	r.Post("/++/save-recordings", s.handleSaveRecordings)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/++/config", s.handleGetConfig)
		r.Patch("/++/config", s.handlePatchConfig)
	})

	// Simulated operations, one catch-all route forwarded into the pipeline.
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.HandleFunc("/openai/deployments/*", s.handleSimulated)
	})

	return r
}

type server struct {
	deps Deps
}
