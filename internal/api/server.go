// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the capture HTTP surface.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/camshot/internal/api/middleware"
	"github.com/ManuGH/camshot/internal/health"
	"github.com/ManuGH/camshot/internal/history"
	"github.com/ManuGH/camshot/internal/pool"
	"github.com/ManuGH/camshot/internal/scheduler"
	"github.com/ManuGH/camshot/internal/shot"
)

// Capturer runs captures and lists cameras.
type Capturer interface {
	Capture(ctx context.Context, req shot.Request) (shot.Result, error)
	Cameras() []string
}

// PoolStatus reports the rendering pool.
type PoolStatus interface {
	Snapshot() pool.Status
}

// QueueStatus reports scheduler load.
type QueueStatus interface {
	Stats() scheduler.Stats
}

// HistoryReader lists recent captures.
type HistoryReader interface {
	Recent(ctx context.Context, q history.Query) ([]history.Record, error)
}

// ArtifactResolver maps an artifact file name to a confined local path.
type ArtifactResolver interface {
	Resolve(name string) (string, error)
}

// Config configures the HTTP surface.
type Config struct {
	// PublicPrefix is the URL prefix under which artifacts are served.
	PublicPrefix string
	// CaptureRatePerMinute limits /capture per client IP. Zero disables it.
	CaptureRatePerMinute int
	// TracingService enables server spans when set.
	TracingService string
}

// Deps are the collaborators behind the routes. History may be nil.
type Deps struct {
	Shots     Capturer
	Pool      PoolStatus
	Queue     QueueStatus
	History   HistoryReader
	Artifacts ArtifactResolver
	Health    *health.Manager
}

// Server holds the routed handler.
type Server struct {
	cfg     Config
	deps    Deps
	handler http.Handler
}

// New builds the router.
func New(cfg Config, deps Deps) *Server {
	cfg.PublicPrefix = "/" + strings.Trim(cfg.PublicPrefix, "/")
	s := &Server{cfg: cfg, deps: deps}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        s.cfg.TracingService,
		EnableLogging:         true,
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.CaptureRateLimit(s.cfg.CaptureRatePerMinute))
		r.Get("/capture", s.handleCaptureGet)
		r.Post("/capture", s.handleCapturePost)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/cameras", s.handleCameras)
	r.Get("/captures", s.handleCaptures)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	if s.deps.Health != nil {
		r.Get("/healthz", s.deps.Health.ServeHealth)
		r.Get("/readyz", s.deps.Health.ServeReady)
	}

	files := s.artifactServer()
	r.Get(s.cfg.PublicPrefix+"/*", files)
	r.Head(s.cfg.PublicPrefix+"/*", files)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", Kind: "not_found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed", Kind: "method_not_allowed"})
	})
	return r
}
