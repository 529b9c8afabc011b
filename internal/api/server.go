// SPDX-License-Identifier: MIT

// Package api serves the touchstream control surface over HTTP: viewer
// sessions, recording listings, conversions and system probes.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opentouch/touchstream/internal/api/middleware"
	"github.com/opentouch/touchstream/internal/artifact"
	"github.com/opentouch/touchstream/internal/config"
	"github.com/opentouch/touchstream/internal/fsutil"
	"github.com/opentouch/touchstream/internal/health"
	"github.com/opentouch/touchstream/internal/library"
	"github.com/opentouch/touchstream/internal/session"
)

// SessionManager is the session surface the handlers consume.
// *session.Manager satisfies it; tests substitute a fake.
type SessionManager interface {
	Create(ctx context.Context, spec session.CreateSpec) (session.Info, error)
	List() []session.Info
	Get(id string) (session.Info, error)
	State(id string) (session.State, error)
	Load(ctx context.Context, id string, spec session.LoadSpec, replace bool) (session.Info, error)
	Delete(ctx context.Context, id string) error
}

// Deps carries everything the server serves. All fields except Library and
// Cache are required.
type Deps struct {
	Config   config.AppConfig
	Sessions SessionManager
	Library  *library.Service // nil disables the recordings surface
	Cache    *artifact.Cache  // nil disables conversions and artifact listing
	Convert  artifact.ConvertFunc
	Health   *health.Manager
}

// Server is the touchstream HTTP API.
type Server struct {
	cfg      config.AppConfig
	sessions SessionManager
	library  *library.Service
	cache    *artifact.Cache
	convert  artifact.ConvertFunc
	health   *health.Manager
	handler  http.Handler
}

// New wires the server and builds its routes.
func New(deps Deps) (*Server, error) {
	if deps.Sessions == nil {
		return nil, errors.New("api: session manager is required")
	}
	if deps.Health == nil {
		return nil, errors.New("api: health manager is required")
	}
	if deps.Convert == nil {
		deps.Convert = artifact.Converter()
	}
	s := &Server{
		cfg:      deps.Config,
		sessions: deps.Sessions,
		library:  deps.Library,
		cache:    deps.Cache,
		convert:  deps.Convert,
		health:   deps.Health,
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableCORS:            true,
		AllowedOrigins:        s.cfg.Server.CORSOrigins,
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        "touchstream-api",
		EnableLogging:         true,
		EnableRateLimit:       true,
		RateLimitRPS:          s.cfg.Server.RateLimitRPS,
		RateLimitBurst:        s.cfg.Server.RateLimitBurst,
	})

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Get("/version", s.handleVersion)

	r.Route("/api", func(r chi.Router) {
		r.Get("/sessions", s.handleSessionList)
		r.Get("/sessions/{id}", s.handleSessionGet)
		r.Get("/sessions/{id}/state", s.handleSessionState)
		r.Get("/recordings", s.handleRecordings)
		r.Get("/recordings/summary", s.handleRecordingSummary)
		r.Get("/artifacts", s.handleArtifacts)

		// Mutating routes sit behind the optional token gate.
		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)
			r.Post("/sessions", s.handleSessionCreate)
			r.Post("/sessions/{id}/load", s.handleSessionLoad)
			r.Delete("/sessions/{id}", s.handleSessionDelete)
			r.Post("/recordings/scan", s.handleRecordingsScan)
			r.Post("/convert", s.handleConvert)
		})
	})

	return r
}

// confineRecording maps a caller-supplied recording path onto the configured
// library roots. Without configured roots the daemon is a local tool and
// paths pass through unaltered.
func (s *Server) confineRecording(path string) (string, error) {
	roots := s.cfg.Library.Roots
	if len(roots) == 0 {
		return path, nil
	}
	return fsutil.ConfineToRoots(roots, path)
}

// confineArtifact allows artifact paths under the cache dir, the data dir or
// any library root.
func (s *Server) confineArtifact(path string) (string, error) {
	roots := make([]string, 0, len(s.cfg.Library.Roots)+2)
	if dir := s.cfg.CacheDir(); dir != "" {
		roots = append(roots, dir)
	}
	if s.cfg.DataDir != "" {
		roots = append(roots, s.cfg.DataDir)
	}
	roots = append(roots, s.cfg.Library.Roots...)
	if len(roots) == 0 {
		return path, nil
	}
	return fsutil.ConfineToRoots(roots, path)
}
