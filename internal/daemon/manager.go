// SPDX-License-Identifier: MIT

// Package daemon manages the touchstream server lifecycle: listener setup,
// graceful shutdown, and the long-lived background loops around them.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"

	"github.com/opentouch/touchstream/internal/config"
)

// HTTP server limits. Conversions run synchronously inside the convert
// handler, so the write timeout has to cover a full recording decode.
const (
	apiReadTimeout       = 30 * time.Second
	apiReadHeaderTimeout = 10 * time.Second
	apiWriteTimeout      = 10 * time.Minute
	apiIdleTimeout       = 120 * time.Second
	apiMaxHeaderBytes    = 1 << 20

	// serverErrorShutdownBudget bounds the emergency shutdown that runs
	// after a server goroutine reports a fatal error.
	serverErrorShutdownBudget = 30 * time.Second

	defaultShutdownGrace = 10 * time.Second
)

// ShutdownHook releases one resource during graceful shutdown. Hooks run in
// reverse registration order, so later-wired components stop first.
type ShutdownHook func(ctx context.Context) error

// Manager runs the HTTP servers and owns their teardown.
type Manager interface {
	// Start brings up the servers and blocks until ctx is cancelled or a
	// server fails.
	Start(ctx context.Context) error

	// Shutdown stops the servers and runs the registered hooks.
	Shutdown(ctx context.Context) error

	// RegisterShutdownHook queues a named cleanup for Shutdown.
	RegisterShutdownHook(name string, hook ShutdownHook)
}

type manager struct {
	serverCfg config.ServerConfig
	deps      Deps

	apiServer     *http.Server
	metricsServer *http.Server

	// LIFO teardown queue.
	shutdownHooks []namedHook

	started  bool
	stopping bool
	mu       sync.Mutex

	logger zerolog.Logger
}

// namedHook pairs a hook with the name used in shutdown logs.
type namedHook struct {
	name string
	hook ShutdownHook
}

// NewManager validates the dependency set and builds a manager for it.
func NewManager(serverCfg config.ServerConfig, deps Deps) (Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}

	return &manager{
		serverCfg: serverCfg,
		deps:      deps,
		logger:    deps.Logger.With().Str("component", "manager").Logger(),
	}, nil
}

// Start binds the listeners synchronously (a bad address fails here, not in
// a goroutine), then blocks until cancellation or a server error. Either way
// it drives a bounded Shutdown before returning.
func (m *manager) Start(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("start context is nil")
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("manager already started")
	}
	m.started = true
	m.mu.Unlock()

	m.logger.Info().
		Str("listen", m.serverCfg.Listen).
		Int("max_conns", m.serverCfg.MaxConns).
		Dur("shutdown_grace", m.shutdownGrace()).
		Msg("starting daemon manager")

	// Buffered for both servers so a failing goroutine never blocks.
	errChan := make(chan error, 2)

	if m.deps.MetricsHandler != nil {
		if err := m.startMetricsServer(errChan); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	if err := m.startAPIServer(errChan); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	select {
	case err := <-errChan:
		m.logger.Error().Err(err).Msg("server error, initiating shutdown")
		// Detached but bounded so shutdown can complete even if the parent
		// context is already cancelled.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverErrorShutdownBudget)
		defer cancel()
		if shutdownErr := m.Shutdown(shutdownCtx); shutdownErr != nil {
			return fmt.Errorf("server error and shutdown failure: %w", errors.Join(err, shutdownErr))
		}
		return err
	case <-ctx.Done():
		m.logger.Info().Msg("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), serverErrorShutdownBudget)
		defer cancel()
		return m.Shutdown(shutdownCtx)
	}
}

// startAPIServer binds the API listener and serves on it in the background.
// The listener is capped with netutil.LimitListener so a burst of conversion
// requests cannot exhaust file descriptors.
func (m *manager) startAPIServer(errChan chan<- error) error {
	ln, err := net.Listen("tcp", m.serverCfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", m.serverCfg.Listen, err)
	}
	if m.serverCfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, m.serverCfg.MaxConns)
	}

	m.apiServer = &http.Server{
		Handler:           m.deps.APIHandler,
		ReadTimeout:       apiReadTimeout,
		ReadHeaderTimeout: apiReadHeaderTimeout,
		WriteTimeout:      apiWriteTimeout,
		IdleTimeout:       apiIdleTimeout,
		MaxHeaderBytes:    apiMaxHeaderBytes,
	}

	tlsCert, tlsKey := m.serverCfg.TLSCert, m.serverCfg.TLSKey
	scheme := "http"
	serve := func() error { return m.apiServer.Serve(ln) }
	if tlsCert != "" && tlsKey != "" {
		scheme = "https"
		serve = func() error { return m.apiServer.ServeTLS(ln, tlsCert, tlsKey) }
	}

	go func() {
		m.logger.Info().
			Str("addr", ln.Addr().String()).
			Str("scheme", scheme).
			Msg("API server listening")

		if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error().
				Err(err).
				Str("event", "api.server.failed").
				Msg("API server failed")
			errChan <- fmt.Errorf("api server (%s): %w", scheme, err)
		}
	}()

	return nil
}

// startMetricsServer serves Prometheus scrapes on their own listener so
// operational traffic never competes with the capped API listener.
func (m *manager) startMetricsServer(errChan chan<- error) error {
	metricsAddr := m.serverCfg.MetricsListen
	if metricsAddr == "" {
		return nil
	}

	m.metricsServer = &http.Server{
		Addr:              metricsAddr,
		Handler:           m.deps.MetricsHandler,
		ReadHeaderTimeout: apiReadHeaderTimeout,
	}

	go func() {
		m.logger.Info().
			Str("addr", metricsAddr).
			Msg("metrics server listening")

		if err := m.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error().
				Err(err).
				Str("event", "metrics.server.failed").
				Msg("metrics server failed")
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	return nil
}

// Shutdown drains both servers, then runs the hooks newest-first. Every
// failure is collected; the daemon keeps tearing down past broken pieces.
func (m *manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("shutdown context is nil")
	}

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	m.mu.Unlock()

	m.logger.Info().Msg("shutting down daemon manager")

	// Bounded shutdown context independent from caller cancellation.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.shutdownGrace())
	defer cancel()

	errs := append(
		m.stopServer(shutdownCtx, "api", m.apiServer),
		m.stopServer(shutdownCtx, "metrics", m.metricsServer)...,
	)
	errs = append(errs, m.runHooks(shutdownCtx)...)

	if len(errs) > 0 {
		m.logger.Error().
			Int("error_count", len(errs)).
			Msg("shutdown completed with errors")
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	m.logger.Info().Msg("daemon manager stopped cleanly")
	return nil
}

func (m *manager) stopServer(ctx context.Context, name string, srv *http.Server) []error {
	if srv == nil {
		return nil
	}
	m.logger.Debug().Str("server", name).Msg("draining server")
	if err := srv.Shutdown(ctx); err != nil {
		return []error{fmt.Errorf("%s server shutdown: %w", name, err)}
	}
	return nil
}

func (m *manager) runHooks(ctx context.Context) []error {
	m.logger.Debug().Int("hooks", len(m.shutdownHooks)).Msg("executing shutdown hooks")

	var errs []error
	for i := len(m.shutdownHooks) - 1; i >= 0; i-- {
		h := m.shutdownHooks[i]
		started := time.Now()
		if err := h.hook(ctx); err != nil {
			m.logger.Error().
				Err(err).
				Str("hook", h.name).
				Dur("duration", time.Since(started)).
				Msg("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s: %w", h.name, err))
			continue
		}
		m.logger.Debug().
			Str("hook", h.name).
			Dur("duration", time.Since(started)).
			Msg("shutdown hook completed")
	}
	return errs
}

// RegisterShutdownHook queues a cleanup to run on Shutdown, newest first.
func (m *manager) RegisterShutdownHook(name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shutdownHooks = append(m.shutdownHooks, namedHook{name: name, hook: hook})
	m.logger.Debug().Str("hook", name).Msg("registered shutdown hook")
}

func (m *manager) shutdownGrace() time.Duration {
	if m.serverCfg.ShutdownGrace > 0 {
		return m.serverCfg.ShutdownGrace
	}
	return defaultShutdownGrace
}
