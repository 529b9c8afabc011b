// SPDX-License-Identifier: MIT

// Package health provides the daemon's liveness and readiness checks. It
// supports Docker HEALTHCHECK and Kubernetes probes with per-component
// status detail.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/opentouch/touchstream/internal/log"
)

// Status represents the overall health/readiness status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// rank orders statuses by severity so aggregation can take the worst.
func (s Status) rank() int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

func worse(a, b Status) Status {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// CheckResult represents the result of a component health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse represents the full health check response.
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse represents the readiness check response.
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker defines the interface for component health checks.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager runs registered checkers and renders probe responses.
type Manager struct {
	version string
	probes  []Checker
}

// NewManager creates a new health check manager.
func NewManager(version string) *Manager {
	return &Manager{version: version}
}

// RegisterChecker adds a component checker. Registration happens during
// startup wiring; the slice is read-only afterwards.
func (m *Manager) RegisterChecker(c Checker) {
	m.probes = append(m.probes, c)
}

// probeAll executes every checker concurrently and aggregates the worst
// status. Checkers are independent, so a slow store ping does not serialize
// behind a slow redis ping.
func (m *Manager) probeAll(ctx context.Context) (map[string]CheckResult, Status) {
	results := make(map[string]CheckResult, len(m.probes))
	agg := StatusHealthy

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, p := range m.probes {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			r := c.Check(ctx)
			mu.Lock()
			results[c.Name()] = r
			agg = worse(agg, r.Status)
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	return results, agg
}

// Health performs a liveness check. The process answering at all means it is
// alive, so the status is healthy unless a verbose component check fails.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	body := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
	}
	if verbose && len(m.probes) > 0 {
		body.Checks, body.Status = m.probeAll(ctx)
	}
	return body
}

// Ready performs a readiness check. Any unhealthy checker marks the daemon
// not ready; degraded checkers lower the status but keep traffic flowing.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	body := ReadinessResponse{
		Ready:     true,
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}
	if len(m.probes) == 0 {
		return body
	}
	body.Checks, body.Status = m.probeAll(ctx)
	body.Ready = body.Status != StatusUnhealthy
	return body
}

// writeProbe renders a probe body as JSON. Encode failures are logged under
// the probe's component so they show up next to the probe's other events.
func writeProbe(w http.ResponseWriter, r *http.Request, code int, body any, component string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithComponentFromContext(r.Context(), component).
			Error().
			Err(err).
			Str(log.FieldEvent, component+".encode_error").
			Msg("failed to encode probe response")
	}
}

func verboseRequested(r *http.Request) bool {
	return r.URL.Query().Get("verbose") == "true"
}

// ServeHealth handles HTTP liveness requests. Always 200; ?verbose=true adds
// per-component detail.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	body := m.Health(r.Context(), verboseRequested(r))
	writeProbe(w, r, http.StatusOK, body, "health")
}

// ServeReady handles HTTP readiness requests: 200 when ready, 503 otherwise.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	body := m.Ready(r.Context())

	code := http.StatusOK
	if !body.Ready {
		code = http.StatusServiceUnavailable
	}
	writeProbe(w, r, code, body, "readiness")

	log.WithComponentFromContext(r.Context(), "readiness").Debug().
		Str(log.FieldEvent, "readiness.checked").
		Str("status", string(body.Status)).
		Bool("ready", body.Ready).
		Msg("readiness probed")
}
