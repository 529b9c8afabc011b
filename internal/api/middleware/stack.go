// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// StackConfig selects which cross-cutting concerns the ingress stack
// applies. The API server builds its router from this so the concerns
// cannot drift between route groups.
type StackConfig struct {
	// CORS
	EnableCORS     bool
	AllowedOrigins []string

	// Security headers
	EnableSecurityHeaders bool
	CSP                   string

	// Observability
	EnableMetrics  bool
	TracingService string // empty disables tracing
	EnableLogging  bool

	// Rate limiting
	EnableRateLimit bool
	RateLimitRPS    int
	RateLimitBurst  int
}

// NewRouter constructs a chi router with the canonical middleware stack
// applied.
func NewRouter(cfg StackConfig) *chi.Mux {
	r := chi.NewRouter()
	ApplyStack(r, cfg)
	return r
}

// ApplyStack wires the configured middlewares onto r in their canonical
// order: the recoverer outermost so nothing below can crash the server,
// correlation before anything that logs or traces, and the rate limiter
// innermost so rejected requests still show up in metrics with request ids.
func ApplyStack(r chi.Router, cfg StackConfig) {
	chain := []func(http.Handler) http.Handler{Recoverer, RequestID}

	if cfg.EnableCORS {
		chain = append(chain, CORS(cfg.AllowedOrigins))
	}
	if cfg.EnableSecurityHeaders {
		chain = append(chain, SecurityHeaders(cfg.CSP))
	}
	if cfg.EnableMetrics {
		chain = append(chain, Metrics())
	}
	if cfg.TracingService != "" {
		chain = append(chain, OTelHTTP(cfg.TracingService))
	}
	if cfg.EnableLogging {
		chain = append(chain, Logging())
	}
	if cfg.EnableRateLimit {
		chain = append(chain, APIRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	}

	r.Use(chain...)
}
