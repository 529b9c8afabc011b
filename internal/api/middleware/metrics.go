// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// httpMetrics bundles the per-request Prometheus collectors. Label values
// come from the chi route pattern, never the raw URL, so cardinality stays
// bounded no matter what clients request.
type httpMetrics struct {
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
	respSize *prometheus.HistogramVec
}

var ingress = httpMetrics{
	duration: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "touchstream_http_request_duration_seconds",
		Help:    "HTTP request latencies in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"}),
	inFlight: promauto.NewGauge(prometheus.GaugeOpts{
		Name: "touchstream_http_requests_in_flight",
		Help: "Current number of HTTP requests being served",
	}),
	respSize: promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "touchstream_http_response_size_bytes",
		Help:    "HTTP response sizes in bytes",
		Buckets: prometheus.ExponentialBuckets(100, 10, 8),
	}, []string{"method", "path", "status"}),
}

func (m *httpMetrics) observe(r *http.Request, rec *responseRecorder, elapsed time.Duration) {
	path := routePattern(r)
	status := strconv.Itoa(rec.status)
	m.duration.WithLabelValues(r.Method, path, status).Observe(elapsed.Seconds())
	if rec.bytes > 0 {
		m.respSize.WithLabelValues(r.Method, path, status).Observe(float64(rec.bytes))
	}
}

// routePattern resolves the matched chi pattern for the request, falling
// back to the raw path when the router has not matched one.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

// Metrics records duration, in-flight count and response size for every
// request passing through the stack.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ingress.inFlight.Inc()
			defer ingress.inFlight.Dec()

			rec := newRecorder(w)
			next.ServeHTTP(rec, r)
			ingress.observe(r, rec, time.Since(start))
		})
	}
}
