// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

// untracedPaths are probe and scrape endpoints that would drown the trace
// stream in noise.
var untracedPaths = map[string]struct{}{
	"/healthz": {},
	"/readyz":  {},
	"/livez":   {},
	"/metrics": {},
}

// OTelHTTP wraps the handler with OpenTelemetry HTTP instrumentation using
// the globally registered tracer provider, with W3C trace-context
// propagation on incoming requests.
func OTelHTTP(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithTracerProvider(otel.GetTracerProvider()),
			otelhttp.WithFilter(func(r *http.Request) bool {
				_, skip := untracedPaths[r.URL.Path]
				return !skip
			}),
			otelhttp.WithSpanNameFormatter(spanName),
		)
	}
}

// spanName renders "{operation} {path}", appending a bare "?" when query
// parameters were present without exposing their values.
func spanName(operation string, r *http.Request) string {
	name := operation + " " + r.URL.Path
	if r.URL.RawQuery != "" {
		name += "?"
	}
	return name
}
