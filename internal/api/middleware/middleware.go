// SPDX-License-Identifier: MIT

// Package middleware provides the HTTP ingress middleware stack shared by
// the API and metrics servers.
package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/opentouch/touchstream/internal/log"
)

// HeaderRequestID carries the request correlation id on requests and
// responses.
const HeaderRequestID = "X-Request-ID"

// RequestID tags every request with a correlation id, honoring one supplied
// by the caller.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(log.ContextWithRequestID(r.Context(), id)))
	})
}

// Recoverer turns a panic in any downstream handler into a logged 500 so a
// single bad request cannot crash the daemon.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				logPanic(r, v)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error":      "internal",
					"detail":     "an unexpected error occurred",
					"request_id": log.RequestIDFromContext(r.Context()),
				})
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func logPanic(r *http.Request, v any) {
	logger := log.WithComponentFromContext(r.Context(), "panic-recovery")
	logger.Error().
		Str(log.FieldEvent, "panic.recovered").
		Str("method", r.Method).
		Str(log.FieldPath, cleanPath(r)).
		Str("remote_addr", r.RemoteAddr).
		Interface("panic_value", v).
		Str("stack_trace", string(debug.Stack())).
		Msg("handler panicked")
}

// cleanPath returns the request path with invalid UTF-8 stripped, keeping
// hostile bytes out of the log stream.
func cleanPath(r *http.Request) string {
	p := r.URL.Path
	if utf8.ValidString(p) {
		return p
	}
	return strings.ToValidUTF8(p, "")
}
