// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"time"

	"github.com/opentouch/touchstream/internal/log"
)

// Logging emits one structured access-log line per request, correlated with
// the request id. Server errors log at error level and client errors at
// warn so the default info filter still surfaces failures.
func Logging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newRecorder(w)
			next.ServeHTTP(rec, r)

			logger := log.WithComponentFromContext(r.Context(), "http")
			evt := logger.Info()
			switch {
			case rec.status >= 500:
				evt = logger.Error()
			case rec.status >= 400:
				evt = logger.Warn()
			}
			evt.
				Str(log.FieldEvent, "http.request").
				Str("method", r.Method).
				Str(log.FieldPath, r.URL.Path).
				Int("status", rec.status).
				Int("bytes", rec.bytes).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("request completed")
		})
	}
}
