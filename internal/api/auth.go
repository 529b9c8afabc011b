// SPDX-License-Identifier: MIT

package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/opentouch/touchstream/internal/log"
)

// extractBearer returns the Authorization bearer token, or "".
func extractBearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return ""
}

// authorizeToken compares got against expected in constant time. An empty
// expected or got token never authorizes.
func authorizeToken(got, expected string) bool {
	if strings.TrimSpace(expected) == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(expected)) == 1
}

// requireToken gates mutating routes behind the configured API token. Without
// a configured token the daemon is an open local tool and the gate passes
// everything through.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.cfg.Server.APIToken
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		got := extractBearer(r)
		if got == "" {
			log.WithComponentFromContext(r.Context(), "auth").Warn().
				Str(log.FieldEvent, "auth.missing_token").
				Str(log.FieldPath, r.URL.Path).
				Msg("authorization header missing")
			respondError(w, r, http.StatusUnauthorized, codeUnauthorized, "bearer token required")
			return
		}
		if !authorizeToken(got, token) {
			log.WithComponentFromContext(r.Context(), "auth").Warn().
				Str(log.FieldEvent, "auth.invalid_token").
				Str(log.FieldPath, r.URL.Path).
				Msg("invalid api token")
			respondError(w, r, http.StatusUnauthorized, codeUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
