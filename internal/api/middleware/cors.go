// SPDX-License-Identifier: MIT

package middleware

import "net/http"

const (
	corsMethods = "GET, POST, OPTIONS, DELETE"
	corsHeaders = "Content-Type, X-Request-ID, Authorization"
)

// devOrigins is the fallback allowlist when no origins are configured. It
// covers the ports local viewer frontends and dev servers bind to.
var devOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://localhost:8080",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:8080",
}

type originAllowlist struct {
	exact    map[string]struct{}
	allowAll bool
}

func newAllowlist(origins []string) originAllowlist {
	if len(origins) == 0 {
		origins = devOrigins
	}
	al := originAllowlist{exact: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		if o == "*" {
			al.allowAll = true
			continue
		}
		al.exact[o] = struct{}{}
	}
	return al
}

func (al originAllowlist) permits(origin string) bool {
	if al.allowAll {
		return true
	}
	_, ok := al.exact[origin]
	return ok
}

// CORS enforces a strict allowed-origins list. A listed origin is echoed
// back; an unlisted one gets no Access-Control-Allow-Origin header at all,
// which makes the browser block the response. Requests without an Origin
// header (curl, backend-to-backend) pass with a wildcard.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowlist := newAllowlist(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if origin := r.Header.Get("Origin"); origin == "" {
				h.Set("Access-Control-Allow-Origin", "*")
			} else if allowlist.permits(origin) {
				h.Set("Access-Control-Allow-Origin", origin)
			}

			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			h.Set("Access-Control-Max-Age", "600")
			h.Set("Vary", "Origin, Access-Control-Request-Method, Access-Control-Request-Headers")

			if r.Method == http.MethodOptions {
				h.Set("Allow", corsMethods)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
