// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig bounds request volume per key over a sliding window.
type RateLimitConfig struct {
	// RequestLimit is the maximum number of requests allowed in the window.
	RequestLimit int
	// WindowSize is the sliding window the limit applies to.
	WindowSize time.Duration
	// KeyFunc buckets requests for limiting. Nil buckets by client IP.
	KeyFunc func(r *http.Request) (string, error)
}

// RateLimit builds a sliding-window limiter on httprate. Rejected requests
// get a 429 with a Retry-After header and the standard error envelope.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = httprate.KeyByIP
	}

	return httprate.Limit(
		cfg.RequestLimit,
		cfg.WindowSize,
		httprate.WithKeyFuncs(keyFunc),
		httprate.WithLimitHandler(rejectLimited(cfg.WindowSize)),
	)
}

func rejectLimited(window time.Duration) http.HandlerFunc {
	retryAfter := strconv.Itoa(int(window.Seconds()))
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", retryAfter)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate_limited","detail":"too many requests, try again later"}`))
	}
}

// APIRateLimit is the per-IP limiter for the general API surface. The rps
// value is stretched over a one-minute sliding window so short bursts
// within the burst allowance pass.
func APIRateLimit(rps, burst int) func(http.Handler) http.Handler {
	if rps < 1 {
		rps = 1
	}
	limit := rps * 60
	if burst > limit {
		limit = burst
	}
	return RateLimit(RateLimitConfig{
		RequestLimit: limit,
		WindowSize:   time.Minute,
	})
}
