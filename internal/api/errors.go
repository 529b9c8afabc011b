// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"github.com/opentouch/touchstream/internal/container"
	"github.com/opentouch/touchstream/internal/fsutil"
	"github.com/opentouch/touchstream/internal/jobs"
	"github.com/opentouch/touchstream/internal/library"
	"github.com/opentouch/touchstream/internal/log"
	"github.com/opentouch/touchstream/internal/session"
)

// Stable machine-readable error codes.
const (
	codeBadRequest       = "bad_request"
	codeUnauthorized     = "unauthorized"
	codeNotFound         = "not_found"
	codeViewerRunning    = "viewer_running"
	codeContainerCorrupt = "container_corrupt"
	codeRateLimited      = "rate_limited"
	codeScanRunning      = "scan_running"
	codeOutsideRoots     = "path_outside_roots"
	codeInternal         = "internal"
)

// errorBody is the JSON error envelope of every non-2xx API response.
type errorBody struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSON writes v with the given status. Encoding failures are logged;
// the status line is already on the wire by then.
func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithComponentFromContext(r.Context(), "api").Error().
			Err(err).Int("status", code).Msg("encode response")
	}
}

// respondError writes the error envelope with the request's correlation id.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	writeJSON(w, r, status, errorBody{
		Error:     code,
		Detail:    detail,
		RequestID: log.RequestIDFromContext(r.Context()),
	})
}

// respondDomainError maps sentinel errors from the service layer onto HTTP
// statuses. Unknown errors become an opaque 500; the detail stays server-side.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrArtifactMissing),
		errors.Is(err, session.ErrRecordingMissing),
		errors.Is(err, library.ErrRootNotFound),
		errors.Is(err, library.ErrRecordingNotFound),
		errors.Is(err, fs.ErrNotExist):
		respondError(w, r, http.StatusNotFound, codeNotFound, err.Error())

	case errors.Is(err, session.ErrNoInput):
		respondError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())

	case errors.Is(err, session.ErrViewerRunning):
		respondError(w, r, http.StatusConflict, codeViewerRunning, err.Error())

	case errors.Is(err, session.ErrRateLimited):
		w.Header().Set("Retry-After", "1")
		respondError(w, r, http.StatusTooManyRequests, codeRateLimited, err.Error())

	case errors.Is(err, library.ErrScanRunning):
		w.Header().Set("Retry-After", "2")
		respondError(w, r, http.StatusServiceUnavailable, codeScanRunning, err.Error())

	case errors.Is(err, container.ErrCorrupt):
		respondError(w, r, http.StatusUnprocessableEntity, codeContainerCorrupt, err.Error())

	case errors.Is(err, fsutil.ErrOutsideRoot):
		respondError(w, r, http.StatusBadRequest, codeOutsideRoots, err.Error())

	case errors.Is(err, jobs.ErrOpenInput):
		// The open failure hides the cause one level down.
		respondError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())

	default:
		log.WithComponentFromContext(r.Context(), "api").Error().
			Err(err).Str(log.FieldPath, r.URL.Path).Msg("unhandled api error")
		respondError(w, r, http.StatusInternalServerError, codeInternal, "internal error")
	}
}
