// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/opentouch/touchstream/internal/library"
)

const (
	defaultRecordingLimit = 100
	maxRecordingLimit     = 1000
)

// rootsResponse lists the configured roots with their scan state.
type rootsResponse struct {
	Roots []library.Root `json:"roots"`
}

// recordingsResponse is one page of a root's recordings.
type recordingsResponse struct {
	Root       string              `json:"root"`
	Recordings []library.Recording `json:"recordings"`
	Total      int                 `json:"total"`
	Limit      int                 `json:"limit"`
	Offset     int                 `json:"offset"`
}

// scanRequest names the root to rescan.
type scanRequest struct {
	Root string `json:"root"`
}

func parsePage(r *http.Request) (limit, offset int) {
	limit = defaultRecordingLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxRecordingLimit {
		limit = maxRecordingLimit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// handleRecordings handles GET /api/recordings. Without a root parameter it
// lists the roots; with one it pages through that root's recordings.
func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	if s.library == nil {
		respondError(w, r, http.StatusNotFound, codeNotFound, "recordings library not configured")
		return
	}

	rootID := r.URL.Query().Get("root")
	if rootID == "" {
		roots, err := s.library.Roots(r.Context())
		if err != nil {
			respondDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, rootsResponse{Roots: roots})
		return
	}

	limit, offset := parsePage(r)
	recs, total, err := s.library.Recordings(r.Context(), rootID, limit, offset)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, recordingsResponse{
		Root:       rootID,
		Recordings: recs,
		Total:      total,
		Limit:      limit,
		Offset:     offset,
	})
}

// handleRecordingSummary handles GET /api/recordings/summary?root=&path=.
// The summary is built from the container header without decoding payloads.
func (s *Server) handleRecordingSummary(w http.ResponseWriter, r *http.Request) {
	if s.library == nil {
		respondError(w, r, http.StatusNotFound, codeNotFound, "recordings library not configured")
		return
	}

	rootID := r.URL.Query().Get("root")
	relPath := r.URL.Query().Get("path")
	if rootID == "" || relPath == "" {
		respondError(w, r, http.StatusBadRequest, codeBadRequest, "root and path query parameters are required")
		return
	}

	sum, err := s.library.Summary(r.Context(), rootID, relPath)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sum)
}

// handleRecordingsScan handles POST /api/recordings/scan, triggering a
// synchronous rescan of one root.
func (s *Server) handleRecordingsScan(w http.ResponseWriter, r *http.Request) {
	if s.library == nil {
		respondError(w, r, http.StatusNotFound, codeNotFound, "recordings library not configured")
		return
	}

	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, codeBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.Root == "" {
		respondError(w, r, http.StatusBadRequest, codeBadRequest, "root is required")
		return
	}

	result, err := s.library.TriggerScan(r.Context(), req.Root)
	if err != nil && result == nil {
		respondDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"root":       req.Root,
		"status":     result.FinalStatus,
		"indexed":    result.Indexed,
		"pruned":     result.Pruned,
		"unreadable": result.Unreadable,
	})
}
