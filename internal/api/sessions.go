// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opentouch/touchstream/internal/session"
)

// createSessionRequest starts a viewer session, optionally preloaded.
type createSessionRequest struct {
	ArtifactPath  string   `json:"artifact_path,omitempty"`
	RecordingPath string   `json:"recording_path,omitempty"`
	ViewerArgs    []string `json:"viewer_args,omitempty"`
	UseCache      *bool    `json:"use_cache,omitempty"`
}

// loadSessionRequest points an existing session at new data.
type loadSessionRequest struct {
	ArtifactPath  string `json:"artifact_path,omitempty"`
	RecordingPath string `json:"recording_path,omitempty"`
	UseCache      *bool  `json:"use_cache,omitempty"`
	ReplaceViewer *bool  `json:"replace_viewer,omitempty"`
}

// deleteSessionResponse confirms a closed session.
type deleteSessionResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// sessionListResponse wraps the session listing.
type sessionListResponse struct {
	Sessions []session.Info `json:"sessions"`
}

// orTrue unpacks optional booleans that default to true, matching the
// original service's request semantics.
func orTrue(b *bool) bool {
	if b == nil {
		return true
	}
	return *b
}

func (s *Server) loadSpec(artifactPath, recordingPath string, useCache bool) (session.LoadSpec, error) {
	spec := session.LoadSpec{UseCache: useCache}
	if artifactPath != "" {
		resolved, err := s.confineArtifact(artifactPath)
		if err != nil {
			return session.LoadSpec{}, err
		}
		spec.ArtifactPath = resolved
	}
	if recordingPath != "" {
		resolved, err := s.confineRecording(recordingPath)
		if err != nil {
			return session.LoadSpec{}, err
		}
		spec.RecordingPath = resolved
	}
	return spec, nil
}

// handleSessionCreate handles POST /api/sessions.
func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, codeBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	spec, err := s.loadSpec(req.ArtifactPath, req.RecordingPath, orTrue(req.UseCache))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	info, err := s.sessions.Create(r.Context(), session.CreateSpec{
		LoadSpec:   spec,
		ViewerArgs: req.ViewerArgs,
	})
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, info)
}

// handleSessionList handles GET /api/sessions.
func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, sessionListResponse{Sessions: s.sessions.List()})
}

// handleSessionGet handles GET /api/sessions/{id}.
func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	info, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, info)
}

// handleSessionState handles GET /api/sessions/{id}/state.
func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	state, err := s.sessions.State(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, state)
}

// handleSessionLoad handles POST /api/sessions/{id}/load.
func (s *Server) handleSessionLoad(w http.ResponseWriter, r *http.Request) {
	var req loadSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, codeBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.ArtifactPath == "" && req.RecordingPath == "" {
		respondDomainError(w, r, session.ErrNoInput)
		return
	}

	spec, err := s.loadSpec(req.ArtifactPath, req.RecordingPath, orTrue(req.UseCache))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	info, err := s.sessions.Load(r.Context(), chi.URLParam(r, "id"), spec, orTrue(req.ReplaceViewer))
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, info)
}

// handleSessionDelete handles DELETE /api/sessions/{id}.
func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		respondDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, deleteSessionResponse{SessionID: id, Status: "closed"})
}
