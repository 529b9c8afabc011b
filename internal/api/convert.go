// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"net/http"

	"github.com/opentouch/touchstream/internal/artifact"
	"github.com/opentouch/touchstream/internal/jobs"
	"github.com/opentouch/touchstream/internal/pipeline"
)

// convertOptions are the caller-tunable decode knobs. Absent fields fall
// back to the daemon's configured decode defaults.
type convertOptions struct {
	Streams        []string `json:"streams,omitempty"`
	CameraStride   *int     `json:"camera_stride,omitempty"`
	OnError        string   `json:"on_error,omitempty"`
	HeaderMismatch string   `json:"header_mismatch,omitempty"`
	Prefetch       *bool    `json:"prefetch,omitempty"`
}

// convertRequest names the recording to convert. Either an absolute
// recording_path (confined to the library roots) or a root/rel_path pair.
type convertRequest struct {
	RecordingPath string          `json:"recording_path,omitempty"`
	Root          string          `json:"root,omitempty"`
	RelPath       string          `json:"rel_path,omitempty"`
	UseCache      *bool           `json:"use_cache,omitempty"`
	Options       *convertOptions `json:"options,omitempty"`
}

// convertResponse reports the artifact and, for fresh conversions, the run.
type convertResponse struct {
	Artifact string       `json:"artifact"`
	CacheHit bool         `json:"cache_hit"`
	Status   *jobs.Status `json:"status,omitempty"`
}

// artifactsResponse lists recorded conversions.
type artifactsResponse struct {
	Artifacts []artifact.Entry `json:"artifacts"`
}

// decodeOptions merges the request's overrides onto the configured defaults.
func (s *Server) decodeOptions(req *convertOptions) (pipeline.Options, error) {
	opts := pipeline.Options{
		CameraStride: s.cfg.Decode.CameraStride,
		Prefetch:     s.cfg.Decode.Prefetch,
	}
	var err error
	if opts.OnError, err = pipeline.ParseOnError(s.cfg.Decode.OnError); err != nil {
		return opts, err
	}
	if opts.HeaderMismatch, err = pipeline.ParseHeaderMismatch(s.cfg.Decode.HeaderMismatch); err != nil {
		return opts, err
	}
	if req == nil {
		return opts, nil
	}

	opts.Streams = req.Streams
	if req.CameraStride != nil {
		opts.CameraStride = *req.CameraStride
	}
	if req.OnError != "" {
		if opts.OnError, err = pipeline.ParseOnError(req.OnError); err != nil {
			return opts, err
		}
	}
	if req.HeaderMismatch != "" {
		if opts.HeaderMismatch, err = pipeline.ParseHeaderMismatch(req.HeaderMismatch); err != nil {
			return opts, err
		}
	}
	if req.Prefetch != nil {
		opts.Prefetch = *req.Prefetch
	}
	return opts, nil
}

// resolveConvertInput maps the request's addressing onto a confined path.
func (s *Server) resolveConvertInput(req convertRequest) (string, error) {
	if req.RecordingPath != "" {
		return s.confineRecording(req.RecordingPath)
	}
	if s.library != nil && req.Root != "" && req.RelPath != "" {
		return s.library.ResolvePath(req.Root, req.RelPath)
	}
	return "", nil
}

// handleConvert handles POST /api/convert. use_cache (default true) reuses
// the cached artifact for unchanged content; false forces a fresh run.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		respondError(w, r, http.StatusNotFound, codeNotFound, "artifact cache not configured")
		return
	}

	var req convertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, codeBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	src, err := s.resolveConvertInput(req)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if src == "" {
		respondError(w, r, http.StatusBadRequest, codeBadRequest, "provide recording_path or root and rel_path")
		return
	}

	opts, err := s.decodeOptions(req.Options)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, codeBadRequest, err.Error())
		return
	}

	var (
		path   string
		status *jobs.Status
	)
	if orTrue(req.UseCache) {
		path, status, err = s.cache.GetOrCreate(r.Context(), src, opts, s.convert)
	} else {
		path, status, err = s.cache.Create(r.Context(), src, opts, s.convert)
	}
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, convertResponse{
		Artifact: path,
		CacheHit: status == nil,
		Status:   status,
	})
}

// handleArtifacts handles GET /api/artifacts, serving the advisory
// conversion index.
func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil || s.cache.Index() == nil {
		writeJSON(w, r, http.StatusOK, artifactsResponse{Artifacts: []artifact.Entry{}})
		return
	}
	entries, err := s.cache.Index().List(r.Context())
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []artifact.Entry{}
	}
	writeJSON(w, r, http.StatusOK, artifactsResponse{Artifacts: entries})
}
