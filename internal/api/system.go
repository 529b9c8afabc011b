// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/opentouch/touchstream/internal/version"
)

// versionResponse reports the build identity.
type versionResponse struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	Date    string `json:"date,omitempty"`
}

// handleVersion handles GET /version.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	v := s.cfg.Version
	if v == "" {
		v = version.Version
	}
	writeJSON(w, r, http.StatusOK, versionResponse{
		Version: v,
		Commit:  version.Commit,
		Date:    version.Date,
	})
}
