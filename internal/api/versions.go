package api

import "net/http"

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	if s.versions == nil {
		writeError(w, http.StatusServiceUnavailable, "versions are not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.versions.Page(r.Context()))
}

func (s *Server) handleLatestVersions(w http.ResponseWriter, r *http.Request) {
	if s.versions == nil {
		writeError(w, http.StatusServiceUnavailable, "versions are not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.versions.Landing(r.Context()))
}
