package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := s.store.ListBackups(r.Context())
	if err != nil {
		s.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, backups)
}

func (s *Server) handleGetBackup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	backup, err := s.store.GetBackup(r.Context(), id)
	if err != nil {
		s.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, backup)
}
