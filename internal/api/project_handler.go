package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["projectID"]
	project, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		s.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleListEnvironments(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["projectID"]
	envs, err := s.store.ListEnvironmentsByProject(r.Context(), id)
	if err != nil {
		s.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envs)
}
