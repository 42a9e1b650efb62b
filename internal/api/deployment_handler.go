package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) handleGetDeployment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	deployment, err := s.store.GetDeployment(r.Context(), id)
	if err != nil {
		s.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deployment)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	jobs, err := s.store.ListJobs(r.Context(), id)
	if err != nil {
		s.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}
