package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.store.ListServices(r.Context())
	if err != nil {
		s.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	service, err := s.store.GetService(r.Context(), id)
	if err != nil {
		s.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, service)
}

func (s *Server) handleListLinkedServices(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["projectID"]
	services, err := s.store.ListLinkedServices(r.Context(), projectID)
	if err != nil {
		s.writeProviderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}
