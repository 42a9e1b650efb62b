// Package api implements the HTTP API surface (C12): a thin gorilla/mux
// router exposing read endpoints over deployments/jobs/services/backups
// and webhook ingestion that feeds the event bus C9 consumes. It is
// deliberately not a full resource API — §1 scopes the core to named
// interfaces, not a UI backend.
package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/temps-sh/temps-core/internal/events"
	"github.com/temps-sh/temps-core/internal/store"
)

// Server wires the store and event bus behind the HTTP surface.
type Server struct {
	router      *mux.Router
	store       store.Store
	bus         *events.Bus
	log         *zap.Logger
	bearerToken string
	corsOrigin  string
}

// Option configures optional Server behaviour.
type Option func(*Server)

// WithBearerToken requires Authorization: Bearer <token> on every request
// when set; an empty token disables auth (local/dev use).
func WithBearerToken(token string) Option {
	return func(s *Server) { s.bearerToken = token }
}

// WithCORSOrigin sets the Access-Control-Allow-Origin value; defaults to "*".
func WithCORSOrigin(origin string) Option {
	return func(s *Server) { s.corsOrigin = origin }
}

// New constructs a Server and registers every route.
func New(s store.Store, bus *events.Bus, log *zap.Logger, opts ...Option) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	srv := &Server{router: mux.NewRouter(), store: s, bus: bus, log: log, corsOrigin: "*"}
	for _, opt := range opts {
		opt(srv)
	}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.router.Use(s.corsMiddleware, s.authMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/webhooks/git", s.handleGitWebhook).Methods(http.MethodPost)

	s.router.HandleFunc("/projects/{projectID}", s.handleGetProject).Methods(http.MethodGet)
	s.router.HandleFunc("/projects/{projectID}/environments", s.handleListEnvironments).Methods(http.MethodGet)

	s.router.HandleFunc("/deployments/{id}", s.handleGetDeployment).Methods(http.MethodGet)
	s.router.HandleFunc("/deployments/{id}/jobs", s.handleListJobs).Methods(http.MethodGet)

	s.router.HandleFunc("/services", s.handleListServices).Methods(http.MethodGet)
	s.router.HandleFunc("/services/{id}", s.handleGetService).Methods(http.MethodGet)
	s.router.HandleFunc("/projects/{projectID}/services", s.handleListLinkedServices).Methods(http.MethodGet)

	s.router.HandleFunc("/backups", s.handleListBackups).Methods(http.MethodGet)
	s.router.HandleFunc("/backups/{id}", s.handleGetBackup).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP server on addr.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.bearerToken == "" || r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		const prefix = "Bearer "
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(authz, prefix) || strings.TrimSpace(authz[len(prefix):]) != s.bearerToken {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
