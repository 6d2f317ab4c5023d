// Package api provides HTTP handlers and routing for the dispatcher service.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cropsinsilico/cis-dispatcher/internal/auth"
)

// Server holds the HTTP handlers and dependencies.
type Server struct {
	router   *mux.Router
	handlers *Handlers
	auth     *auth.Middleware
	limiter  *auth.PerIPRateLimiter
}

// NewServer creates a new API server with the given handlers. authMW and
// limiter may be nil.
func NewServer(h *Handlers, authMW *auth.Middleware, limiter *auth.PerIPRateLimiter) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		handlers: h,
		auth:     authMW,
		limiter:  limiter,
	}
	s.setupRoutes()
	return s
}

// Router returns the configured router for use with http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	h := s.handlers
	user := func(fn http.HandlerFunc) http.Handler { return auth.RequireUser(fn) }
	admin := func(fn http.HandlerFunc) http.Handler { return auth.RequireAdmin(fn) }

	// Health endpoints
	s.router.HandleFunc("/health", h.Health).Methods("GET")
	s.router.HandleFunc("/healthz", h.Health).Methods("GET")
	s.router.HandleFunc("/ready", h.Ready).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Graphs
	api.HandleFunc("/graphs/convert", h.ConvertGraph).Methods("POST")
	api.HandleFunc("/graphs", h.ListGraphs).Methods("GET")
	api.Handle("/graphs", user(h.CreateGraph)).Methods("POST")
	api.HandleFunc("/graphs/{id}", h.GetGraph).Methods("GET")
	api.Handle("/graphs/{id}", user(h.UpdateGraph)).Methods("PUT")
	api.Handle("/graphs/{id}", user(h.DeleteGraph)).Methods("DELETE")
	api.Handle("/graphs/{id}/run", user(h.RunGraph)).Methods("POST")

	// Catalog specs
	api.Handle("/specs/ingest", admin(h.IngestSpecs)).Methods("PUT")
	api.HandleFunc("/specs/convert", h.ConvertSpec).Methods("POST")
	api.HandleFunc("/specs", h.ListSpecs).Methods("GET")
	api.Handle("/specs", user(h.CreateSpec)).Methods("POST")
	api.HandleFunc("/specs/{id}", h.GetSpec).Methods("GET")
	api.Handle("/specs/{id}", user(h.UpdateSpec)).Methods("PUT")
	api.Handle("/specs/{id}", user(h.DeleteSpec)).Methods("DELETE")

	// Jobs
	api.Handle("/jobs", user(h.ListJobs)).Methods("GET")
	api.Handle("/jobs/{name}", user(h.GetJob)).Methods("GET")
	api.Handle("/jobs/{name}/logs", user(h.GetJobLogs)).Methods("GET")
	api.Handle("/jobs/{name}", user(h.DeleteJob)).Methods("DELETE")

	// Preflight requests never match a method-restricted route.
	s.router.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	// Apply middleware
	s.router.Use(h.CORSMiddleware)
	s.router.Use(h.LoggingMiddleware)
	s.router.Use(h.RecoveryMiddleware)
	if s.limiter != nil {
		s.router.Use(s.limiter.Handler)
	}
	if s.auth != nil {
		s.router.Use(s.auth.Handler)
	}
}
