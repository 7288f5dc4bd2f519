package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/api/handler"
	mw "github.com/newrelic-experimental/newrelic-control-tower-customization/internal/api/middleware"
	"github.com/newrelic-experimental/newrelic-control-tower-customization/internal/metrics"
)

type Server struct {
	router       chi.Router
	logger       zerolog.Logger
	stackSets    *handler.StackSet
	apiKeyHashes []string
	readiness    *metrics.Readiness
}

func NewServer(logger zerolog.Logger, stackSets *handler.StackSet, apiKeyHashes []string, readiness *metrics.Readiness) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		logger:       logger,
		stackSets:    stackSets,
		apiKeyHashes: apiKeyHashes,
		readiness:    readiness,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/healthz", s.handleHealthz)
	if s.readiness != nil {
		s.router.Method(http.MethodGet, "/readyz", s.readiness)
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.Auth(s.apiKeyHashes))

		r.Post("/stacksets/{name}/provision", s.stackSets.Provision)
		r.Post("/stacksets/{name}/instances", s.stackSets.RequestInstances)
		r.Delete("/stacksets/{name}", s.stackSets.Decommission)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
