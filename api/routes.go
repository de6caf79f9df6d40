package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"resetwatch/api/routegroups"
	"resetwatch/core/auth"
)

func (s *Server) registerRoutes() {
	s.router.Use(s.recoverMiddleware)
	s.router.Use(s.securityHeadersMiddleware)
	s.router.Use(s.loggingMiddleware)

	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	guards := routegroups.Guards{
		WithKey:           s.withKey,
		RequirePermission: func(p string) func(http.HandlerFunc) http.HandlerFunc { return s.requirePermission(auth.Permission(p)) },
	}
	s.router.Route("/api", func(apiRouter chi.Router) {
		routegroups.RegisterTracker(apiRouter, guards, s.tracker, s.hub.Handler())
		routegroups.RegisterBackups(apiRouter, guards, s.backups)
	})
}
