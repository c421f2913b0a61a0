package server

import (
	"net/http"

	"github.com/jrsteele09/hms-console/authapi"
	"github.com/jrsteele09/hms-console/realtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Route path constants served in addition to the auth contract
const (
	RouteHealthz = "/healthz"
	RouteMetrics = "/metrics"
)

func (s *Server) initRoutes() {
	s.RegisterRouteHandler("POST "+authapi.RouteLogin, ChainMiddleware(s.Login(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+authapi.RouteRefresh, ChainMiddleware(s.Refresh(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+authapi.RouteMe, ChainMiddleware(s.Me(), s.APIMiddleware(s.RequireAuth())...))
	s.RegisterRouteHandler("POST "+authapi.RouteLogout, ChainMiddleware(s.Logout(), s.APIMiddleware(s.RequireAuth())...))

	// Preflight for the JSON routes
	s.RegisterRouteHandler("OPTIONS /auth/{action}", ChainMiddleware(noContent, s.APIMiddleware()...))

	s.RegisterRouteHandler("GET "+realtime.RouteWS, ChainMiddleware(s.ServeWS(), s.LoggingMiddleware, s.RecoverMiddleware, s.RequireAuth()))
	s.RegisterRouteFunc("GET "+RouteHealthz, s.Healthz())

	if s.registry != nil {
		s.RegisterRouteHandler("GET "+RouteMetrics, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
}

func noContent(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
