// Package server is a reference implementation of the hospital backend's
// auth and realtime contract, used for local development and end-to-end
// tests of the console.
package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/hms-console/internal/config"
	"github.com/jrsteele09/hms-console/token"
	"github.com/jrsteele09/hms-console/token/refresh"
	"github.com/jrsteele09/hms-console/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Repos are the stores the server reads and writes
type Repos struct {
	Users         users.Repo
	RefreshTokens refresh.Repo
	Revoked       token.RevokedTokenCache
}

type Server struct {
	env      string // Environment (e.g., "DEV", "PROD")
	mux      *http.ServeMux
	routes   []string
	config   config.ServerConfig
	repos    Repos
	issuer   *token.Issuer
	refresh  *refresh.Manager
	hub      *Hub
	logger   zerolog.Logger
	registry *prometheus.Registry
	metrics  *httpMetrics
	nowFunc  func() time.Time
}

type Option func(*Server)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRegistry registers the server's metrics with reg and serves them on /metrics
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = reg
	}
}

// WithNowFunc sets the clock used for token issue and expiry (primarily for testing)
func WithNowFunc(now func() time.Time) Option {
	return func(s *Server) {
		s.nowFunc = now
	}
}

func New(cfg config.Config, repos Repos, options ...Option) (*Server, error) {
	if repos.Users == nil || repos.RefreshTokens == nil || repos.Revoked == nil {
		return nil, fmt.Errorf("[Server New] users, refresh token and revocation repos are required")
	}
	if len(cfg.GetJWTSecret()) == 0 {
		return nil, fmt.Errorf("[Server New] a JWT secret is required")
	}

	s := &Server{
		env:     cfg.GetEnv(),
		mux:     http.NewServeMux(),
		config:  cfg,
		repos:   repos,
		logger:  log.Logger,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(s)
	}

	s.issuer = token.NewIssuer(
		token.NewHMACSigner(cfg.GetJWTSecret()),
		cfg.GetIssuer(),
		cfg.GetAccessTokenTTL(),
		token.WithRevokedTokenCache(repos.Revoked),
		token.WithNowFunc(s.nowFunc),
	)
	s.refresh = refresh.NewManager(repos.RefreshTokens, cfg, refresh.WithNowFunc(s.nowFunc))
	s.hub = NewHub(s.logger)
	s.hub.nowFunc = s.nowFunc
	if s.registry != nil {
		s.metrics = newHTTPMetrics(s.registry)
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Hub returns the realtime event hub
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			s.logger.Info().Msg(formatRoute(parts[0], parts[1]))
		} else {
			s.logger.Info().Msg(formatRoute("", parts[0]))
		}
	}
}

func formatRoute(method, path string) string {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	return fmt.Sprintf("[%s%s%s] %s", color, paddedMethod, ResetColor, path)
}
