package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-idp-server/auth"
	"github.com/jrsteele09/go-idp-server/internal/config"
	"github.com/jrsteele09/go-idp-server/internal/metrics"
	"github.com/jrsteele09/go-idp-server/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	env      string // Environment (e.g., "DEV", "PROD")
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	auth     *auth.AuthorizationService
	ledger   *token.Ledger
	metrics  *metrics.Metrics
	store    Pinger
	throttle *Throttle
}

type ServerOption func(*Server)

func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithPinger makes /healthz report the state of the store.
func WithPinger(p Pinger) ServerOption {
	return func(s *Server) {
		s.store = p
	}
}

func New(cfg config.Config, authService *auth.AuthorizationService, ledger *token.Ledger, options ...ServerOption) (*Server, error) {
	if authService == nil {
		return nil, errors.New("[Server New] authorization service is required")
	}
	if ledger == nil {
		return nil, errors.New("[Server New] token ledger is required")
	}

	s := &Server{
		env:      cfg.Server.Env,
		mux:      http.NewServeMux(),
		config:   cfg,
		auth:     authService,
		ledger:   ledger,
		throttle: NewThrottle(cfg.Throttle),
	}
	for _, opt := range options {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Close stops the background sweep of the throttle.
func (s *Server) Close() {
	s.throttle.Stop()
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
	if s.env != config.EnvDev {
		return
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	log.Debug().Msgf("[%-19s] %s", displayMethod(method), path)
}

func displayMethod(method string) string {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	if color, ok := methodColors[method]; ok {
		return color + paddedMethod + ResetColor
	}
	return Gray + paddedMethod + ResetColor
}
