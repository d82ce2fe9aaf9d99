package server

import "net/http"

func (s *Server) initRoutes() {
	// OAuth routes
	s.RegisterRouteHandler("POST "+RouteOAuthToken, ChainMiddleware(s.Token(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteOAuthAuthorize, ChainMiddleware(s.Authorize(), s.APIMiddleware(s.OptionalAuth())...))
	s.RegisterRouteHandler("POST "+RouteOAuthAuthorize, ChainMiddleware(s.Authorize(), s.APIMiddleware(s.OptionalAuth())...))

	// Protected API routes (require a valid access token)
	s.RegisterRouteHandler("GET "+RouteAPIUser, ChainMiddleware(s.UserInfo(), s.APIMiddleware(s.RequireAuth())...))

	// Public API routes
	s.RegisterRouteHandler("POST "+RouteAPIUserExists, ChainMiddleware(s.UserExists(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteAPIValidatePassword, ChainMiddleware(s.ValidatePassword(), s.APIMiddleware()...))

	// Preflight for every browser-facing API route
	s.RegisterRouteHandler("OPTIONS /", ChainMiddleware(func(w http.ResponseWriter, r *http.Request) {}, s.CorsMiddleware))

	// Operational routes bypass the throttle so scrapers and health checks are never rejected
	s.RegisterRouteHandler("GET "+RouteMetrics, s.metrics.Handler())
	s.RegisterRouteHandler("GET "+RouteHealthz, ChainMiddleware(s.Healthz(), s.RecoverMiddleware))
}
