package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// OAuth Routes
	RouteOAuthToken     = "/oauth/token"
	RouteOAuthAuthorize = "/oauth/authorize"

	// API Routes
	RouteAPIUser             = "/api/user"
	RouteAPIUserExists       = "/api/users/exists"
	RouteAPIValidatePassword = "/api/validate-password"

	// Operational Routes
	RouteMetrics = "/metrics"
	RouteHealthz = "/healthz"
)
