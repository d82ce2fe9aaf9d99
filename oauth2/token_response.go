package oauth2

// TokenResponse represents the response from an OAuth2 token request.
// This is the standard OAuth2 token endpoint response format as defined in RFC 6749,
// extended with the client-visible user identifier and status.
type TokenResponse struct {
	// AccessToken is the opaque bearer token used to access protected resources.
	// Example: "3c6e0b8a9c15224a8228b9a98ca1531d3c6e0b8a9c15224a8228b9a98ca1531d"
	// Usage: Include in Authorization header: "Bearer <access_token>"
	AccessToken string `json:"access_token"`

	// TokenType indicates how to use the access token (always "Bearer").
	TokenType string `json:"token_type"`

	// ExpiresIn is the lifetime in seconds of the access token.
	ExpiresIn int `json:"expires_in"`

	// RefreshToken is used to obtain a new pair with grant_type=refresh_token.
	// Single use: it rotates on each refresh.
	RefreshToken string `json:"refresh_token,omitempty"`

	// UserID is the real user id for the first-party app and the client-specific
	// fake identifier for every other client.
	UserID string `json:"user_id,omitempty"`

	// UserStatus is the user's standing with the client: "registered" or "test_account".
	UserStatus string `json:"user_status,omitempty"`
}

// ErrorResponse is the body of every failed OAuth request.
type ErrorResponse struct {
	Error            string            `json:"error"`
	ErrorDescription string            `json:"error_description,omitempty"`
	Fields           map[string]string `json:"fields,omitempty"`
	Captcha          bool              `json:"captcha,omitempty"`
}
