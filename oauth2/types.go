package oauth2

// ResponseType represents the OAuth 2.0 response type.
// Determines what is returned from the authorization endpoint.
type ResponseType string

const (
	// CodeResponseType indicates the authorization code flow.
	// Returns a one-time authorization code in the redirect query string that must be
	// exchanged for tokens at the token endpoint.
	// Example: https://client.example.com/callback?code=4f1c...&state=xyz
	CodeResponseType ResponseType = "code"

	// TokenResponseType indicates the implicit flow.
	// Returns an access token directly in the redirect URL fragment, never in the query.
	// Example: https://client.example.com/callback#access_token=9a2e...&token_type=Bearer&state=xyz
	TokenResponseType ResponseType = "token"
)

func (r ResponseType) Valid() bool {
	return r == CodeResponseType || r == TokenResponseType
}

// GrantType represents the OAuth 2.0 grant type used at the token endpoint.
// Determines what credentials are required to obtain tokens.
type GrantType string

const (
	// AuthorizationCodeGrant exchanges an authorization code for tokens.
	// Client-only: the first-party app never redeems codes.
	// Token request includes: code, client_id, client_secret (when the redirect URI requires one)
	// Returns: access_token, refresh_token
	AuthorizationCodeGrant GrantType = "authorization_code"

	// PasswordGrant exchanges a username (email) and password for tokens.
	// App-only: guarded by the invalid_login rate limiter and its captcha escape valve.
	// Returns: access_token, refresh_token
	PasswordGrant GrantType = "password"

	// ClientCredentialsCodeGrant authenticates the first-party app itself.
	// App-only: no user context.
	// Returns: access_token (no refresh_token)
	ClientCredentialsCodeGrant GrantType = "client_credentials"

	// RefreshTokenCodeGrant exchanges a refresh token for a new pair.
	// Available to both the app and clients; the old pair is invalidated atomically.
	// Returns: rotated access_token and refresh_token
	RefreshTokenCodeGrant GrantType = "refresh_token"
)

// Flow is the user-facing journey a client started the authorize request in.
type Flow string

const (
	LoginFlow           Flow = "login"
	RegistrationFlow    Flow = "registration"
	RecoverPasswordFlow Flow = "recover_password"
)

func (f Flow) Valid() bool {
	switch f {
	case LoginFlow, RegistrationFlow, RecoverPasswordFlow:
		return true
	}
	return false
}

const TokenTypeBearer = "Bearer"
