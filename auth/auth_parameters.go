package auth

import (
	"net/url"
	"strings"

	"github.com/jrsteele09/go-idp-server/oauth2"
	"github.com/jrsteele09/go-idp-server/scopes"
	"github.com/jrsteele09/go-idp-server/users"
)

// TokenRequest holds the parameters of a request to the /oauth/token endpoint.
// Client credentials come from the HTTP Basic header when present, otherwise from the body.
type TokenRequest struct {
	// GrantType selects exactly one grant handler.
	// Required: Yes
	// Values: "authorization_code", "password", "client_credentials", "refresh_token"
	GrantType oauth2.GrantType

	// ClientID identifies the caller: the first-party app or a registered client.
	// Required: Yes
	ClientID string

	// ClientSecret authenticates the caller.
	// Required: Always for the first-party app; for a client only when the
	// redirection URI the code was issued for needs a secret.
	ClientSecret string

	// Code is the raw authorization code.
	// Flow: authorization_code
	Code string

	// Username is the login email.
	// Flow: password
	Username string

	// Password is the plain text password, compared against the stored bcrypt hash.
	// Flow: password
	Password string

	// RefreshToken is the raw refresh token to rotate.
	// Flow: refresh_token
	RefreshToken string

	// CaptchaResponse clears the invalid login window for Username once verified.
	// Flow: password
	CaptchaResponse string

	// RemoteIP is the caller's address, forwarded to the captcha service.
	RemoteIP string
}

// AuthorizeRequest holds the parameters of a request to the /oauth/authorize endpoint.
// These are received as query parameters on both GET and POST.
type AuthorizeRequest struct {
	// ClientID identifies the client the user is authorizing.
	// Required: Yes, except for first-party registration
	// Example: "shop-client"
	ClientID string

	// RedirectURI must exactly match one of the client's registered redirection URIs.
	// The matched URI decides the scope, scope flags and response type of the grant.
	RedirectURI string

	// ResponseType must equal the response type registered for RedirectURI.
	// Values: "code" (code in the query string), "token" (token in the URL fragment)
	ResponseType oauth2.ResponseType

	// State is echoed back to the client in the redirect.
	State string

	// Flow is the journey the client started the user in.
	// Values: "login" (default), "registration", "recover_password"
	Flow oauth2.Flow

	// UseTestAccount asks for a throwaway identity for this client.
	UseTestAccount bool

	// TestAccountToken is a first-party access token of a test account that the
	// user is now registering for real. Its records are moved to the real user.
	TestAccountToken string

	// CaptchaResponse clears the signup or invalid login window once verified.
	CaptchaResponse string

	// RemoteIP is the caller's address, used as the signup rate limit key.
	RemoteIP string
}

func (r AuthorizeRequest) flow() oauth2.Flow {
	if r.Flow == "" {
		return oauth2.LoginFlow
	}
	return r.Flow
}

// Submission is the form of a POST /oauth/authorize round.
//
// Fields to show are read by their field name: "email", "nickname",
// "phone_number", "mobile_phone_number", ... and date_of_birth from
// "date_of_birth_year", "date_of_birth_month" and "date_of_birth_day".
// Address fields are read from "<field>_line1", "<field>_line2",
// "<field>_city", "<field>_postal_code" and "<field>_country".
//
// Fields to authorize may narrow the confirmed sub-resources with
// "<field>_id" values; without them every existing entry is authorized, and
// the first address is used for shipping and billing.
type Submission struct {
	// Email and Password log in or register an anonymous user.
	Email    string
	Password string

	Values url.Values
}

func (s Submission) value(f scopes.Field) string {
	return strings.TrimSpace(s.Values.Get(string(f)))
}

func (s Submission) part(f scopes.Field, part string) string {
	return strings.TrimSpace(s.Values.Get(string(f) + "_" + part))
}

// selected returns the ids chosen for an authorized multi-valued field.
func (s Submission) selected(f scopes.Field) []string {
	var ids []string
	for _, id := range s.Values[string(f)+"_id"] {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s Submission) address(f scopes.Field) users.Address {
	return users.Address{
		Line1:      s.part(f, "line1"),
		Line2:      s.part(f, "line2"),
		City:       s.part(f, "city"),
		PostalCode: s.part(f, "postal_code"),
		Country:    s.part(f, "country"),
	}
}

func (s Submission) hasCredentials() bool {
	return strings.TrimSpace(s.Email) != "" || s.Password != ""
}
