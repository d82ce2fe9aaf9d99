package auth

import (
	"strings"

	"github.com/jrsteele09/go-idp-server/clients"
	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/jrsteele09/go-idp-server/oauth2"
)

// Validator holds the shape checks of both endpoints. They run before any
// caller authentication or storage access.
type Validator struct{}

// NewValidator creates a new Validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateTokenShape checks that the fields grant_type needs are present.
func (v *Validator) ValidateTokenShape(req TokenRequest) error {
	if req.GrantType == "" {
		return apperrors.InvalidRequest("grant_type is required")
	}
	switch req.GrantType {
	case oauth2.AuthorizationCodeGrant:
		if strings.TrimSpace(req.Code) == "" {
			return apperrors.InvalidRequest("code is required")
		}
	case oauth2.PasswordGrant:
		if strings.TrimSpace(req.Username) == "" || req.Password == "" {
			return apperrors.InvalidRequest("username and password are required")
		}
	case oauth2.RefreshTokenCodeGrant:
		if strings.TrimSpace(req.RefreshToken) == "" {
			return apperrors.InvalidRequest("refresh_token is required")
		}
	case oauth2.ClientCredentialsCodeGrant:
	default:
		return apperrors.UnsupportedGrantType()
	}
	return nil
}

// ValidateAuthorizeRequest checks the request against the client and returns
// the redirection URI it matched.
func (v *Validator) ValidateAuthorizeRequest(req AuthorizeRequest, client *clients.Client) (*clients.RedirectionURI, error) {
	if !req.flow().Valid() {
		return nil, apperrors.InvalidRequest(msgInvalidFlow)
	}
	redirect, ok := client.RedirectionURI(req.RedirectURI)
	if !ok {
		return nil, apperrors.InvalidRequest(msgRedirectURIMismatch)
	}
	if req.ResponseType != redirect.ResponseType {
		return nil, apperrors.InvalidRequest(msgResponseTypeMismatch)
	}
	return redirect, nil
}
