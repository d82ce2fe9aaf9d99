package auth

import (
	"context"
	"crypto/subtle"

	"github.com/jrsteele09/go-idp-server/authorization"
	"github.com/jrsteele09/go-idp-server/clients"
	"github.com/jrsteele09/go-idp-server/events"
	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/jrsteele09/go-idp-server/oauth2"
	"github.com/jrsteele09/go-idp-server/scopes"
	"github.com/jrsteele09/go-idp-server/token"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// caller is the authenticated party of a token request: the first-party app
// or a registered client.
type caller struct {
	app             bool
	client          *clients.Client
	secretPresented bool
}

func (c caller) clientID() string {
	if c.app {
		return ""
	}
	return c.client.ID
}

// Token handles the OAuth 2.0 token request. Exactly one grant handler runs.
func (as *AuthorizationService) Token(ctx context.Context, req TokenRequest) (resp *oauth2.TokenResponse, err error) {
	ctx, span := as.tracer.Start(ctx, "auth.Token", trace.WithAttributes(attribute.String("grant_type", string(req.GrantType))))
	defer func() {
		if err != nil {
			as.metrics.GrantFailed(string(req.GrantType), apperrors.From(err).Code)
		} else {
			as.metrics.TokenIssued(string(req.GrantType))
		}
		endSpan(span, err)
	}()

	if err := NewValidator().ValidateTokenShape(req); err != nil {
		return nil, err
	}
	c, err := as.authenticateCaller(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := checkGrantPartition(req.GrantType, c); err != nil {
		return nil, err
	}

	switch req.GrantType {
	case oauth2.ClientCredentialsCodeGrant:
		return as.clientCredentialsGrant(ctx, c)
	case oauth2.PasswordGrant:
		return as.passwordGrant(ctx, req)
	case oauth2.AuthorizationCodeGrant:
		return as.authorizationCodeGrant(ctx, c, req)
	case oauth2.RefreshTokenCodeGrant:
		return as.refreshTokenGrant(ctx, c, req)
	}
	return nil, apperrors.UnsupportedGrantType()
}

// authenticateCaller matches the privileged first-party pair or a registered
// client. Every failure is the same invalid_client.
func (as *AuthorizationService) authenticateCaller(ctx context.Context, req TokenRequest) (caller, error) {
	if req.ClientID == "" {
		return caller{}, apperrors.InvalidClient()
	}
	if req.ClientID == as.app.ClientID {
		if as.app.ClientSecret == "" || subtle.ConstantTimeCompare([]byte(req.ClientSecret), []byte(as.app.ClientSecret)) != 1 {
			return caller{}, apperrors.InvalidClient()
		}
		return caller{app: true, secretPresented: true}, nil
	}

	client, err := as.repos.Clients.Get(ctx, req.ClientID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return caller{}, apperrors.InvalidClient()
	}
	if err != nil {
		return caller{}, errors.Wrap(err, "[authenticateCaller] loading client")
	}
	if req.ClientSecret != "" && !client.CheckSecret(req.ClientSecret) {
		return caller{}, apperrors.InvalidClient()
	}
	return caller{client: client, secretPresented: req.ClientSecret != ""}, nil
}

// checkGrantPartition keeps app-only grants away from clients and client-only
// grants away from the app.
func checkGrantPartition(grantType oauth2.GrantType, c caller) error {
	switch grantType {
	case oauth2.ClientCredentialsCodeGrant, oauth2.PasswordGrant:
		if !c.app {
			return apperrors.UnauthorizedClient()
		}
	case oauth2.AuthorizationCodeGrant:
		if c.app {
			return apperrors.UnauthorizedClient()
		}
	}
	return nil
}

func (as *AuthorizationService) clientCredentialsGrant(ctx context.Context, c caller) (*oauth2.TokenResponse, error) {
	authz := &authorization.Authorization{
		Type:      authorization.TypeClientCredentials,
		Scope:     scopes.NewSet(scopes.App),
		CreatedAt: as.nowTime(),
	}
	if err := as.repos.Authorizations.Insert(ctx, authz); err != nil {
		return nil, errors.Wrap(err, "[clientCredentialsGrant] storing authorization")
	}
	issued, err := as.ledger.IssueToken(ctx, authz, token.Attribution{}, false)
	if err != nil {
		return nil, err
	}
	return as.sendToken(ctx, c, authz, issued)
}

func (as *AuthorizationService) passwordGrant(ctx context.Context, req TokenRequest) (*oauth2.TokenResponse, error) {
	user, err := as.checkCredentials(ctx, req.Username, req.Password, req.CaptchaResponse, req.RemoteIP)
	if err != nil {
		return nil, err
	}
	return as.firstPartySession(ctx, user, token.Attribution{LoggedWithEmail: user.Email}, nil)
}

func (as *AuthorizationService) authorizationCodeGrant(ctx context.Context, c caller, req TokenRequest) (*oauth2.TokenResponse, error) {
	codeHash := as.ledger.CodeDigest(req.Code)
	authz, err := as.repos.Authorizations.GetByCode(ctx, c.client.ID, codeHash)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.InvalidGrant()
	}
	if err != nil {
		return nil, errors.Wrap(err, "[authorizationCodeGrant] looking up code")
	}
	if authz.NeedsClientSecret && !c.secretPresented {
		return nil, apperrors.InvalidClient()
	}

	now := as.nowTime()
	if !authz.Code.Usable(now) {
		// A replayed or stale code takes its Authorization, and every token issued from it, down.
		if err := as.ledger.RevokeAuthorization(ctx, authz.ID); err != nil {
			return nil, err
		}
		return nil, apperrors.InvalidGrant()
	}

	authz, err = as.repos.Authorizations.RedeemCode(ctx, c.client.ID, codeHash, now)
	if apperrors.Is(err, authorization.ErrCodeUnusable) || apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.InvalidGrant()
	}
	if err != nil {
		return nil, errors.Wrap(err, "[authorizationCodeGrant] redeeming code")
	}

	issued, err := as.ledger.IssueToken(ctx, authz, token.Attribution{LoggedByClient: c.client.ID}, true)
	if err != nil {
		return nil, err
	}
	return as.sendToken(ctx, c, authz, issued)
}

func (as *AuthorizationService) refreshTokenGrant(ctx context.Context, c caller, req TokenRequest) (*oauth2.TokenResponse, error) {
	issued, authz, err := as.ledger.RedeemRefresh(ctx, req.RefreshToken, func(a *authorization.Authorization) error {
		if a.IsFirstParty() != c.app {
			return apperrors.InvalidGrant()
		}
		if !c.app && a.ClientID != c.client.ID {
			return apperrors.InvalidGrant()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !c.app {
		// A refresh is an implicit re-login.
		as.recordEvent(ctx, events.Login, authz.UserID, c.client.ID, req.RemoteIP)
	}
	return as.sendToken(ctx, c, authz, issued)
}

// sendToken builds the response of every grant. Clients only ever see their
// own fake identifier for the user and the user's status with them.
func (as *AuthorizationService) sendToken(ctx context.Context, c caller, authz *authorization.Authorization, issued *token.Issued) (*oauth2.TokenResponse, error) {
	resp := &oauth2.TokenResponse{
		AccessToken:  issued.AccessToken,
		TokenType:    oauth2.TokenTypeBearer,
		ExpiresIn:    issued.ExpiresIn,
		RefreshToken: issued.RefreshToken,
	}
	if authz.UserID == "" {
		return resp, nil
	}
	if c.app {
		resp.UserID = authz.UserID
		return resp, nil
	}

	fakeID, err := as.obfuscator.UserFakeID(ctx, authz.UserID, c.clientID())
	if err != nil {
		return nil, err
	}
	resp.UserID = fakeID
	ua, err := as.getConsent(ctx, authz.UserID, c.clientID())
	if err != nil {
		return nil, err
	}
	if ua != nil {
		resp.UserStatus = string(ua.Status)
	}
	return resp, nil
}
