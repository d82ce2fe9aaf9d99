package auth

import (
	"context"

	"github.com/jrsteele09/go-idp-server/authorization"
	"github.com/jrsteele09/go-idp-server/events"
	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/jrsteele09/go-idp-server/oauth2"
	"github.com/jrsteele09/go-idp-server/scopes"
	"github.com/jrsteele09/go-idp-server/token"
	"github.com/jrsteele09/go-idp-server/users"
	"github.com/pkg/errors"
)

// checkCredentials authenticates email and password behind the invalid login
// limiter. A wrong password counts against the email; the attempt that fills
// the window already answers max_attempts. Success clears the window.
func (as *AuthorizationService) checkCredentials(ctx context.Context, email, password, captchaResponse, remoteIP string) (*users.User, error) {
	email = users.NormalizeEmail(email)
	key := events.EmailKey(email)
	if err := as.limiter.Guard(ctx, events.InvalidLogin, key, captchaResponse, remoteIP); err != nil {
		return nil, err
	}

	user, err := as.repos.Users.GetByEmail(ctx, email)
	if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, errors.Wrap(err, "[checkCredentials] loading user")
	}
	if user == nil || !user.CheckPassword(password) {
		if err := as.limiter.Hit(ctx, events.InvalidLogin, key); err != nil {
			return nil, err
		}
		exceeded, err := as.limiter.Exceeded(ctx, events.InvalidLogin, key)
		if err != nil {
			return nil, err
		}
		if exceeded {
			return nil, apperrors.MaxAttempts(true)
		}
		return nil, apperrors.InvalidGrant()
	}

	if err := as.limiter.Reset(ctx, events.InvalidLogin, key); err != nil {
		return nil, err
	}
	return user, nil
}

// appScope is the scope of every first-party authorization of user.
func appScope(user *users.User) scopes.Set[scopes.Scope] {
	scope := scopes.NewSet(scopes.App)
	if user.Developer {
		scope = scope.Add(scopes.AppDeveloper)
	}
	return scope
}

// firstPartySession synthesizes a first-party authorization for user and
// issues a token pair against it. sg may be nil.
func (as *AuthorizationService) firstPartySession(ctx context.Context, user *users.User, attribution token.Attribution, sg *saga) (*oauth2.TokenResponse, error) {
	now := as.nowTime()
	authz := &authorization.Authorization{
		UserID:    user.ID,
		Type:      authorization.TypePassword,
		Scope:     appScope(user),
		CreatedAt: now,
	}
	if err := as.repos.Authorizations.Insert(ctx, authz); err != nil {
		return nil, errors.Wrap(err, "[firstPartySession] storing authorization")
	}
	sg.record(compensation{kind: compensateRevoke, id: authz.ID})
	issued, err := as.ledger.IssueToken(ctx, authz, attribution, true)
	if err != nil {
		return nil, err
	}
	if err := as.repos.Users.SetLastLogin(ctx, user.ID, now); err != nil {
		return nil, errors.Wrap(err, "[firstPartySession] updating last login")
	}
	return &oauth2.TokenResponse{
		AccessToken:  issued.AccessToken,
		TokenType:    oauth2.TokenTypeBearer,
		ExpiresIn:    issued.ExpiresIn,
		RefreshToken: issued.RefreshToken,
		UserID:       user.ID,
	}, nil
}
