package token

import (
	"context"
	"time"

	"github.com/jrsteele09/go-idp-server/authorization"
	"github.com/jrsteele09/go-idp-server/users"
)

// AccessToken is the stored token record. Only digests are persisted and a
// record is never mutated: refresh replaces it.
type AccessToken struct {
	TokenHash       string
	RefreshHash     string // empty when no refresh token was issued
	AuthorizationID string
	ExpiresAt       time.Time
	CreatedAt       time.Time
	Attribution
}

// Attribution records an implicit login and survives every refresh.
type Attribution struct {
	LoggedByClient  string
	LoggedWithEmail string
}

// Issued carries the raw values. They are returned once and never again retrievable.
type Issued struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	Record       *AccessToken
}

// Identity is the request-scoped result of a successful lookup.
type Identity struct {
	Token         *AccessToken
	Authorization *authorization.Authorization
	User          *users.User // nil for client_credentials
}

func (id *Identity) UserID() string {
	if id == nil || id.User == nil {
		return ""
	}
	return id.User.ID
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored by WithIdentity, or nil.
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
