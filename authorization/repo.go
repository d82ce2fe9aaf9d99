package authorization

import (
	"context"
	"time"

	"github.com/jrsteele09/go-idp-server/scopes"
)

type Repo interface {
	Insert(ctx context.Context, a *Authorization) error
	Get(ctx context.Context, id string) (*Authorization, error)
	// GetByCode finds the authorization owning codeHash for clientID regardless of the code's state.
	GetByCode(ctx context.Context, clientID, codeHash string) (*Authorization, error)
	// RedeemCode marks the code used with a single conditional update on the unused,
	// unexpired state. It returns ErrCodeUnusable when no row changed.
	RedeemCode(ctx context.Context, clientID, codeHash string, now time.Time) (*Authorization, error)
	Delete(ctx context.Context, id string) error
	ListByUserClient(ctx context.Context, userID, clientID string) ([]*Authorization, error)
	ReassignUser(ctx context.Context, fromUserID, toUserID string) error
	// ConvertTestScope rewrites the test-account authorizations of (userID, clientID)
	// to the given scope and clears their test flag.
	ConvertTestScope(ctx context.Context, userID, clientID string, scope scopes.Set[scopes.Scope], flags scopes.Set[scopes.Flag]) error
}
