package consent

import (
	"context"
	"time"

	"github.com/jrsteele09/go-idp-server/entityid"
	"github.com/jrsteele09/go-idp-server/scopes"
)

// Status is a user's standing with one client.
type Status string

const (
	StatusRegistered  Status = "registered"
	StatusTestAccount Status = "test_account"
)

// UserAuthorization is the durable consent of one user towards one client.
// It only ever grows.
type UserAuthorization struct {
	UserID     string
	ClientID   string
	Scope      scopes.Set[scopes.Scope]
	ScopeFlags scopes.Set[scopes.Flag]
	Entities   entityid.Entities
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HasGrantedScope reports whether any category was ever granted.
func (ua *UserAuthorization) HasGrantedScope() bool {
	return ua != nil && !ua.Scope.Empty()
}

func (ua *UserAuthorization) IsRegistered() bool {
	return ua != nil && ua.Status == StatusRegistered
}

// Grant is what one consent round adds.
type Grant struct {
	Scope      scopes.Set[scopes.Scope]
	ScopeFlags scopes.Set[scopes.Flag]
	Entities   entityid.Entities
	Status     Status
}

// Merge applies g on top of ua. A registered status is never downgraded.
func (ua *UserAuthorization) Merge(g Grant, now time.Time) {
	ua.Scope = ua.Scope.Union(g.Scope)
	ua.ScopeFlags = ua.ScopeFlags.Union(g.ScopeFlags)
	if ua.Entities == nil {
		ua.Entities = entityid.Entities{}
	}
	ua.Entities.Merge(g.Entities)
	if ua.Status != StatusRegistered {
		ua.Status = g.Status
	}
	if ua.CreatedAt.IsZero() {
		ua.CreatedAt = now
	}
	ua.UpdatedAt = now
}

// Absorb folds other into ua, as when two identities are joined.
func (ua *UserAuthorization) Absorb(other *UserAuthorization) {
	updated := ua.UpdatedAt
	if other.UpdatedAt.After(updated) {
		updated = other.UpdatedAt
	}
	ua.Merge(Grant{
		Scope:      other.Scope,
		ScopeFlags: other.ScopeFlags,
		Entities:   other.Entities,
		Status:     other.Status,
	}, updated)
	if !other.CreatedAt.IsZero() && other.CreatedAt.Before(ua.CreatedAt) {
		ua.CreatedAt = other.CreatedAt
	}
}

type Repo interface {
	Get(ctx context.Context, userID, clientID string) (*UserAuthorization, error)
	// Accumulate unions g into the record for (userID, clientID), creating it when absent.
	Accumulate(ctx context.Context, userID, clientID string, g Grant, now time.Time) (*UserAuthorization, error)
	ListByUser(ctx context.Context, userID string) ([]*UserAuthorization, error)
	// ReassignUser moves every record of fromUserID to toUserID, correcting user-kind entity ids.
	// A record toUserID already holds for the same client absorbs the moved one.
	ReassignUser(ctx context.Context, fromUserID, toUserID string) error
	// Restore writes ua back as the record for (userID, clientID). A nil ua removes the record.
	Restore(ctx context.Context, userID, clientID string, ua *UserAuthorization) error
}
