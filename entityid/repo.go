package entityid

import (
	"context"
	"time"

	"github.com/jrsteele09/go-idp-server/scopes"
)

type Repo interface {
	// Upsert inserts a record for (userID, clientID, realID) with fakeID, or merges
	// kinds into the existing record keeping its fake id. The existing record's
	// test-account flag is cleared when useTestAccount is false and never set again.
	Upsert(ctx context.Context, userID, clientID, realID, fakeID string, kinds scopes.Set[Kind], useTestAccount bool, now time.Time) error
	Find(ctx context.Context, q Query) ([]Record, error)
	// ReassignUser moves every record of fromUserID to toUserID. The user-kind
	// record's real id is corrected to toUserID; fake ids are preserved. A moved
	// record that collides with one toUserID holds is merged as Upsert merges.
	ReassignUser(ctx context.Context, fromUserID, toUserID string) error
}
