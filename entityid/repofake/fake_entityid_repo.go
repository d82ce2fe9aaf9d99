package fakeentityidrepo

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/jrsteele09/go-idp-server/entityid"
	"github.com/jrsteele09/go-idp-server/scopes"
)

var _ entityid.Repo = (*FakeEntityIDRepo)(nil)

type key struct {
	userID, clientID, realID string
}

type FakeEntityIDRepo struct {
	records map[key]*entityid.Record
	lock    sync.RWMutex
}

func NewFakeEntityIDRepo() *FakeEntityIDRepo {
	return &FakeEntityIDRepo{
		records: make(map[key]*entityid.Record),
	}
}

func (r *FakeEntityIDRepo) Upsert(_ context.Context, userID, clientID, realID, fakeID string, kinds scopes.Set[entityid.Kind], useTestAccount bool, now time.Time) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	k := key{userID, clientID, realID}
	if existing, ok := r.records[k]; ok {
		existing.Kinds = existing.Kinds.Union(kinds).Sorted()
		existing.UseTestAccount = existing.UseTestAccount && useTestAccount
		return nil
	}
	r.records[k] = &entityid.Record{
		UserID:         userID,
		ClientID:       clientID,
		RealID:         realID,
		FakeID:         fakeID,
		Kinds:          kinds.Sorted(),
		UseTestAccount: useTestAccount,
		CreatedAt:      now,
	}
	return nil
}

func (r *FakeEntityIDRepo) Find(_ context.Context, q entityid.Query) ([]entityid.Record, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	var out []entityid.Record
	for _, rec := range r.records {
		if q.Matches(*rec) {
			c := *rec
			c.Kinds = slices.Clone(rec.Kinds)
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RealID < out[j].RealID })
	return out, nil
}

func (r *FakeEntityIDRepo) ReassignUser(_ context.Context, fromUserID, toUserID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	var moved []*entityid.Record
	for k, rec := range r.records {
		if k.userID == fromUserID {
			moved = append(moved, rec)
			delete(r.records, k)
		}
	}
	for _, rec := range moved {
		rec.UserID = toUserID
		if rec.RealID == fromUserID {
			rec.RealID = toUserID
		}
		k := key{toUserID, rec.ClientID, rec.RealID}
		if existing, ok := r.records[k]; ok {
			existing.Kinds = existing.Kinds.Union(rec.Kinds).Sorted()
			existing.UseTestAccount = existing.UseTestAccount && rec.UseTestAccount
			continue
		}
		r.records[k] = rec
	}
	return nil
}

// All returns every stored record.
func (r *FakeEntityIDRepo) All() []entityid.Record {
	r.lock.RLock()
	defer r.lock.RUnlock()
	out := make([]entityid.Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FakeID < out[j].FakeID })
	return out
}
