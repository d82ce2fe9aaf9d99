package fakeconsentrepo

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/jrsteele09/go-idp-server/consent"
	"github.com/jrsteele09/go-idp-server/entityid"
	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
)

var _ consent.Repo = (*FakeConsentRepo)(nil)

type key struct {
	userID, clientID string
}

type FakeConsentRepo struct {
	records map[key]*consent.UserAuthorization
	lock    sync.RWMutex
}

func NewFakeConsentRepo() *FakeConsentRepo {
	return &FakeConsentRepo{
		records: make(map[key]*consent.UserAuthorization),
	}
}

func clone(ua *consent.UserAuthorization) *consent.UserAuthorization {
	c := *ua
	c.Scope = slices.Clone(ua.Scope)
	c.ScopeFlags = slices.Clone(ua.ScopeFlags)
	c.Entities = entityid.Entities{}
	c.Entities.Merge(ua.Entities)
	return &c
}

func (r *FakeConsentRepo) Get(_ context.Context, userID, clientID string) (*consent.UserAuthorization, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	ua, ok := r.records[key{userID, clientID}]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return clone(ua), nil
}

func (r *FakeConsentRepo) Accumulate(_ context.Context, userID, clientID string, g consent.Grant, now time.Time) (*consent.UserAuthorization, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	k := key{userID, clientID}
	ua, ok := r.records[k]
	if !ok {
		ua = &consent.UserAuthorization{UserID: userID, ClientID: clientID}
		r.records[k] = ua
	}
	ua.Merge(g, now)
	return clone(ua), nil
}

func (r *FakeConsentRepo) ListByUser(_ context.Context, userID string) ([]*consent.UserAuthorization, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	var out []*consent.UserAuthorization
	for k, ua := range r.records {
		if k.userID == userID {
			out = append(out, clone(ua))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

func (r *FakeConsentRepo) ReassignUser(_ context.Context, fromUserID, toUserID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	var moved []*consent.UserAuthorization
	for k, ua := range r.records {
		if k.userID == fromUserID {
			moved = append(moved, ua)
			delete(r.records, k)
		}
	}
	for _, ua := range moved {
		ua.UserID = toUserID
		for i, id := range ua.Entities[entityid.KindUser] {
			if id == fromUserID {
				ua.Entities[entityid.KindUser][i] = toUserID
			}
		}
		k := key{toUserID, ua.ClientID}
		if existing, ok := r.records[k]; ok {
			existing.Absorb(ua)
			continue
		}
		r.records[k] = ua
	}
	return nil
}

func (r *FakeConsentRepo) Restore(_ context.Context, userID, clientID string, ua *consent.UserAuthorization) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	k := key{userID, clientID}
	if ua == nil {
		delete(r.records, k)
		return nil
	}
	r.records[k] = clone(ua)
	return nil
}
