package fakeauthorizationrepo

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/jrsteele09/go-idp-server/authorization"
	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/jrsteele09/go-idp-server/internal/ids"
	"github.com/jrsteele09/go-idp-server/scopes"
)

var _ authorization.Repo = (*FakeAuthorizationRepo)(nil)

type FakeAuthorizationRepo struct {
	authorizations map[string]*authorization.Authorization
	lock           sync.RWMutex
}

func NewFakeAuthorizationRepo() *FakeAuthorizationRepo {
	return &FakeAuthorizationRepo{
		authorizations: make(map[string]*authorization.Authorization),
	}
}

func clone(a *authorization.Authorization) *authorization.Authorization {
	c := *a
	if a.Code != nil {
		code := *a.Code
		c.Code = &code
	}
	c.Scope = slices.Clone(a.Scope)
	c.ScopeFlags = slices.Clone(a.ScopeFlags)
	c.Addresses = slices.Clone(a.Addresses)
	return &c
}

func (r *FakeAuthorizationRepo) Insert(_ context.Context, a *authorization.Authorization) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if a.ID == "" {
		a.ID = ids.New()
	}
	r.authorizations[a.ID] = clone(a)
	return nil
}

func (r *FakeAuthorizationRepo) Get(_ context.Context, id string) (*authorization.Authorization, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	a, ok := r.authorizations[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return clone(a), nil
}

func (r *FakeAuthorizationRepo) findByCode(clientID, codeHash string) *authorization.Authorization {
	for _, a := range r.authorizations {
		if a.ClientID == clientID && a.Code != nil && a.Code.Hash == codeHash {
			return a
		}
	}
	return nil
}

func (r *FakeAuthorizationRepo) GetByCode(_ context.Context, clientID, codeHash string) (*authorization.Authorization, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	a := r.findByCode(clientID, codeHash)
	if a == nil {
		return nil, apperrors.ErrNotFound
	}
	return clone(a), nil
}

func (r *FakeAuthorizationRepo) RedeemCode(_ context.Context, clientID, codeHash string, now time.Time) (*authorization.Authorization, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	a := r.findByCode(clientID, codeHash)
	if a == nil {
		return nil, apperrors.ErrNotFound
	}
	if !a.Code.Usable(now) {
		return nil, authorization.ErrCodeUnusable
	}
	a.Code.IsUsed = true
	return clone(a), nil
}

func (r *FakeAuthorizationRepo) Delete(_ context.Context, id string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.authorizations[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.authorizations, id)
	return nil
}

func (r *FakeAuthorizationRepo) ListByUserClient(_ context.Context, userID, clientID string) ([]*authorization.Authorization, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	var out []*authorization.Authorization
	for _, a := range r.authorizations {
		if a.UserID == userID && a.ClientID == clientID {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *FakeAuthorizationRepo) ReassignUser(_ context.Context, fromUserID, toUserID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, a := range r.authorizations {
		if a.UserID == fromUserID {
			a.UserID = toUserID
		}
	}
	return nil
}

func (r *FakeAuthorizationRepo) ConvertTestScope(_ context.Context, userID, clientID string, scope scopes.Set[scopes.Scope], flags scopes.Set[scopes.Flag]) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, a := range r.authorizations {
		if a.UserID == userID && a.ClientID == clientID && a.UseTestAccount {
			a.Scope = slices.Clone(scope)
			a.ScopeFlags = slices.Clone(flags)
			a.UseTestAccount = false
		}
	}
	return nil
}
