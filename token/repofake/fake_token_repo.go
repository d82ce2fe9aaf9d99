package tokenfakerepo

import (
	"context"
	"sync"

	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/jrsteele09/go-idp-server/token"
)

var _ token.Repo = (*FakeTokenRepo)(nil)

type FakeTokenRepo struct {
	tokens    map[string]*token.AccessToken // token hash to record
	refreshes map[string]string             // refresh hash to token hash
	lock      sync.RWMutex
}

func NewFakeTokensRepo() *FakeTokenRepo {
	return &FakeTokenRepo{
		tokens:    make(map[string]*token.AccessToken),
		refreshes: make(map[string]string),
	}
}

func (tr *FakeTokenRepo) insert(t *token.AccessToken) {
	stored := *t
	tr.tokens[t.TokenHash] = &stored
	if t.RefreshHash != "" {
		tr.refreshes[t.RefreshHash] = t.TokenHash
	}
}

func (tr *FakeTokenRepo) Insert(_ context.Context, t *token.AccessToken) error {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	tr.insert(t)
	return nil
}

func (tr *FakeTokenRepo) GetByTokenHash(_ context.Context, tokenHash string) (*token.AccessToken, error) {
	tr.lock.RLock()
	defer tr.lock.RUnlock()
	t, ok := tr.tokens[tokenHash]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (tr *FakeTokenRepo) GetByRefreshHash(_ context.Context, refreshHash string) (*token.AccessToken, error) {
	tr.lock.RLock()
	defer tr.lock.RUnlock()
	tokenHash, ok := tr.refreshes[refreshHash]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	c := *tr.tokens[tokenHash]
	return &c, nil
}

func (tr *FakeTokenRepo) Rotate(_ context.Context, oldRefreshHash string, next *token.AccessToken) error {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	tokenHash, ok := tr.refreshes[oldRefreshHash]
	if !ok {
		return apperrors.ErrNotFound
	}
	delete(tr.refreshes, oldRefreshHash)
	delete(tr.tokens, tokenHash)
	tr.insert(next)
	return nil
}

func (tr *FakeTokenRepo) DeleteByAuthorization(_ context.Context, authorizationID string) error {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	for hash, t := range tr.tokens {
		if t.AuthorizationID == authorizationID {
			delete(tr.tokens, hash)
			if t.RefreshHash != "" {
				delete(tr.refreshes, t.RefreshHash)
			}
		}
	}
	return nil
}

// Count returns the number of stored records.
func (tr *FakeTokenRepo) Count() int {
	tr.lock.RLock()
	defer tr.lock.RUnlock()
	return len(tr.tokens)
}
