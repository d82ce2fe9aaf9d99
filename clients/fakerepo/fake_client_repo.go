package fakeclientrepo

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-idp-server/clients"
	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
)

var _ clients.Repo = (*FakeClientRepo)(nil)

type FakeClientRepo struct {
	clients map[string]*clients.Client
	lock    sync.RWMutex
}

func NewFakeClientRepo() *FakeClientRepo {
	return &FakeClientRepo{
		clients: make(map[string]*clients.Client),
	}
}

func (r *FakeClientRepo) Upsert(_ context.Context, clientData *clients.Client) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if clientData.ID == "" {
		clientData.ID = uuid.New().String()
	}
	stored := *clientData
	r.clients[clientData.ID] = &stored
	return nil
}

func (r *FakeClientRepo) Delete(_ context.Context, clientID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.clients[clientID]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.clients, clientID)
	return nil
}

func (r *FakeClientRepo) Get(_ context.Context, clientID string) (*clients.Client, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	client, ok := r.clients[clientID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	c := *client
	return &c, nil
}

func (r *FakeClientRepo) IncrementCounters(_ context.Context, clientID string, delta clients.Counters) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	client, ok := r.clients[clientID]
	if !ok {
		return apperrors.ErrNotFound
	}
	client.Counters.RegisteredUsers += delta.RegisteredUsers
	client.Counters.TestAccountsRegistered += delta.TestAccountsRegistered
	client.Counters.TestAccountsConverted += delta.TestAccountsConverted
	return nil
}
