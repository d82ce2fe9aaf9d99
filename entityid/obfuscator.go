package entityid

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Obfuscator gives every client its own identifier space for a user's entities.
type Obfuscator struct {
	repo    Repo
	newID   func() string
	nowFunc func() time.Time
}

type Option func(*Obfuscator)

func WithNowFunc(now func() time.Time) Option {
	return func(o *Obfuscator) {
		o.nowFunc = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(o *Obfuscator) {
		o.newID = newID
	}
}

func NewObfuscator(repo Repo, options ...Option) (*Obfuscator, error) {
	if repo == nil {
		return nil, errors.New("[NewObfuscator] entity id repo is required")
	}
	o := &Obfuscator{
		repo:    repo,
		newID:   func() string { return uuid.New().String() },
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(o)
	}
	return o, nil
}

// Ensure records a fake id for every real id in entities. The user entity
// defaults to userID when no user-kind entity is given.
func (o *Obfuscator) Ensure(ctx context.Context, entities Entities, userID, clientID string, useTestAccount bool) error {
	all := Entities{}
	all.Merge(entities)
	if !all.Has(KindUser) {
		all.Add(KindUser, userID)
	}

	byRealID := all.ByRealID()
	realIDs := make([]string, 0, len(byRealID))
	for id := range byRealID {
		realIDs = append(realIDs, id)
	}
	sort.Strings(realIDs)

	now := o.nowFunc()
	for _, realID := range realIDs {
		if err := o.repo.Upsert(ctx, userID, clientID, realID, o.newID(), byRealID[realID].Sorted(), useTestAccount, now); err != nil {
			return errors.Wrapf(err, "[Ensure] upserting entity id for client %s", clientID)
		}
	}
	return nil
}

func (o *Obfuscator) Resolve(ctx context.Context, q Query) ([]Record, error) {
	records, err := o.repo.Find(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "[Resolve] finding entity ids")
	}
	return records, nil
}

// FakeIDs maps each real id of (userID, clientID) to its fake id.
func (o *Obfuscator) FakeIDs(ctx context.Context, userID, clientID string, realIDs ...string) (map[string]string, error) {
	records, err := o.Resolve(ctx, Query{UserID: userID, ClientID: clientID, RealIDs: realIDs})
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(records))
	for _, r := range records {
		out[r.RealID] = r.FakeID
	}
	return out, nil
}

// UserFakeID returns the fake id of the user entity itself, or "" when none exists yet.
func (o *Obfuscator) UserFakeID(ctx context.Context, userID, clientID string) (string, error) {
	records, err := o.Resolve(ctx, Query{UserID: userID, ClientID: clientID, Kind: KindUser})
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", nil
	}
	return records[0].FakeID, nil
}

// ReassignTestAccount hands every record of a converted test account to the real user.
func (o *Obfuscator) ReassignTestAccount(ctx context.Context, testUserID, realUserID string) error {
	if err := o.repo.ReassignUser(ctx, testUserID, realUserID); err != nil {
		return errors.Wrap(err, "[ReassignTestAccount] reassigning entity ids")
	}
	return nil
}
