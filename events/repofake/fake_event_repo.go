package fakeeventrepo

import (
	"context"
	"slices"
	"sync"

	"github.com/jrsteele09/go-idp-server/events"
	"github.com/jrsteele09/go-idp-server/internal/ids"
)

var _ events.Repo = (*FakeEventRepo)(nil)

type FakeEventRepo struct {
	events []*events.Event
	lock   sync.RWMutex
}

func NewFakeEventRepo() *FakeEventRepo {
	return &FakeEventRepo{}
}

func matches(e *events.Event, f events.Filter) bool {
	return e.Type == f.Type && e.Key.Equal(f.Key) && e.CreatedAt.After(f.Since)
}

func (r *FakeEventRepo) Insert(_ context.Context, e *events.Event) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if e.ID == "" {
		e.ID = ids.New()
	}
	stored := *e
	r.events = append(r.events, &stored)
	return nil
}

func (r *FakeEventRepo) Count(_ context.Context, f events.Filter) (int, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	n := 0
	for _, e := range r.events {
		if matches(e, f) {
			n++
		}
	}
	return n, nil
}

func (r *FakeEventRepo) Delete(_ context.Context, f events.Filter) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.events = slices.DeleteFunc(r.events, func(e *events.Event) bool { return matches(e, f) })
	return nil
}

// OfType returns the stored events of the given type in insertion order.
func (r *FakeEventRepo) OfType(t events.Type) []events.Event {
	r.lock.RLock()
	defer r.lock.RUnlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, *e)
		}
	}
	return out
}
