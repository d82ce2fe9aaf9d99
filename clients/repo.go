package clients

import "context"

type Repo interface {
	Upsert(ctx context.Context, client *Client) error
	Delete(ctx context.Context, clientID string) error
	Get(ctx context.Context, clientID string) (*Client, error)
	// IncrementCounters adds delta to the stored counters atomically.
	IncrementCounters(ctx context.Context, clientID string, delta Counters) error
}
