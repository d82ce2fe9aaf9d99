package token

import "context"

type Repo interface {
	Insert(ctx context.Context, t *AccessToken) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*AccessToken, error)
	GetByRefreshHash(ctx context.Context, refreshHash string) (*AccessToken, error)
	// Rotate deletes the record holding oldRefreshHash and inserts next in one step.
	// It returns errors.ErrNotFound when the old record is already gone.
	Rotate(ctx context.Context, oldRefreshHash string, next *AccessToken) error
	DeleteByAuthorization(ctx context.Context, authorizationID string) error
}
