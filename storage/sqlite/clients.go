package sqlite

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-idp-server/clients"
	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/pkg/errors"
)

var _ clients.Repo = (*ClientRepo)(nil)

type ClientRepo struct {
	db *sql.DB
}

// Upsert stores the client registration. Counters are owned by IncrementCounters and survive re-registration.
func (r *ClientRepo) Upsert(ctx context.Context, client *clients.Client) error {
	if client.ID == "" {
		client.ID = uuid.New().String()
	}
	uris, err := encodeJSON(client.RedirectionURIs)
	if err != nil {
		return errors.Wrap(err, "[ClientRepo.Upsert] encode redirection uris")
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO clients (id, name, secret_hash, redirection_uris) VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name, secret_hash = excluded.secret_hash, redirection_uris = excluded.redirection_uris`,
		client.ID, client.Name, client.SecretHash, uris)
	return errors.Wrap(err, "[ClientRepo.Upsert]")
}

func (r *ClientRepo) Delete(ctx context.Context, clientID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, clientID)
	if err != nil {
		return errors.Wrap(err, "[ClientRepo.Delete]")
	}
	return requireRow(res)
}

func (r *ClientRepo) Get(ctx context.Context, clientID string) (*clients.Client, error) {
	var (
		c    clients.Client
		uris string
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, name, secret_hash, redirection_uris, registered_users, test_accounts_registered, test_accounts_converted
FROM clients WHERE id = ?`, clientID).Scan(&c.ID, &c.Name, &c.SecretHash, &uris,
		&c.Counters.RegisteredUsers, &c.Counters.TestAccountsRegistered, &c.Counters.TestAccountsConverted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[ClientRepo.Get]")
	}
	if err := decodeJSON(uris, &c.RedirectionURIs); err != nil {
		return nil, errors.Wrap(err, "[ClientRepo.Get] decode redirection uris")
	}
	return &c, nil
}

func (r *ClientRepo) IncrementCounters(ctx context.Context, clientID string, delta clients.Counters) error {
	res, err := r.db.ExecContext(ctx, `UPDATE clients SET
    registered_users = registered_users + ?,
    test_accounts_registered = test_accounts_registered + ?,
    test_accounts_converted = test_accounts_converted + ?
WHERE id = ?`, delta.RegisteredUsers, delta.TestAccountsRegistered, delta.TestAccountsConverted, clientID)
	if err != nil {
		return errors.Wrap(err, "[ClientRepo.IncrementCounters]")
	}
	return requireRow(res)
}
