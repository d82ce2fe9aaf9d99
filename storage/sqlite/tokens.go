package sqlite

import (
	"context"
	"database/sql"

	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/jrsteele09/go-idp-server/token"
	"github.com/pkg/errors"
)

var _ token.Repo = (*TokenRepo)(nil)

type TokenRepo struct {
	db *sql.DB
}

const tokenColumns = `token_hash, COALESCE(refresh_hash, ''), authorization_id, expires_at, created_at, logged_by_client, logged_with_email`

func scanToken(row scanner) (*token.AccessToken, error) {
	var (
		t                    token.AccessToken
		expiresAt, createdAt int64
	)
	err := row.Scan(&t.TokenHash, &t.RefreshHash, &t.AuthorizationID, &expiresAt, &createdAt, &t.LoggedByClient, &t.LoggedWithEmail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[TokenRepo] scan")
	}
	t.ExpiresAt = fromMillis(expiresAt)
	t.CreatedAt = fromOptionalMillis(createdAt)
	return &t, nil
}

func insertToken(ctx context.Context, db execer, t *token.AccessToken) error {
	// Tokens without refresh leave the column NULL so the unique index ignores them.
	var refresh sql.NullString
	if t.RefreshHash != "" {
		refresh = sql.NullString{String: t.RefreshHash, Valid: true}
	}
	_, err := db.ExecContext(ctx, `INSERT INTO access_tokens (token_hash, refresh_hash, authorization_id, expires_at, created_at, logged_by_client, logged_with_email)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.TokenHash, refresh, t.AuthorizationID, toMillis(t.ExpiresAt), optionalMillis(t.CreatedAt), t.LoggedByClient, t.LoggedWithEmail)
	return err
}

func (r *TokenRepo) Insert(ctx context.Context, t *token.AccessToken) error {
	return errors.Wrap(insertToken(ctx, r.db, t), "[TokenRepo.Insert]")
}

func (r *TokenRepo) GetByTokenHash(ctx context.Context, tokenHash string) (*token.AccessToken, error) {
	return scanToken(r.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM access_tokens WHERE token_hash = ?`, tokenHash))
}

func (r *TokenRepo) GetByRefreshHash(ctx context.Context, refreshHash string) (*token.AccessToken, error) {
	return scanToken(r.db.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM access_tokens WHERE refresh_hash = ?`, refreshHash))
}

// Rotate deletes the old pair and inserts next in one transaction. Only one
// concurrent caller sees the delete affect a row.
func (r *TokenRepo) Rotate(ctx context.Context, oldRefreshHash string, next *token.AccessToken) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM access_tokens WHERE refresh_hash = ?`, oldRefreshHash)
		if err != nil {
			return errors.Wrap(err, "[TokenRepo.Rotate] delete")
		}
		if err := requireRow(res); err != nil {
			return err
		}
		return errors.Wrap(insertToken(ctx, tx, next), "[TokenRepo.Rotate] insert")
	})
}

func (r *TokenRepo) DeleteByAuthorization(ctx context.Context, authorizationID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM access_tokens WHERE authorization_id = ?`, authorizationID)
	return errors.Wrap(err, "[TokenRepo.DeleteByAuthorization]")
}
