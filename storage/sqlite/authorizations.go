package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/jrsteele09/go-idp-server/authorization"
	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/jrsteele09/go-idp-server/internal/ids"
	"github.com/jrsteele09/go-idp-server/scopes"
	"github.com/pkg/errors"
)

var _ authorization.Repo = (*AuthorizationRepo)(nil)

type AuthorizationRepo struct {
	db *sql.DB
}

const authorizationColumns = `id, client_id, user_id, type, scope, scope_flags, code_hash, code_used, code_expires_at,
    addresses, redirect_uri, needs_client_secret, use_test_account, created_at`

func scanAuthorization(row scanner) (*authorization.Authorization, error) {
	var (
		a                                  authorization.Authorization
		scope, flags, addresses            string
		codeHash                           sql.NullString
		codeExpiresAt                      sql.NullInt64
		codeUsed, needsSecret, testAccount int
		createdAt                          int64
	)
	err := row.Scan(&a.ID, &a.ClientID, &a.UserID, &a.Type, &scope, &flags, &codeHash, &codeUsed, &codeExpiresAt,
		&addresses, &a.RedirectURI, &needsSecret, &testAccount, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(scope, &a.Scope); err != nil {
		return nil, errors.Wrap(err, "decode scope")
	}
	if err := decodeJSON(flags, &a.ScopeFlags); err != nil {
		return nil, errors.Wrap(err, "decode scope flags")
	}
	if err := decodeJSON(addresses, &a.Addresses); err != nil {
		return nil, errors.Wrap(err, "decode addresses")
	}
	if codeHash.Valid {
		a.Code = &authorization.Code{
			Hash:      codeHash.String,
			IsUsed:    codeUsed == 1,
			ExpiresAt: fromMillis(codeExpiresAt.Int64),
		}
	}
	a.NeedsClientSecret = needsSecret == 1
	a.UseTestAccount = testAccount == 1
	a.CreatedAt = fromOptionalMillis(createdAt)
	return &a, nil
}

func (r *AuthorizationRepo) Insert(ctx context.Context, a *authorization.Authorization) error {
	if a.ID == "" {
		a.ID = ids.New()
	}
	scope, err := encodeJSON(a.Scope)
	if err != nil {
		return errors.Wrap(err, "[AuthorizationRepo.Insert] encode scope")
	}
	flags, err := encodeJSON(a.ScopeFlags)
	if err != nil {
		return errors.Wrap(err, "[AuthorizationRepo.Insert] encode scope flags")
	}
	addresses, err := encodeJSON(a.Addresses)
	if err != nil {
		return errors.Wrap(err, "[AuthorizationRepo.Insert] encode addresses")
	}
	var (
		codeHash      sql.NullString
		codeExpiresAt sql.NullInt64
		codeUsed      bool
	)
	if a.Code != nil {
		codeHash = sql.NullString{String: a.Code.Hash, Valid: true}
		codeExpiresAt = sql.NullInt64{Int64: toMillis(a.Code.ExpiresAt), Valid: true}
		codeUsed = a.Code.IsUsed
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO authorizations (`+authorizationColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ClientID, a.UserID, string(a.Type), scope, flags, codeHash, boolInt(codeUsed), codeExpiresAt,
		addresses, a.RedirectURI, boolInt(a.NeedsClientSecret), boolInt(a.UseTestAccount), optionalMillis(a.CreatedAt))
	return errors.Wrap(err, "[AuthorizationRepo.Insert]")
}

func (r *AuthorizationRepo) Get(ctx context.Context, id string) (*authorization.Authorization, error) {
	a, err := scanAuthorization(r.db.QueryRowContext(ctx, `SELECT `+authorizationColumns+` FROM authorizations WHERE id = ?`, id))
	return a, wrapUnlessNotFound(err, "[AuthorizationRepo.Get]")
}

func (r *AuthorizationRepo) GetByCode(ctx context.Context, clientID, codeHash string) (*authorization.Authorization, error) {
	a, err := scanAuthorization(r.db.QueryRowContext(ctx, `SELECT `+authorizationColumns+` FROM authorizations WHERE client_id = ? AND code_hash = ?`, clientID, codeHash))
	return a, wrapUnlessNotFound(err, "[AuthorizationRepo.GetByCode]")
}

func (r *AuthorizationRepo) RedeemCode(ctx context.Context, clientID, codeHash string, now time.Time) (*authorization.Authorization, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE authorizations SET code_used = 1
WHERE client_id = ? AND code_hash = ? AND code_used = 0 AND code_expires_at > ?`, clientID, codeHash, toMillis(now))
	if err != nil {
		return nil, errors.Wrap(err, "[AuthorizationRepo.RedeemCode]")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "[AuthorizationRepo.RedeemCode] rows affected")
	}
	a, err := r.GetByCode(ctx, clientID, codeHash)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, authorization.ErrCodeUnusable
	}
	return a, nil
}

func (r *AuthorizationRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM authorizations WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "[AuthorizationRepo.Delete]")
	}
	return requireRow(res)
}

func (r *AuthorizationRepo) ListByUserClient(ctx context.Context, userID, clientID string) ([]*authorization.Authorization, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+authorizationColumns+` FROM authorizations WHERE user_id = ? AND client_id = ? ORDER BY id`, userID, clientID)
	if err != nil {
		return nil, errors.Wrap(err, "[AuthorizationRepo.ListByUserClient]")
	}
	defer rows.Close()

	var out []*authorization.Authorization
	for rows.Next() {
		a, err := scanAuthorization(rows)
		if err != nil {
			return nil, errors.Wrap(err, "[AuthorizationRepo.ListByUserClient] scan")
		}
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "[AuthorizationRepo.ListByUserClient]")
}

func (r *AuthorizationRepo) ReassignUser(ctx context.Context, fromUserID, toUserID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE authorizations SET user_id = ? WHERE user_id = ?`, toUserID, fromUserID)
	return errors.Wrap(err, "[AuthorizationRepo.ReassignUser]")
}

func (r *AuthorizationRepo) ConvertTestScope(ctx context.Context, userID, clientID string, scope scopes.Set[scopes.Scope], flags scopes.Set[scopes.Flag]) error {
	encodedScope, err := encodeJSON(scope)
	if err != nil {
		return errors.Wrap(err, "[AuthorizationRepo.ConvertTestScope] encode scope")
	}
	encodedFlags, err := encodeJSON(flags)
	if err != nil {
		return errors.Wrap(err, "[AuthorizationRepo.ConvertTestScope] encode scope flags")
	}
	_, err = r.db.ExecContext(ctx, `UPDATE authorizations SET scope = ?, scope_flags = ?, use_test_account = 0
WHERE user_id = ? AND client_id = ? AND use_test_account = 1`, encodedScope, encodedFlags, userID, clientID)
	return errors.Wrap(err, "[AuthorizationRepo.ConvertTestScope]")
}
