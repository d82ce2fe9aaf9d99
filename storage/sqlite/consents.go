package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/jrsteele09/go-idp-server/consent"
	"github.com/jrsteele09/go-idp-server/entityid"
	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/pkg/errors"
)

var _ consent.Repo = (*ConsentRepo)(nil)

type ConsentRepo struct {
	db *sql.DB
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const consentColumns = `user_id, client_id, scope, scope_flags, entities, status, created_at, updated_at`

func scanConsent(row scanner) (*consent.UserAuthorization, error) {
	var (
		ua                     consent.UserAuthorization
		scope, flags, entities string
		createdAt, updatedAt   int64
	)
	err := row.Scan(&ua.UserID, &ua.ClientID, &scope, &flags, &entities, &ua.Status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan consent")
	}
	if err := decodeJSON(scope, &ua.Scope); err != nil {
		return nil, errors.Wrap(err, "decode scope")
	}
	if err := decodeJSON(flags, &ua.ScopeFlags); err != nil {
		return nil, errors.Wrap(err, "decode scope flags")
	}
	ua.Entities = entityid.Entities{}
	if err := decodeJSON(entities, &ua.Entities); err != nil {
		return nil, errors.Wrap(err, "decode entities")
	}
	ua.CreatedAt = fromMillis(createdAt)
	ua.UpdatedAt = fromMillis(updatedAt)
	return &ua, nil
}

func getConsent(ctx context.Context, q queryer, userID, clientID string) (*consent.UserAuthorization, error) {
	return scanConsent(q.QueryRowContext(ctx, `SELECT `+consentColumns+` FROM user_authorizations WHERE user_id = ? AND client_id = ?`, userID, clientID))
}

func putConsent(ctx context.Context, db execer, ua *consent.UserAuthorization) error {
	scope, err := encodeJSON(ua.Scope)
	if err != nil {
		return errors.Wrap(err, "encode scope")
	}
	flags, err := encodeJSON(ua.ScopeFlags)
	if err != nil {
		return errors.Wrap(err, "encode scope flags")
	}
	entities, err := encodeJSON(ua.Entities)
	if err != nil {
		return errors.Wrap(err, "encode entities")
	}
	_, err = db.ExecContext(ctx, `INSERT INTO user_authorizations (`+consentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, client_id) DO UPDATE SET
    scope = excluded.scope,
    scope_flags = excluded.scope_flags,
    entities = excluded.entities,
    status = excluded.status,
    updated_at = excluded.updated_at`,
		ua.UserID, ua.ClientID, scope, flags, entities, string(ua.Status), toMillis(ua.CreatedAt), toMillis(ua.UpdatedAt))
	return errors.Wrap(err, "upsert consent")
}

func (r *ConsentRepo) Get(ctx context.Context, userID, clientID string) (*consent.UserAuthorization, error) {
	ua, err := getConsent(ctx, r.db, userID, clientID)
	return ua, wrapUnlessNotFound(err, "[ConsentRepo.Get]")
}

// Accumulate reads, merges and writes back inside one transaction so concurrent grants never lose scope.
func (r *ConsentRepo) Accumulate(ctx context.Context, userID, clientID string, g consent.Grant, now time.Time) (*consent.UserAuthorization, error) {
	var ua *consent.UserAuthorization
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		ua, err = getConsent(ctx, tx, userID, clientID)
		if errors.Is(err, apperrors.ErrNotFound) {
			ua = &consent.UserAuthorization{UserID: userID, ClientID: clientID}
		} else if err != nil {
			return errors.Wrap(err, "[ConsentRepo.Accumulate] read")
		}
		ua.Merge(g, now)
		return errors.Wrap(putConsent(ctx, tx, ua), "[ConsentRepo.Accumulate]")
	})
	if err != nil {
		return nil, err
	}
	return ua, nil
}

func (r *ConsentRepo) ListByUser(ctx context.Context, userID string) ([]*consent.UserAuthorization, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+consentColumns+` FROM user_authorizations WHERE user_id = ? ORDER BY client_id`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "[ConsentRepo.ListByUser]")
	}
	defer rows.Close()

	var out []*consent.UserAuthorization
	for rows.Next() {
		ua, err := scanConsent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "[ConsentRepo.ListByUser]")
		}
		out = append(out, ua)
	}
	return out, errors.Wrap(rows.Err(), "[ConsentRepo.ListByUser]")
}

// ReassignUser rewrites each record of fromUserID under toUserID, merging into any record already there.
func (r *ConsentRepo) ReassignUser(ctx context.Context, fromUserID, toUserID string) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT `+consentColumns+` FROM user_authorizations WHERE user_id = ?`, fromUserID)
		if err != nil {
			return errors.Wrap(err, "[ConsentRepo.ReassignUser] list")
		}
		var moved []*consent.UserAuthorization
		for rows.Next() {
			ua, err := scanConsent(rows)
			if err != nil {
				_ = rows.Close()
				return errors.Wrap(err, "[ConsentRepo.ReassignUser]")
			}
			moved = append(moved, ua)
		}
		if err := rows.Close(); err != nil {
			return errors.Wrap(err, "[ConsentRepo.ReassignUser] close rows")
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM user_authorizations WHERE user_id = ?`, fromUserID); err != nil {
			return errors.Wrap(err, "[ConsentRepo.ReassignUser] delete")
		}
		for _, ua := range moved {
			ua.UserID = toUserID
			for i, id := range ua.Entities[entityid.KindUser] {
				if id == fromUserID {
					ua.Entities[entityid.KindUser][i] = toUserID
				}
			}
			existing, err := getConsent(ctx, tx, toUserID, ua.ClientID)
			switch {
			case errors.Is(err, apperrors.ErrNotFound):
			case err != nil:
				return errors.Wrap(err, "[ConsentRepo.ReassignUser] read target")
			default:
				existing.Absorb(ua)
				ua = existing
			}
			if err := putConsent(ctx, tx, ua); err != nil {
				return errors.Wrap(err, "[ConsentRepo.ReassignUser]")
			}
		}
		return nil
	})
}

func (r *ConsentRepo) Restore(ctx context.Context, userID, clientID string, ua *consent.UserAuthorization) error {
	if ua == nil {
		_, err := r.db.ExecContext(ctx, `DELETE FROM user_authorizations WHERE user_id = ? AND client_id = ?`, userID, clientID)
		return errors.Wrap(err, "[ConsentRepo.Restore] delete")
	}
	restored := *ua
	restored.UserID, restored.ClientID = userID, clientID
	return errors.Wrap(putConsent(ctx, r.db, &restored), "[ConsentRepo.Restore]")
}
