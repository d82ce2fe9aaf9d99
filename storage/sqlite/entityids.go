package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/jrsteele09/go-idp-server/entityid"
	"github.com/jrsteele09/go-idp-server/scopes"
	"github.com/pkg/errors"
)

var _ entityid.Repo = (*EntityIDRepo)(nil)

type EntityIDRepo struct {
	db *sql.DB
}

const entityIDColumns = `user_id, client_id, real_id, fake_id, kinds, use_test_account, created_at`

func scanEntityID(row scanner) (entityid.Record, error) {
	var (
		rec         entityid.Record
		kinds       string
		testAccount int
		createdAt   int64
	)
	if err := row.Scan(&rec.UserID, &rec.ClientID, &rec.RealID, &rec.FakeID, &kinds, &testAccount, &createdAt); err != nil {
		return entityid.Record{}, errors.Wrap(err, "scan entity id")
	}
	if err := decodeJSON(kinds, &rec.Kinds); err != nil {
		return entityid.Record{}, errors.Wrap(err, "decode kinds")
	}
	rec.UseTestAccount = testAccount == 1
	rec.CreatedAt = fromMillis(createdAt)
	return rec, nil
}

// putEntityID inserts rec or merges it into the record already held for the
// same real id: that record keeps its fake id, gains rec's kinds and stays a
// test record only while both are.
func putEntityID(ctx context.Context, db execer, rec entityid.Record) error {
	kinds := "[]"
	if len(rec.Kinds) > 0 {
		var err error
		if kinds, err = encodeJSON(rec.Kinds.Sorted()); err != nil {
			return errors.Wrap(err, "encode kinds")
		}
	}
	_, err := db.ExecContext(ctx, `INSERT INTO entity_ids (`+entityIDColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, client_id, real_id) DO UPDATE SET
    kinds = (SELECT json_group_array(DISTINCT value) FROM (
        SELECT value FROM json_each(entity_ids.kinds)
        UNION
        SELECT value FROM json_each(excluded.kinds))),
    use_test_account = entity_ids.use_test_account AND excluded.use_test_account`,
		rec.UserID, rec.ClientID, rec.RealID, rec.FakeID, kinds, boolInt(rec.UseTestAccount), toMillis(rec.CreatedAt))
	return errors.Wrap(err, "upsert entity id")
}

// Upsert keeps the fake id of an existing record and only ever clears its test flag.
func (r *EntityIDRepo) Upsert(ctx context.Context, userID, clientID, realID, fakeID string, kinds scopes.Set[entityid.Kind], useTestAccount bool, now time.Time) error {
	return errors.Wrap(putEntityID(ctx, r.db, entityid.Record{
		UserID:         userID,
		ClientID:       clientID,
		RealID:         realID,
		FakeID:         fakeID,
		Kinds:          kinds,
		UseTestAccount: useTestAccount,
		CreatedAt:      now,
	}), "[EntityIDRepo.Upsert]")
}

func (r *EntityIDRepo) Find(ctx context.Context, q entityid.Query) ([]entityid.Record, error) {
	where := []string{"user_id = ?", "client_id = ?"}
	args := []any{q.UserID, q.ClientID}
	if len(q.RealIDs) > 0 {
		where = append(where, "real_id IN ("+placeholders(len(q.RealIDs))+")")
		for _, id := range q.RealIDs {
			args = append(args, id)
		}
	}
	if len(q.FakeIDs) > 0 {
		where = append(where, "fake_id IN ("+placeholders(len(q.FakeIDs))+")")
		for _, id := range q.FakeIDs {
			args = append(args, id)
		}
	}
	if q.Kind != "" {
		where = append(where, "EXISTS (SELECT 1 FROM json_each(kinds) WHERE json_each.value = ?)")
		args = append(args, string(q.Kind))
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+entityIDColumns+` FROM entity_ids WHERE `+strings.Join(where, " AND ")+` ORDER BY real_id`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "[EntityIDRepo.Find]")
	}
	defer rows.Close()

	var out []entityid.Record
	for rows.Next() {
		rec, err := scanEntityID(rows)
		if err != nil {
			return nil, errors.Wrap(err, "[EntityIDRepo.Find]")
		}
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "[EntityIDRepo.Find]")
}

func (r *EntityIDRepo) ReassignUser(ctx context.Context, fromUserID, toUserID string) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT `+entityIDColumns+` FROM entity_ids WHERE user_id = ?`, fromUserID)
		if err != nil {
			return errors.Wrap(err, "[EntityIDRepo.ReassignUser] list")
		}
		var moved []entityid.Record
		for rows.Next() {
			rec, err := scanEntityID(rows)
			if err != nil {
				_ = rows.Close()
				return errors.Wrap(err, "[EntityIDRepo.ReassignUser]")
			}
			moved = append(moved, rec)
		}
		if err := rows.Close(); err != nil {
			return errors.Wrap(err, "[EntityIDRepo.ReassignUser] close rows")
		}

		// Deleting first releases the fake ids for the moved records. A record
		// toUserID already holds absorbs the moved one.
		if _, err := tx.ExecContext(ctx, `DELETE FROM entity_ids WHERE user_id = ?`, fromUserID); err != nil {
			return errors.Wrap(err, "[EntityIDRepo.ReassignUser] delete")
		}
		for _, rec := range moved {
			rec.UserID = toUserID
			if rec.RealID == fromUserID {
				rec.RealID = toUserID
			}
			if err := putEntityID(ctx, tx, rec); err != nil {
				return errors.Wrap(err, "[EntityIDRepo.ReassignUser]")
			}
		}
		return nil
	})
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
