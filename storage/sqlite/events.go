package sqlite

import (
	"context"
	"database/sql"

	"github.com/jrsteele09/go-idp-server/events"
	"github.com/jrsteele09/go-idp-server/internal/ids"
	"github.com/pkg/errors"
)

var _ events.Repo = (*EventRepo)(nil)

type EventRepo struct {
	db *sql.DB
}

func (r *EventRepo) Insert(ctx context.Context, e *events.Event) error {
	if e.ID == "" {
		e.ID = ids.New()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO events (id, type, ip, entity, user_id, client_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), e.Key.IP, e.Key.EntityJSON(), e.UserID, e.ClientID, toMillis(e.CreatedAt))
	return errors.Wrap(err, "[EventRepo.Insert]")
}

const eventFilter = `type = ? AND ip = ? AND entity = ? AND created_at > ?`

func filterArgs(f events.Filter) []any {
	return []any{string(f.Type), f.Key.IP, f.Key.EntityJSON(), toMillis(f.Since)}
}

func (r *EventRepo) Count(ctx context.Context, f events.Filter) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE `+eventFilter, filterArgs(f)...).Scan(&n)
	return n, errors.Wrap(err, "[EventRepo.Count]")
}

func (r *EventRepo) Delete(ctx context.Context, f events.Filter) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE `+eventFilter, filterArgs(f)...)
	return errors.Wrap(err, "[EventRepo.Delete]")
}
