// Package sqlite persists every repository of the identity provider in one SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"time"

	"github.com/jrsteele09/go-idp-server/storage/sqlite/migrations"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// Store owns the database handle and hands out one repository per domain.
type Store struct {
	db *sql.DB
}

// Open opens the database at path and applies the embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("[sqlite.Open] storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "[sqlite.Open] open db")
	}
	// SQLite allows a single writer; one connection serializes the read-modify-write transactions.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[sqlite.Open] ping db")
	}
	if err := applyMigrations(db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "[sqlite.Open] run migrations")
	}
	return &Store{db: db}, nil
}

// New wraps an already migrated handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Users() *UserRepo                   { return &UserRepo{db: s.db} }
func (s *Store) Clients() *ClientRepo               { return &ClientRepo{db: s.db} }
func (s *Store) Authorizations() *AuthorizationRepo { return &AuthorizationRepo{db: s.db} }
func (s *Store) Tokens() *TokenRepo                 { return &TokenRepo{db: s.db} }
func (s *Store) Consents() *ConsentRepo             { return &ConsentRepo{db: s.db} }
func (s *Store) EntityIDs() *EntityIDRepo           { return &EntityIDRepo{db: s.db} }
func (s *Store) Events() *EventRepo                 { return &EventRepo{db: s.db} }

type scanner interface {
	Scan(dest ...any) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// optionalMillis keeps never-set times as zero.
func optionalMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return toMillis(t)
}

func fromOptionalMillis(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return fromMillis(v)
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

func decodeJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// inTx runs fn in a transaction and commits when it returns nil.
func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit transaction")
}
