package token

import (
	"context"
	"time"

	"github.com/jrsteele09/go-idp-server/authorization"
	"github.com/jrsteele09/go-idp-server/internal/config"
	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/jrsteele09/go-idp-server/users"
	"github.com/pkg/errors"
)

// Ledger issues, rotates and looks up hashed tokens and authorization codes.
type Ledger struct {
	cfg            config.OAuth
	tokens         Repo
	authorizations authorization.Repo
	users          users.Repo
	nowFunc        func() time.Time
}

type LedgerOption func(*Ledger)

func WithNowFunc(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.nowFunc = now
	}
}

func NewLedger(cfg config.OAuth, tokens Repo, authorizations authorization.Repo, userRepo users.Repo, options ...LedgerOption) (*Ledger, error) {
	if tokens == nil {
		return nil, errors.New("[NewLedger] tokens repo is required")
	}
	if authorizations == nil {
		return nil, errors.New("[NewLedger] authorizations repo is required")
	}
	if userRepo == nil {
		return nil, errors.New("[NewLedger] users repo is required")
	}
	l := &Ledger{
		cfg:            cfg,
		tokens:         tokens,
		authorizations: authorizations,
		users:          userRepo,
		nowFunc:        time.Now,
	}
	for _, opt := range options {
		opt(l)
	}
	return l, nil
}

// CodeDigest hashes a presented authorization code.
func (l *Ledger) CodeDigest(raw string) string {
	return Digest(l.cfg.CodeHash, raw)
}

// GenerateCode returns a raw authorization code and the Code to persist for it.
func (l *Ledger) GenerateCode() (string, *authorization.Code, error) {
	raw, err := GenerateRaw()
	if err != nil {
		return "", nil, err
	}
	return raw, &authorization.Code{
		Hash:      l.CodeDigest(raw),
		ExpiresAt: l.nowFunc().Add(l.cfg.CodeValidity),
	}, nil
}

func (l *Ledger) newRecord(authz *authorization.Authorization, attribution Attribution, withRefresh bool) (*Issued, error) {
	access, err := GenerateRaw()
	if err != nil {
		return nil, err
	}
	now := l.nowFunc()
	issued := &Issued{
		AccessToken: access,
		ExpiresIn:   int(l.cfg.AccessTokenValidity / time.Second),
		Record: &AccessToken{
			TokenHash:       Digest(l.cfg.AccessTokenHash, access),
			AuthorizationID: authz.ID,
			ExpiresAt:       now.Add(l.cfg.AccessTokenValidity),
			CreatedAt:       now,
			Attribution:     attribution,
		},
	}
	if withRefresh {
		refresh, err := GenerateRaw()
		if err != nil {
			return nil, err
		}
		issued.RefreshToken = refresh
		issued.Record.RefreshHash = Digest(l.cfg.RefreshTokenHash, refresh)
	}
	return issued, nil
}

// IssueToken persists a new access token, and optionally a refresh token, bound to authz.
func (l *Ledger) IssueToken(ctx context.Context, authz *authorization.Authorization, attribution Attribution, withRefresh bool) (*Issued, error) {
	issued, err := l.newRecord(authz, attribution, withRefresh)
	if err != nil {
		return nil, errors.Wrap(err, "[IssueToken] generating token")
	}
	if err := l.tokens.Insert(ctx, issued.Record); err != nil {
		return nil, errors.Wrap(err, "[IssueToken] storing token")
	}
	return issued, nil
}

// RedeemRefresh replaces the pair holding rawRefresh with a new pair carrying the
// same attribution. verify runs against the owning authorization before anything
// changes. Every unknown, already rotated or rejected token yields invalid_grant.
func (l *Ledger) RedeemRefresh(ctx context.Context, rawRefresh string, verify func(*authorization.Authorization) error) (*Issued, *authorization.Authorization, error) {
	oldHash := Digest(l.cfg.RefreshTokenHash, rawRefresh)
	old, err := l.tokens.GetByRefreshHash(ctx, oldHash)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, nil, apperrors.InvalidGrant()
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "[RedeemRefresh] looking up refresh token")
	}

	authz, err := l.authorizations.Get(ctx, old.AuthorizationID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, nil, apperrors.InvalidGrant()
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "[RedeemRefresh] loading authorization")
	}
	if verify != nil {
		if err := verify(authz); err != nil {
			return nil, nil, err
		}
	}

	issued, err := l.newRecord(authz, old.Attribution, true)
	if err != nil {
		return nil, nil, errors.Wrap(err, "[RedeemRefresh] generating token")
	}
	err = l.tokens.Rotate(ctx, oldHash, issued.Record)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		// A concurrent refresh with the same token won.
		return nil, nil, apperrors.InvalidGrant()
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "[RedeemRefresh] rotating token")
	}
	return issued, authz, nil
}

// Lookup resolves a presented bearer token. An expiry at or before now is
// reported as ExpiredToken so the caller knows to refresh.
func (l *Ledger) Lookup(ctx context.Context, raw string) (*Identity, error) {
	if raw == "" {
		return nil, apperrors.InvalidToken()
	}
	record, err := l.tokens.GetByTokenHash(ctx, Digest(l.cfg.AccessTokenHash, raw))
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.InvalidToken()
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Lookup] looking up token")
	}
	if !record.ExpiresAt.After(l.nowFunc()) {
		return nil, apperrors.ExpiredToken()
	}

	authz, err := l.authorizations.Get(ctx, record.AuthorizationID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.InvalidToken()
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Lookup] loading authorization")
	}

	identity := &Identity{Token: record, Authorization: authz}
	if authz.Type == authorization.TypeClientCredentials {
		return identity, nil
	}
	user, err := l.users.GetByID(ctx, authz.UserID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.InvalidToken()
	}
	if err != nil {
		return nil, errors.Wrap(err, "[Lookup] loading user")
	}
	identity.User = user
	return identity, nil
}

// RevokeAuthorization deletes an authorization and every token issued against it.
func (l *Ledger) RevokeAuthorization(ctx context.Context, authorizationID string) error {
	if err := l.tokens.DeleteByAuthorization(ctx, authorizationID); err != nil {
		return errors.Wrap(err, "[RevokeAuthorization] deleting tokens")
	}
	if err := l.authorizations.Delete(ctx, authorizationID); err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
		return errors.Wrap(err, "[RevokeAuthorization] deleting authorization")
	}
	return nil
}
