package auth

import (
	"context"
	"fmt"

	"github.com/jrsteele09/go-idp-server/consent"
	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/jrsteele09/go-idp-server/scopes"
	"github.com/jrsteele09/go-idp-server/users"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type compensationKind string

const (
	compensateDeleteEmail       compensationKind = "delete_email"
	compensateDeletePhoneNumber compensationKind = "delete_phone_number"
	compensateDeleteAddress     compensationKind = "delete_address"
	compensateRestoreField      compensationKind = "restore_field"
	compensateDeleteUser        compensationKind = "delete_user"
	compensateRevertTestAccount compensationKind = "revert_test_account"
	compensateRevoke            compensationKind = "revoke_authorization"
	compensateRestoreConsent    compensationKind = "restore_consent"
)

// compensation is the inverse of one committed write.
type compensation struct {
	kind     compensationKind
	userID   string
	id       string                     // sub-resource or authorization id
	field    scopes.Field               // restore_field only
	previous string                     // restore_field only
	clientID string                     // restore_consent only
	snapshot *consent.UserAuthorization // restore_consent only, nil when there was no record
}

func (c compensation) String() string {
	switch c.kind {
	case compensateRestoreField:
		return fmt.Sprintf("%s(%s)", c.kind, c.field)
	case compensateRestoreConsent:
		return fmt.Sprintf("%s(%s)", c.kind, c.clientID)
	case compensateDeleteUser, compensateRevertTestAccount:
		return fmt.Sprintf("%s(%s)", c.kind, c.userID)
	}
	return fmt.Sprintf("%s(%s)", c.kind, c.id)
}

type revoker interface {
	RevokeAuthorization(ctx context.Context, authorizationID string) error
}

// saga collects the inverse operations of one authorize round.
type saga struct {
	users    users.Repo
	consents consent.Repo
	ledger   revoker
	ops      []compensation
}

func newSaga(userRepo users.Repo, consentRepo consent.Repo, ledger revoker) *saga {
	return &saga{users: userRepo, consents: consentRepo, ledger: ledger}
}

// record is a no-op on a nil saga, for writes made outside any round.
func (s *saga) record(op compensation) {
	if s == nil {
		return
	}
	s.ops = append(s.ops, op)
}

func (s *saga) apply(ctx context.Context, op compensation) error {
	switch op.kind {
	case compensateDeleteEmail:
		return s.users.DeleteEmail(ctx, op.userID, op.id)
	case compensateDeletePhoneNumber:
		return s.users.DeletePhoneNumber(ctx, op.userID, op.id)
	case compensateDeleteAddress:
		return s.users.DeleteAddress(ctx, op.userID, op.id)
	case compensateRestoreField:
		_, err := s.users.SetField(ctx, op.userID, op.field, op.previous)
		return err
	case compensateDeleteUser:
		return s.users.Delete(ctx, op.userID)
	case compensateRevertTestAccount:
		return s.users.SetCredentials(ctx, op.userID, "", "", true)
	case compensateRevoke:
		return s.ledger.RevokeAuthorization(ctx, op.id)
	case compensateRestoreConsent:
		return s.consents.Restore(ctx, op.userID, op.clientID, op.snapshot)
	}
	return errors.Errorf("unknown compensation %q", op.kind)
}

// rollback undoes every recorded write, newest first. A failed undo does not
// stop the remaining ones; all failures come back as one ServerError.
func (s *saga) rollback(ctx context.Context) error {
	var failures []error
	for i := len(s.ops) - 1; i >= 0; i-- {
		op := s.ops[i]
		if err := s.apply(ctx, op); err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
			log.Err(err).Str("compensation", op.String()).Msg("rollback step failed")
			failures = append(failures, errors.Wrapf(err, "[saga.rollback] %s", op))
		}
	}
	s.ops = nil
	if len(failures) > 0 {
		return apperrors.ServerError(failures...)
	}
	return nil
}

// fail rolls back and returns cause, or a ServerError carrying both the cause
// and the rollback failures.
func (s *saga) fail(ctx context.Context, cause error) error {
	if rbErr := s.rollback(ctx); rbErr != nil {
		return apperrors.ServerError(append([]error{cause}, apperrors.From(rbErr).Causes...)...)
	}
	return cause
}
