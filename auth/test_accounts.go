package auth

import (
	"context"

	"github.com/jrsteele09/go-idp-server/consent"
	"github.com/jrsteele09/go-idp-server/events"
	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/jrsteele09/go-idp-server/users"
	"github.com/pkg/errors"
)

// checkTestAccountEligibility loads the user's prior consent and decides whether
// the round runs under a test identity. A user who granted the client any
// scope cannot switch to a test identity for it.
func (as *AuthorizationService) checkTestAccountEligibility(ctx context.Context, st flowState) (flowState, error) {
	if st.user != nil {
		previous, err := as.getConsent(ctx, st.user.ID, st.client.ID)
		if err != nil {
			return st, err
		}
		st.previous = previous
	}

	switch {
	case st.user != nil && st.user.IsTestAccount:
		st.testMode = true
	case st.req.UseTestAccount:
		if st.previous.HasGrantedScope() {
			return st, apperrors.AccessDenied(msgTestAccountDenied)
		}
		if err := as.limiter.Guard(ctx, events.Signup, events.IPKey(st.req.RemoteIP), st.req.CaptchaResponse, st.req.RemoteIP); err != nil {
			return st, err
		}
		// A fresh test identity replaces whoever is logged in for this round.
		st.testMode = true
		st.user = nil
		st.previous = nil
	}
	return st, nil
}

// prepareRegistration validates a new account. It is stored by createIdentity.
func (as *AuthorizationService) prepareRegistration(ctx context.Context, st flowState, email, password string) (flowState, error) {
	fe := apperrors.FieldErrors{}
	if err := users.ValidateEmail(email); err != nil {
		fe.Add("email", err.Error())
	}
	if err := users.ValidatePasswordStrength(password); err != nil {
		fe.Add("password", err.Error())
	}
	if err := fe.Err(); err != nil {
		return st, err
	}
	if err := as.limiter.Guard(ctx, events.Signup, events.IPKey(st.req.RemoteIP), st.req.CaptchaResponse, st.req.RemoteIP); err != nil {
		return st, err
	}

	hash, err := users.HashPassword(password)
	if err != nil {
		return st, errors.Wrap(err, "[prepareRegistration] hashing password")
	}
	st.newUser = &users.User{
		Email:        email,
		PasswordHash: hash,
		DateJoined:   as.nowTime(),
	}
	return st, nil
}

// prepareTestAccount resolves test_account_token before anything is written.
// A test identity folds into an existing user only when that user holds no
// consent for any client the test identity used.
func (as *AuthorizationService) prepareTestAccount(ctx context.Context, st flowState) (flowState, error) {
	if st.req.TestAccountToken == "" || st.testMode {
		return st, nil
	}
	identity, err := as.ledger.Lookup(ctx, st.req.TestAccountToken)
	if k := apperrors.KindOf(err); k == apperrors.KindInvalidToken || k == apperrors.KindExpiredToken {
		return st, apperrors.InvalidRequest(msgInvalidTestAccount)
	}
	if err != nil {
		return st, err
	}
	test := identity.User
	if test == nil || !test.IsTestAccount || !identity.Authorization.IsFirstParty() {
		return st, apperrors.InvalidRequest(msgInvalidTestAccount)
	}

	if st.user != nil {
		if test.ID == st.user.ID {
			return st, apperrors.InvalidRequest(msgInvalidTestAccount)
		}
		used, err := as.repos.Consents.ListByUser(ctx, test.ID)
		if err != nil {
			return st, errors.Wrap(err, "[prepareTestAccount] listing test consents")
		}
		for _, ua := range used {
			held, err := as.getConsent(ctx, st.user.ID, ua.ClientID)
			if err != nil {
				return st, err
			}
			if held != nil {
				return st, apperrors.InvalidRequest(msgTestAccountConflict)
			}
		}
	}

	sessions, err := as.repos.Authorizations.ListByUserClient(ctx, test.ID, "")
	if err != nil {
		return st, errors.Wrap(err, "[prepareTestAccount] listing test sessions")
	}
	for _, s := range sessions {
		st.testSessions = append(st.testSessions, s.ID)
	}
	st.testAccount = test
	return st, nil
}

// createIdentity stores a prepared registration or a new test identity. A
// registration that carries a test account promotes it in place.
func (as *AuthorizationService) createIdentity(ctx context.Context, st flowState, sg *saga) (flowState, error) {
	var user *users.User
	switch {
	case st.newUser != nil && st.testAccount != nil:
		return as.promoteTestAccount(ctx, st, sg)
	case st.newUser != nil:
		user = st.newUser
	case st.testMode && st.user == nil:
		user = &users.User{IsTestAccount: true, DateJoined: as.nowTime()}
	default:
		return st, nil
	}

	if err := as.repos.Users.Create(ctx, user); err != nil {
		return st, errors.Wrap(err, "[createIdentity] creating user")
	}
	sg.record(compensation{kind: compensateDeleteUser, userID: user.ID})
	if err := as.limiter.Hit(ctx, events.Signup, events.IPKey(st.req.RemoteIP)); err != nil {
		return st, err
	}
	st.user = user
	st.newUser = nil
	st.created = true
	return st, nil
}

// promoteTestAccount gives the test identity the new account's credentials.
// Its id and every fake id issued for it stay the same.
func (as *AuthorizationService) promoteTestAccount(ctx context.Context, st flowState, sg *saga) (flowState, error) {
	user := *st.testAccount
	user.Email = st.newUser.Email
	user.PasswordHash = st.newUser.PasswordHash
	user.IsTestAccount = false

	if err := as.repos.Users.SetCredentials(ctx, user.ID, user.Email, user.PasswordHash, false); err != nil {
		return st, errors.Wrap(err, "[promoteTestAccount] storing credentials")
	}
	sg.record(compensation{kind: compensateRevertTestAccount, userID: user.ID})
	if err := as.limiter.Hit(ctx, events.Signup, events.IPKey(st.req.RemoteIP)); err != nil {
		return st, err
	}

	previous, err := as.getConsent(ctx, user.ID, st.client.ID)
	if err != nil {
		return st, err
	}
	st.user = &user
	st.newUser = nil
	st.created = true
	st.previous = previous
	st.wasTestAccount = previous != nil && previous.Status == consent.StatusTestAccount
	return st, nil
}

// bindTestAccount moves everything a test identity accumulated to an existing
// user: entity ids of every client it touched keep their fake ids, consents
// and authorizations change owner. The test identity's sessions are revoked
// before its authorizations move so its token never reaches the real user.
func (as *AuthorizationService) bindTestAccount(ctx context.Context, st flowState) (flowState, error) {
	if st.testAccount == nil || st.user == nil {
		return st, nil
	}
	test := st.testAccount

	if err := as.obfuscator.ReassignTestAccount(ctx, test.ID, st.user.ID); err != nil {
		return st, err
	}
	if err := as.repos.Consents.ReassignUser(ctx, test.ID, st.user.ID); err != nil {
		return st, errors.Wrap(err, "[bindTestAccount] reassigning consents")
	}
	if err := as.revokeTestSessions(ctx, st); err != nil {
		return st, err
	}
	if err := as.repos.Authorizations.ReassignUser(ctx, test.ID, st.user.ID); err != nil {
		return st, errors.Wrap(err, "[bindTestAccount] reassigning authorizations")
	}
	if err := as.repos.Users.Delete(ctx, test.ID); err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
		return st, errors.Wrap(err, "[bindTestAccount] deleting test account")
	}

	previous, err := as.getConsent(ctx, st.user.ID, st.client.ID)
	if err != nil {
		return st, err
	}
	st.previous = previous
	st.wasTestAccount = previous != nil && previous.Status == consent.StatusTestAccount
	return st, nil
}

func (as *AuthorizationService) revokeTestSessions(ctx context.Context, st flowState) error {
	for _, id := range st.testSessions {
		if err := as.ledger.RevokeAuthorization(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
