package auth

import (
	"context"
	"net/url"
	"strconv"

	"github.com/jrsteele09/go-idp-server/authorization"
	"github.com/jrsteele09/go-idp-server/clients"
	"github.com/jrsteele09/go-idp-server/consent"
	"github.com/jrsteele09/go-idp-server/entityid"
	"github.com/jrsteele09/go-idp-server/events"
	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/jrsteele09/go-idp-server/oauth2"
	"github.com/jrsteele09/go-idp-server/token"
	"github.com/jrsteele09/go-idp-server/users"
	"github.com/pkg/errors"
)

// finalize persists the grant, issues the code or token and, for a new
// identity, the first-party session. Every write is recorded in sg.
func (as *AuthorizationService) finalize(ctx context.Context, st flowState, sg *saga) (flowState, error) {
	st, err := as.persistAuthorization(ctx, st, sg)
	if err != nil {
		return st, err
	}
	if st.authz.Type == authorization.TypeToken {
		st.issued, err = as.ledger.IssueToken(ctx, st.authz, token.Attribution{LoggedByClient: st.client.ID}, false)
		if err != nil {
			return st, err
		}
	}

	// A new identity leaves with a first-party session. For a test identity it
	// is the token that later converts it.
	if st.created && st.session == nil {
		session, err := as.firstPartySession(ctx, st.user, token.Attribution{LoggedByClient: st.client.ID, LoggedWithEmail: st.user.Email}, sg)
		if err != nil {
			return st, err
		}
		st.session = session
	}
	return st, nil
}

// commit completes a round whose grant is stored: fake ids, the conversion of
// test grants, lifecycle counters and the retired test sessions.
func (as *AuthorizationService) commit(ctx context.Context, st flowState) error {
	if err := as.obfuscator.Ensure(ctx, st.entities, st.user.ID, st.client.ID, st.testMode); err != nil {
		return err
	}
	if st.wasTestAccount {
		// Grants made while testing shrink to what the user consents to now.
		if err := as.repos.Authorizations.ConvertTestScope(ctx, st.user.ID, st.client.ID, st.granted.Scope, st.granted.ScopeFlags); err != nil {
			return errors.Wrap(err, "[commit] converting test scope")
		}
	}
	if err := as.recordLifecycle(ctx, st); err != nil {
		return err
	}
	if st.testAccount != nil && st.testAccount.ID == st.user.ID {
		return as.revokeTestSessions(ctx, st)
	}
	return nil
}

func (as *AuthorizationService) persistAuthorization(ctx context.Context, st flowState, sg *saga) (flowState, error) {
	authz := &authorization.Authorization{
		ClientID:          st.client.ID,
		UserID:            st.user.ID,
		Type:              authorization.TypeAuthorizationCode,
		Addresses:         st.addresses,
		RedirectURI:       st.redirect.URI,
		NeedsClientSecret: st.redirect.NeedsClientSecret,
		UseTestAccount:    st.testMode,
		CreatedAt:         as.nowTime(),
	}
	if st.redirect.ResponseType == oauth2.TokenResponseType {
		authz.Type = authorization.TypeToken
	}
	if !st.testMode {
		authz.Scope = st.redirect.Scope
		authz.ScopeFlags = st.redirect.ScopeFlags
	}
	if authz.Type == authorization.TypeAuthorizationCode {
		raw, code, err := as.ledger.GenerateCode()
		if err != nil {
			return st, errors.Wrap(err, "[persistAuthorization] generating code")
		}
		authz.Code = code
		st.rawCode = raw
	}
	if err := as.repos.Authorizations.Insert(ctx, authz); err != nil {
		return st, errors.Wrap(err, "[persistAuthorization] storing authorization")
	}
	sg.record(compensation{kind: compensateRevoke, id: authz.ID})
	st.authz = authz

	entities := entityid.Entities{}
	entities.Merge(st.entities)
	entities.Add(entityid.KindUser, st.user.ID)
	st.entities = entities

	ua, err := as.repos.Consents.Accumulate(ctx, st.user.ID, st.client.ID, consent.Grant{
		Scope:      authz.Scope,
		ScopeFlags: authz.ScopeFlags,
		Entities:   entities,
		Status:     userStatus(st.testMode),
	}, as.nowTime())
	if err != nil {
		return st, errors.Wrap(err, "[persistAuthorization] accumulating consent")
	}
	sg.record(compensation{kind: compensateRestoreConsent, userID: st.user.ID, clientID: st.client.ID, snapshot: st.previous})
	st.granted = ua
	return st, nil
}

func userStatus(testMode bool) consent.Status {
	if testMode {
		return consent.StatusTestAccount
	}
	return consent.StatusRegistered
}

// recordLifecycle emits the round's lifecycle events and bumps the client counters.
func (as *AuthorizationService) recordLifecycle(ctx context.Context, st flowState) error {
	var (
		types []events.Type
		delta clients.Counters
	)
	switch {
	case st.testMode && st.previous == nil:
		types = append(types, events.TestAccountRegistration)
		delta.TestAccountsRegistered = 1
	case st.testMode:
		types = append(types, events.Login)
	case !st.previous.IsRegistered():
		types = append(types, events.Registration)
		delta.RegisteredUsers = 1
		if st.wasTestAccount {
			types = append(types, events.TestAccountConverted)
			delta.TestAccountsConverted = 1
		}
	default:
		types = append(types, events.Login)
	}

	for _, t := range types {
		as.recordEvent(ctx, t, st.user.ID, st.client.ID, st.req.RemoteIP)
	}
	if !delta.IsZero() {
		if err := as.repos.Clients.IncrementCounters(ctx, st.client.ID, delta); err != nil {
			return errors.Wrap(err, "[recordLifecycle] updating client counters")
		}
	}
	if err := as.repos.Users.SetLastLogin(ctx, st.user.ID, as.nowTime()); err != nil {
		return errors.Wrap(err, "[recordLifecycle] updating last login")
	}
	return nil
}

// buildResponse redirects back to the client. A code travels in the query
// string; a token, the user's fake id and status travel in the fragment.
func (as *AuthorizationService) buildResponse(ctx context.Context, st flowState) (*AuthorizeResponse, error) {
	target, err := url.Parse(st.redirect.URI)
	if err != nil {
		return nil, errors.Wrap(err, "[buildResponse] parsing redirect uri")
	}

	if st.issued == nil {
		q := target.Query()
		q.Set("code", st.rawCode)
		if st.req.State != "" {
			q.Set("state", st.req.State)
		}
		target.RawQuery = q.Encode()
		return as.redirectResponse(st, target.String()), nil
	}

	fakeID, err := as.obfuscator.UserFakeID(ctx, st.user.ID, st.client.ID)
	if err != nil {
		return nil, err
	}
	fragment := url.Values{
		"access_token": {st.issued.AccessToken},
		"token_type":   {oauth2.TokenTypeBearer},
		"expires_in":   {strconv.Itoa(st.issued.ExpiresIn)},
		"user_id":      {fakeID},
		"user_status":  {string(userStatus(st.testMode))},
	}
	if st.req.State != "" {
		fragment.Set("state", st.req.State)
	}
	target.Fragment = ""
	target.RawFragment = ""
	return as.redirectResponse(st, target.String()+"#"+fragment.Encode()), nil
}

func (as *AuthorizationService) redirectResponse(st flowState, redirectTo string) *AuthorizeResponse {
	return &AuthorizeResponse{
		Step:       StepRedirect,
		Flow:       st.flow,
		Client:     &ClientView{ID: st.client.ID, Name: st.client.Name},
		RedirectTo: redirectTo,
		Token:      st.session,
	}
}

// firstPartyRegistration handles an authorize round without a client: the
// first-party app registering a user. Logging in goes through the token endpoint.
func (as *AuthorizationService) firstPartyRegistration(ctx context.Context, st flowState, sub *Submission, sg *saga) (*AuthorizeResponse, error) {
	if sub == nil {
		return nil, apperrors.InvalidRequest(msgMissingClient)
	}
	if st.flow != oauth2.RegistrationFlow {
		return nil, apperrors.InvalidRequest(msgLoginWithTokenURL)
	}
	if !sub.hasCredentials() {
		return nil, apperrors.InvalidRequest(msgCredentialsRequired)
	}

	email := users.NormalizeEmail(sub.Email)
	existing, err := as.repos.Users.GetByEmail(ctx, email)
	if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
		return nil, errors.Wrap(err, "[firstPartyRegistration] loading user")
	}
	if existing != nil {
		return nil, apperrors.InvalidFields(map[string]string{"email": "already registered"})
	}

	if st, err = as.prepareRegistration(ctx, st, email, sub.Password); err != nil {
		return nil, err
	}
	if st, err = as.createIdentity(ctx, st, sg); err != nil {
		return nil, sg.fail(ctx, err)
	}
	session, err := as.firstPartySession(ctx, st.user, token.Attribution{LoggedWithEmail: email}, sg)
	if err != nil {
		return nil, sg.fail(ctx, err)
	}
	as.recordEvent(ctx, events.Registration, st.user.ID, "", st.req.RemoteIP)
	return &AuthorizeResponse{Step: StepToken, Flow: st.flow, Token: session}, nil
}
