package auth_test

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-idp-server/auth"
	fakeauthorizationrepo "github.com/jrsteele09/go-idp-server/authorization/repofake"
	"github.com/jrsteele09/go-idp-server/captcha"
	"github.com/jrsteele09/go-idp-server/captcha/mock_captcha"
	"github.com/jrsteele09/go-idp-server/clients"
	fakeclientrepo "github.com/jrsteele09/go-idp-server/clients/fakerepo"
	"github.com/jrsteele09/go-idp-server/consent"
	fakeconsentrepo "github.com/jrsteele09/go-idp-server/consent/repofake"
	"github.com/jrsteele09/go-idp-server/entityid"
	fakeentityidrepo "github.com/jrsteele09/go-idp-server/entityid/repofake"
	"github.com/jrsteele09/go-idp-server/events"
	fakeeventrepo "github.com/jrsteele09/go-idp-server/events/repofake"
	"github.com/jrsteele09/go-idp-server/internal/config"
	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/jrsteele09/go-idp-server/oauth2"
	"github.com/jrsteele09/go-idp-server/ratelimit"
	"github.com/jrsteele09/go-idp-server/scopes"
	"github.com/jrsteele09/go-idp-server/token"
	tokenfakerepo "github.com/jrsteele09/go-idp-server/token/repofake"
	"github.com/jrsteele09/go-idp-server/users"
	fakeuserrepo "github.com/jrsteele09/go-idp-server/users/repofake"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	appClientID      = "app"
	appClientSecret  = "app-secret"
	testClientID     = "shop"
	testClientSecret = "shop-secret"
	otherClientID    = "other"
	testUserEmail    = "john.doe@example.com"
	testUserPassword = "Password123"
	testState        = "random-state-value"
	testIP           = "10.0.0.1"

	codeRedirectURI    = "https://shop.example.com/callback"
	tokenRedirectURI   = "https://shop.example.com/implicit"
	secretRedirectURI  = "https://shop.example.com/secure"
	addressRedirectURI = "https://shop.example.com/checkout"
)

// testFixture holds all test dependencies
type testFixture struct {
	now            time.Time
	users          *fakeuserrepo.FakeUserRepo
	clients        *fakeclientrepo.FakeClientRepo
	authorizations *fakeauthorizationrepo.FakeAuthorizationRepo
	consents       *fakeconsentrepo.FakeConsentRepo
	entityIDs      *fakeentityidrepo.FakeEntityIDRepo
	events         *fakeeventrepo.FakeEventRepo
	tokens         *tokenfakerepo.FakeTokenRepo
	verifier       *mock_captcha.MockVerifier
	ledger         *token.Ledger
	obfuscator     *entityid.Obfuscator
	repos          auth.Repos
	components     auth.Components
	service        *auth.AuthorizationService
}

// setupTestFixture creates a new test fixture with all dependencies
func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	f := &testFixture{
		now:            time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		users:          fakeuserrepo.NewFakeUserRepo(),
		clients:        fakeclientrepo.NewFakeClientRepo(),
		authorizations: fakeauthorizationrepo.NewFakeAuthorizationRepo(),
		consents:       fakeconsentrepo.NewFakeConsentRepo(),
		entityIDs:      fakeentityidrepo.NewFakeEntityIDRepo(),
		events:         fakeeventrepo.NewFakeEventRepo(),
		tokens:         tokenfakerepo.NewFakeTokensRepo(),
		verifier:       mock_captcha.NewMockVerifier(gomock.NewController(t)),
	}
	nowFunc := func() time.Time { return f.now }

	ledger, err := token.NewLedger(config.DefaultOAuth(), f.tokens, f.authorizations, f.users, token.WithNowFunc(nowFunc))
	require.NoError(t, err)
	obfuscator, err := entityid.NewObfuscator(f.entityIDs, entityid.WithNowFunc(nowFunc))
	require.NoError(t, err)
	reconciler, err := consent.NewReconciler(f.users)
	require.NoError(t, err)
	limiter, err := ratelimit.New(f.events, f.verifier, config.DefaultRateLimits(), ratelimit.WithNowFunc(nowFunc))
	require.NoError(t, err)
	f.ledger = ledger
	f.obfuscator = obfuscator

	repos := auth.Repos{
		Users:          f.users,
		Clients:        f.clients,
		Authorizations: f.authorizations,
		Consents:       f.consents,
		Events:         f.events,
	}
	components := auth.Components{
		Ledger:     ledger,
		Obfuscator: obfuscator,
		Reconciler: reconciler,
		Limiter:    limiter,
	}
	f.repos = repos
	f.components = components
	f.service = f.newService(t, repos)

	f.createClient(t, testClientID, testClientSecret)
	f.createClient(t, otherClientID, "other-secret")
	return f
}

// newService builds a service over repos sharing the fixture's components.
func (f *testFixture) newService(t *testing.T, repos auth.Repos) *auth.AuthorizationService {
	t.Helper()

	app := config.App{ClientID: appClientID, ClientSecret: appClientSecret}
	service, err := auth.NewAuthorizationService(app, repos, f.components, auth.WithNowTime(func() time.Time { return f.now }))
	require.NoError(t, err)
	return service
}

// createClient registers a client with one redirection URI per test flow.
func (f *testFixture) createClient(t *testing.T, id, secret string) {
	t.Helper()

	hash, err := clients.HashSecret(secret)
	require.NoError(t, err)
	require.NoError(t, f.clients.Upsert(context.Background(), &clients.Client{
		ID:         id,
		Name:       "Client " + id,
		SecretHash: hash,
		RedirectionURIs: []clients.RedirectionURI{
			{URI: codeRedirectURI, ResponseType: oauth2.CodeResponseType, Scope: scopes.NewSet(scopes.Emails, scopes.Nickname)},
			{URI: tokenRedirectURI, ResponseType: oauth2.TokenResponseType, Scope: scopes.NewSet(scopes.Emails)},
			{URI: secretRedirectURI, ResponseType: oauth2.CodeResponseType, Scope: scopes.NewSet(scopes.Nickname), NeedsClientSecret: true},
			{URI: addressRedirectURI, ResponseType: oauth2.CodeResponseType, Scope: scopes.NewSet(scopes.Nickname, scopes.Addresses)},
		},
	}))
}

// createUser creates and stores a registered user
func (f *testFixture) createUser(t *testing.T, email, password string) *users.User {
	t.Helper()

	hash, err := users.HashPassword(password)
	require.NoError(t, err)
	u := &users.User{Email: email, PasswordHash: hash, DateJoined: f.now}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u
}

// login runs the password grant and resolves the first-party session it returns.
func (f *testFixture) login(t *testing.T, email, password string) (*oauth2.TokenResponse, *token.Identity) {
	t.Helper()

	resp, err := f.service.Token(context.Background(), auth.TokenRequest{
		GrantType:    oauth2.PasswordGrant,
		ClientID:     appClientID,
		ClientSecret: appClientSecret,
		Username:     email,
		Password:     password,
		RemoteIP:     testIP,
	})
	require.NoError(t, err)
	identity, err := f.ledger.Lookup(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	return resp, identity
}

func authorizeRequest(redirectURI string, responseType oauth2.ResponseType, flow oauth2.Flow) auth.AuthorizeRequest {
	return auth.AuthorizeRequest{
		ClientID:     testClientID,
		RedirectURI:  redirectURI,
		ResponseType: responseType,
		State:        testState,
		Flow:         flow,
		RemoteIP:     testIP,
	}
}

// authorizeCode registers identity's user with the client and returns the code.
func (f *testFixture) authorizeCode(t *testing.T, identity *token.Identity, redirectURI string, values url.Values) string {
	t.Helper()

	req := authorizeRequest(redirectURI, oauth2.CodeResponseType, oauth2.RegistrationFlow)
	resp, err := f.service.Submit(context.Background(), req, identity, auth.Submission{Values: values})
	require.NoError(t, err)
	require.Equal(t, auth.StepRedirect, resp.Step)
	return codeFrom(t, resp.RedirectTo)
}

func codeFrom(t *testing.T, redirectTo string) string {
	t.Helper()

	u, err := url.Parse(redirectTo)
	require.NoError(t, err)
	require.Equal(t, testState, u.Query().Get("state"))
	code := u.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func (f *testFixture) exchangeCode(code, secret string) (*oauth2.TokenResponse, error) {
	return f.service.Token(context.Background(), auth.TokenRequest{
		GrantType:    oauth2.AuthorizationCodeGrant,
		ClientID:     testClientID,
		ClientSecret: secret,
		Code:         code,
		RemoteIP:     testIP,
	})
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.True(t, apperrors.HasCode(err, code), "want %s, got %v", code, err)
}

func TestNewAuthorizationServiceRequiresDependencies(t *testing.T) {
	_, err := auth.NewAuthorizationService(config.App{}, auth.Repos{}, auth.Components{})
	require.Error(t, err)
}

func TestClientCredentialsGrant(t *testing.T) {
	f := setupTestFixture(t)

	resp, err := f.service.Token(context.Background(), auth.TokenRequest{
		GrantType:    oauth2.ClientCredentialsCodeGrant,
		ClientID:     appClientID,
		ClientSecret: appClientSecret,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
	require.Equal(t, oauth2.TokenTypeBearer, resp.TokenType)
	require.Empty(t, resp.RefreshToken)
	require.Empty(t, resp.UserID)

	identity, err := f.ledger.Lookup(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	require.Nil(t, identity.User)
}

func TestInvalidClient(t *testing.T) {
	f := setupTestFixture(t)

	tests := []struct {
		name string
		req  auth.TokenRequest
	}{
		{
			name: "missing client id",
			req:  auth.TokenRequest{GrantType: oauth2.ClientCredentialsCodeGrant},
		},
		{
			name: "wrong app secret",
			req:  auth.TokenRequest{GrantType: oauth2.ClientCredentialsCodeGrant, ClientID: appClientID, ClientSecret: "nope"},
		},
		{
			name: "unknown client",
			req:  auth.TokenRequest{GrantType: oauth2.RefreshTokenCodeGrant, ClientID: "ghost", RefreshToken: "x"},
		},
		{
			name: "wrong client secret",
			req:  auth.TokenRequest{GrantType: oauth2.AuthorizationCodeGrant, ClientID: testClientID, ClientSecret: "nope", Code: "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Token(context.Background(), tt.req)
			requireCode(t, err, apperrors.CodeInvalidClient)
			require.Equal(t, 401, apperrors.From(err).Status())
		})
	}
}

func TestFirstPartyAppWithoutSecretIsRejected(t *testing.T) {
	f := setupTestFixture(t)
	limiter, err := ratelimit.New(f.events, f.verifier, config.DefaultRateLimits())
	require.NoError(t, err)
	reconciler, err := consent.NewReconciler(f.users)
	require.NoError(t, err)

	service, err := auth.NewAuthorizationService(config.App{ClientID: appClientID},
		auth.Repos{Users: f.users, Clients: f.clients, Authorizations: f.authorizations, Consents: f.consents, Events: f.events},
		auth.Components{Ledger: f.ledger, Obfuscator: f.obfuscator, Reconciler: reconciler, Limiter: limiter})
	require.NoError(t, err)

	_, err = service.Token(context.Background(), auth.TokenRequest{GrantType: oauth2.ClientCredentialsCodeGrant, ClientID: appClientID})
	requireCode(t, err, apperrors.CodeInvalidClient)
}

func TestGrantPartition(t *testing.T) {
	f := setupTestFixture(t)
	f.createUser(t, testUserEmail, testUserPassword)

	_, err := f.service.Token(context.Background(), auth.TokenRequest{
		GrantType:    oauth2.PasswordGrant,
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		Username:     testUserEmail,
		Password:     testUserPassword,
	})
	requireCode(t, err, apperrors.CodeUnauthorizedClient)

	_, err = f.service.Token(context.Background(), auth.TokenRequest{
		GrantType: oauth2.ClientCredentialsCodeGrant,
		ClientID:  testClientID,
	})
	requireCode(t, err, apperrors.CodeUnauthorizedClient)

	_, err = f.service.Token(context.Background(), auth.TokenRequest{
		GrantType:    oauth2.AuthorizationCodeGrant,
		ClientID:     appClientID,
		ClientSecret: appClientSecret,
		Code:         "x",
	})
	requireCode(t, err, apperrors.CodeUnauthorizedClient)
}

func TestTokenShape(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.service.Token(context.Background(), auth.TokenRequest{ClientID: appClientID})
	requireCode(t, err, apperrors.CodeInvalidRequest)

	_, err = f.service.Token(context.Background(), auth.TokenRequest{GrantType: "implicit", ClientID: appClientID})
	requireCode(t, err, apperrors.CodeUnsupportedGrantType)
}

func TestPasswordGrant(t *testing.T) {
	f := setupTestFixture(t)
	user := f.createUser(t, testUserEmail, testUserPassword)

	resp, identity := f.login(t, "  John.Doe@Example.com ", testUserPassword)
	require.Equal(t, user.ID, resp.UserID)
	require.NotEmpty(t, resp.RefreshToken)
	require.True(t, identity.Authorization.IsFirstParty())
	require.Equal(t, testUserEmail, identity.Token.LoggedWithEmail)
	require.True(t, identity.Authorization.Scope.Contains(scopes.App))

	_, err := f.service.Token(context.Background(), auth.TokenRequest{
		GrantType:    oauth2.PasswordGrant,
		ClientID:     appClientID,
		ClientSecret: appClientSecret,
		Username:     testUserEmail,
		Password:     "wrong",
	})
	requireCode(t, err, apperrors.CodeInvalidGrant)
}

func TestInvalidLoginsRequireCaptcha(t *testing.T) {
	f := setupTestFixture(t)
	f.createUser(t, testUserEmail, testUserPassword)
	ctx := context.Background()

	attempt := func(password, captchaResponse string) error {
		_, err := f.service.Token(ctx, auth.TokenRequest{
			GrantType:       oauth2.PasswordGrant,
			ClientID:        appClientID,
			ClientSecret:    appClientSecret,
			Username:        testUserEmail,
			Password:        password,
			CaptchaResponse: captchaResponse,
			RemoteIP:        testIP,
		})
		return err
	}

	for i := 0; i < 4; i++ {
		requireCode(t, attempt("wrong", ""), apperrors.CodeInvalidGrant)
	}
	// The attempt that fills the window already asks for a captcha.
	err := attempt("wrong", "")
	requireCode(t, err, apperrors.CodeMaxAttempts)
	require.True(t, apperrors.From(err).Captcha)

	// Even the right password is refused until the captcha is solved.
	requireCode(t, attempt(testUserPassword, ""), apperrors.CodeMaxAttempts)

	f.verifier.EXPECT().Verify(gomock.Any(), "solved", testIP).Return(captcha.Result{Success: true}, nil)
	require.NoError(t, attempt(testUserPassword, "solved"))
	require.NoError(t, attempt(testUserPassword, ""))
}

func TestAuthorizationCodeFlow(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	user := f.createUser(t, testUserEmail, testUserPassword)
	_, identity := f.login(t, testUserEmail, testUserPassword)

	req := authorizeRequest(codeRedirectURI, oauth2.CodeResponseType, oauth2.RegistrationFlow)
	described, err := f.service.Describe(ctx, req, identity)
	require.NoError(t, err)
	require.Equal(t, auth.StepAuthorizations, described.Step)
	require.Equal(t, testClientID, described.Client.ID)
	require.Equal(t, []scopes.Field{scopes.FieldEmail, scopes.FieldNickname}, described.FieldsToShow)
	granted, err := f.authorizations.ListByUserClient(ctx, user.ID, testClientID)
	require.NoError(t, err)
	require.Empty(t, granted, "describing never writes a grant")

	code := f.authorizeCode(t, identity, codeRedirectURI, url.Values{"nickname": {"jd"}})

	resp, err := f.exchangeCode(code, "")
	require.NoError(t, err)
	require.NotEmpty(t, resp.RefreshToken)
	require.NotEmpty(t, resp.UserID)
	require.NotEqual(t, user.ID, resp.UserID)
	require.Equal(t, string(consent.StatusRegistered), resp.UserStatus)

	fakeID, err := f.obfuscator.UserFakeID(ctx, user.ID, testClientID)
	require.NoError(t, err)
	require.Equal(t, fakeID, resp.UserID)

	clientIdentity, err := f.ledger.Lookup(ctx, resp.AccessToken)
	require.NoError(t, err)
	require.Equal(t, testClientID, clientIdentity.Token.LoggedByClient)

	stored, err := f.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, "jd", stored.Profile.Nickname)

	client, err := f.clients.Get(ctx, testClientID)
	require.NoError(t, err)
	require.Equal(t, int64(1), client.Counters.RegisteredUsers)
	require.Len(t, f.events.OfType(events.Registration), 1)
}

func TestCodeReplayRevokesAuthorization(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	f.createUser(t, testUserEmail, testUserPassword)
	_, identity := f.login(t, testUserEmail, testUserPassword)

	code := f.authorizeCode(t, identity, codeRedirectURI, url.Values{"nickname": {"jd"}})
	resp, err := f.exchangeCode(code, "")
	require.NoError(t, err)
	clientIdentity, err := f.ledger.Lookup(ctx, resp.AccessToken)
	require.NoError(t, err)

	_, err = f.exchangeCode(code, "")
	requireCode(t, err, apperrors.CodeInvalidGrant)

	_, err = f.ledger.Lookup(ctx, resp.AccessToken)
	require.Equal(t, apperrors.KindInvalidToken, apperrors.KindOf(err))
	_, err = f.authorizations.Get(ctx, clientIdentity.Authorization.ID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestExpiredCodeIsRejected(t *testing.T) {
	f := setupTestFixture(t)
	f.createUser(t, testUserEmail, testUserPassword)
	_, identity := f.login(t, testUserEmail, testUserPassword)

	code := f.authorizeCode(t, identity, codeRedirectURI, url.Values{"nickname": {"jd"}})
	f.now = f.now.Add(config.DefaultOAuth().CodeValidity)

	_, err := f.exchangeCode(code, "")
	requireCode(t, err, apperrors.CodeInvalidGrant)

	_, err = f.exchangeCode("unknown-code", "")
	requireCode(t, err, apperrors.CodeInvalidGrant)
}

func TestConcurrentCodeRedemptionSingleWinner(t *testing.T) {
	f := setupTestFixture(t)
	f.createUser(t, testUserEmail, testUserPassword)
	_, identity := f.login(t, testUserEmail, testUserPassword)
	code := f.authorizeCode(t, identity, codeRedirectURI, url.Values{"nickname": {"jd"}})

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.exchangeCode(code, ""); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, successes)
}

func TestCodeNeedsClientSecret(t *testing.T) {
	f := setupTestFixture(t)
	f.createUser(t, testUserEmail, testUserPassword)
	_, identity := f.login(t, testUserEmail, testUserPassword)
	code := f.authorizeCode(t, identity, secretRedirectURI, url.Values{"nickname": {"jd"}})

	_, err := f.exchangeCode(code, "")
	requireCode(t, err, apperrors.CodeInvalidClient)

	// The rejected attempt leaves the code usable.
	_, err = f.exchangeCode(code, testClientSecret)
	require.NoError(t, err)
}

func TestRefreshRotation(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	f.createUser(t, testUserEmail, testUserPassword)
	first, identity := f.login(t, testUserEmail, testUserPassword)

	refresh := func(clientID, secret, raw string) (*oauth2.TokenResponse, error) {
		return f.service.Token(ctx, auth.TokenRequest{
			GrantType:    oauth2.RefreshTokenCodeGrant,
			ClientID:     clientID,
			ClientSecret: secret,
			RefreshToken: raw,
			RemoteIP:     testIP,
		})
	}

	// A client cannot refresh a first-party session.
	_, err := refresh(testClientID, "", first.RefreshToken)
	requireCode(t, err, apperrors.CodeInvalidGrant)

	second, err := refresh(appClientID, appClientSecret, first.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	_, err = refresh(appClientID, appClientSecret, first.RefreshToken)
	requireCode(t, err, apperrors.CodeInvalidGrant)

	code := f.authorizeCode(t, identity, codeRedirectURI, url.Values{"nickname": {"jd"}})
	clientTokens, err := f.exchangeCode(code, "")
	require.NoError(t, err)

	_, err = refresh(otherClientID, "", clientTokens.RefreshToken)
	requireCode(t, err, apperrors.CodeInvalidGrant)
	_, err = refresh(appClientID, appClientSecret, clientTokens.RefreshToken)
	requireCode(t, err, apperrors.CodeInvalidGrant)

	rotated, err := refresh(testClientID, "", clientTokens.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, clientTokens.UserID, rotated.UserID)
	require.Len(t, f.events.OfType(events.Login), 1, "a client refresh is an implicit login")
}

func TestImplicitFlowUsesFragment(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	user := f.createUser(t, testUserEmail, testUserPassword)
	_, identity := f.login(t, testUserEmail, testUserPassword)

	req := authorizeRequest(tokenRedirectURI, oauth2.TokenResponseType, oauth2.RegistrationFlow)
	resp, err := f.service.Submit(ctx, req, identity, auth.Submission{})
	require.NoError(t, err)
	require.Equal(t, auth.StepRedirect, resp.Step)

	u, err := url.Parse(resp.RedirectTo)
	require.NoError(t, err)
	require.Empty(t, u.RawQuery, "tokens never travel in the query string")
	fragment, err := url.ParseQuery(u.EscapedFragment())
	require.NoError(t, err)

	fakeID, err := f.obfuscator.UserFakeID(ctx, user.ID, testClientID)
	require.NoError(t, err)
	require.NotEmpty(t, fragment.Get("access_token"))
	require.Equal(t, oauth2.TokenTypeBearer, fragment.Get("token_type"))
	require.Equal(t, "3600", fragment.Get("expires_in"))
	require.Equal(t, testState, fragment.Get("state"))
	require.Equal(t, fakeID, fragment.Get("user_id"))
	require.Equal(t, string(consent.StatusRegistered), fragment.Get("user_status"))

	clientIdentity, err := f.ledger.Lookup(ctx, fragment.Get("access_token"))
	require.NoError(t, err)
	require.Equal(t, testClientID, clientIdentity.Authorization.ClientID)
}

func TestLoginWithNothingNewRedirectsStraightAway(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	f.createUser(t, testUserEmail, testUserPassword)
	_, identity := f.login(t, testUserEmail, testUserPassword)
	f.authorizeCode(t, identity, codeRedirectURI, url.Values{"nickname": {"jd"}})

	resp, err := f.service.Describe(ctx, authorizeRequest(codeRedirectURI, oauth2.CodeResponseType, oauth2.LoginFlow), identity)
	require.NoError(t, err)
	require.Equal(t, auth.StepRedirect, resp.Step)
	codeFrom(t, resp.RedirectTo)
	require.Len(t, f.events.OfType(events.Login), 1)
	require.Len(t, f.events.OfType(events.Registration), 1)
}

func TestFlowMismatch(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	f.createUser(t, testUserEmail, testUserPassword)
	_, identity := f.login(t, testUserEmail, testUserPassword)

	resp, err := f.service.Describe(ctx, authorizeRequest(codeRedirectURI, oauth2.CodeResponseType, oauth2.LoginFlow), identity)
	require.NoError(t, err)
	require.Equal(t, auth.StepRedirectToRegistration, resp.Step)

	f.authorizeCode(t, identity, codeRedirectURI, url.Values{"nickname": {"jd"}})

	resp, err = f.service.Describe(ctx, authorizeRequest(codeRedirectURI, oauth2.CodeResponseType, oauth2.RegistrationFlow), identity)
	require.NoError(t, err)
	require.Equal(t, auth.StepRedirectToLogin, resp.Step)
}

func TestAnonymousDescribe(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	resp, err := f.service.Describe(ctx, authorizeRequest(codeRedirectURI, oauth2.CodeResponseType, oauth2.LoginFlow), nil)
	require.NoError(t, err)
	require.Equal(t, auth.StepChooseAccount, resp.Step)
	require.Nil(t, resp.Result)

	resp, err = f.service.Describe(ctx, authorizeRequest(codeRedirectURI, oauth2.CodeResponseType, oauth2.RegistrationFlow), nil)
	require.NoError(t, err)
	require.Equal(t, auth.StepAuthorizations, resp.Step)
	require.Equal(t, []scopes.Field{scopes.FieldEmail, scopes.FieldNickname}, resp.FieldsToShow)
}

func TestValidateAuthorizeRequestFailures(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	req := authorizeRequest("https://evil.example.com", oauth2.CodeResponseType, oauth2.LoginFlow)
	_, err := f.service.Describe(ctx, req, nil)
	requireCode(t, err, apperrors.CodeInvalidRequest)

	req = authorizeRequest(codeRedirectURI, oauth2.TokenResponseType, oauth2.LoginFlow)
	_, err = f.service.Describe(ctx, req, nil)
	requireCode(t, err, apperrors.CodeInvalidRequest)

	req = authorizeRequest(codeRedirectURI, oauth2.CodeResponseType, oauth2.LoginFlow)
	req.ClientID = "ghost"
	_, err = f.service.Describe(ctx, req, nil)
	requireCode(t, err, apperrors.CodeInvalidRequest)
}

func TestClientTokenCannotAuthorize(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	f.createUser(t, testUserEmail, testUserPassword)
	_, identity := f.login(t, testUserEmail, testUserPassword)
	code := f.authorizeCode(t, identity, codeRedirectURI, url.Values{"nickname": {"jd"}})
	resp, err := f.exchangeCode(code, "")
	require.NoError(t, err)
	clientIdentity, err := f.ledger.Lookup(ctx, resp.AccessToken)
	require.NoError(t, err)

	_, err = f.service.Describe(ctx, authorizeRequest(codeRedirectURI, oauth2.CodeResponseType, oauth2.LoginFlow), clientIdentity)
	require.Equal(t, apperrors.KindAccessDenied, apperrors.KindOf(err))
}

func TestAnonymousRegistrationThroughAuthorize(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	req := authorizeRequest(codeRedirectURI, oauth2.CodeResponseType, oauth2.RegistrationFlow)
	resp, err := f.service.Submit(ctx, req, nil, auth.Submission{
		Email:    "new.user@example.com",
		Password: testUserPassword,
		Values:   url.Values{"nickname": {"nu"}},
	})
	require.NoError(t, err)
	require.Equal(t, auth.StepRedirect, resp.Step)
	require.NotNil(t, resp.Token, "a new account leaves with a first-party session")

	user, err := f.users.GetByEmail(ctx, "new.user@example.com")
	require.NoError(t, err)
	require.Equal(t, user.ID, resp.Token.UserID)
	require.Len(t, f.events.OfType(events.Signup), 1)

	_, err = f.service.Submit(ctx, req, nil, auth.Submission{Email: "weak@example.com", Password: "short"})
	require.Equal(t, apperrors.KindInvalidRequest, apperrors.KindOf(err))
	require.Contains(t, apperrors.From(err).Fields, "password")
}

func TestSubmissionFailureRollsBack(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	req := authorizeRequest(addressRedirectURI, oauth2.CodeResponseType, oauth2.RegistrationFlow)
	_, err := f.service.Submit(ctx, req, nil, auth.Submission{
		Email:    "new.user@example.com",
		Password: testUserPassword,
		Values: url.Values{
			"nickname":      {"nu"},
			"address_line1": {"1 Main St"},
		},
	})
	require.Equal(t, apperrors.KindInvalidRequest, apperrors.KindOf(err))
	require.Contains(t, apperrors.From(err).Fields, "address")

	_, err = f.users.GetByEmail(ctx, "new.user@example.com")
	require.ErrorIs(t, err, apperrors.ErrNotFound, "the account created this round is rolled back")
}

func TestSubmissionFailureRestoresProfile(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	user := f.createUser(t, testUserEmail, testUserPassword)
	_, identity := f.login(t, testUserEmail, testUserPassword)

	req := authorizeRequest(addressRedirectURI, oauth2.CodeResponseType, oauth2.RegistrationFlow)
	_, err := f.service.Submit(ctx, req, identity, auth.Submission{Values: url.Values{"nickname": {"jd"}}})
	require.Equal(t, apperrors.KindInvalidRequest, apperrors.KindOf(err))

	stored, err := f.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.Empty(t, stored.Profile.Nickname)
	addresses, err := f.users.ListAddresses(ctx, user.ID)
	require.NoError(t, err)
	require.Empty(t, addresses)
}

func TestTestAccountDeniedOnceScopeGranted(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	f.createUser(t, testUserEmail, testUserPassword)
	_, identity := f.login(t, testUserEmail, testUserPassword)
	f.authorizeCode(t, identity, codeRedirectURI, url.Values{"nickname": {"jd"}})

	req := authorizeRequest(codeRedirectURI, oauth2.CodeResponseType, oauth2.LoginFlow)
	req.UseTestAccount = true
	_, err := f.service.Describe(ctx, req, identity)
	require.Equal(t, apperrors.KindAccessDenied, apperrors.KindOf(err))
}

func TestTestAccountConversionKeepsFakeIDs(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()

	// An anonymous visitor tries the client with a throwaway identity.
	req := authorizeRequest(codeRedirectURI, oauth2.CodeResponseType, oauth2.LoginFlow)
	req.UseTestAccount = true
	testResp, err := f.service.Describe(ctx, req, nil)
	require.NoError(t, err)
	require.Equal(t, auth.StepRedirect, testResp.Step)
	require.NotNil(t, testResp.Token)
	testUserID := testResp.Token.UserID

	testTokens, err := f.exchangeCode(codeFrom(t, testResp.RedirectTo), "")
	require.NoError(t, err)
	require.Equal(t, string(consent.StatusTestAccount), testTokens.UserStatus)
	require.Len(t, f.events.OfType(events.TestAccountRegistration), 1)

	// Later they register for real and bring the test identity along.
	user := f.createUser(t, testUserEmail, testUserPassword)
	_, identity := f.login(t, testUserEmail, testUserPassword)
	req = authorizeRequest(codeRedirectURI, oauth2.CodeResponseType, oauth2.RegistrationFlow)
	req.TestAccountToken = testResp.Token.AccessToken
	resp, err := f.service.Submit(ctx, req, identity, auth.Submission{Values: url.Values{"nickname": {"jd"}}})
	require.NoError(t, err)
	require.Equal(t, auth.StepRedirect, resp.Step)

	realTokens, err := f.exchangeCode(codeFrom(t, resp.RedirectTo), "")
	require.NoError(t, err)
	require.Equal(t, testTokens.UserID, realTokens.UserID, "the client keeps seeing the same user")
	require.Equal(t, string(consent.StatusRegistered), realTokens.UserStatus)

	_, err = f.users.GetByID(ctx, testUserID)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = f.ledger.Lookup(ctx, testResp.Token.AccessToken)
	require.Equal(t, apperrors.KindInvalidToken, apperrors.KindOf(err))

	ua, err := f.consents.Get(ctx, user.ID, testClientID)
	require.NoError(t, err)
	require.Equal(t, consent.StatusRegistered, ua.Status)

	client, err := f.clients.Get(ctx, testClientID)
	require.NoError(t, err)
	require.Equal(t, clients.Counters{RegisteredUsers: 1, TestAccountsRegistered: 1, TestAccountsConverted: 1}, client.Counters)
	require.Len(t, f.events.OfType(events.TestAccountConverted), 1)
}

// newTestAccount runs an anonymous round under a fresh test identity and
// returns its first-party session and the tokens the client received.
func (f *testFixture) newTestAccount(t *testing.T) (*oauth2.TokenResponse, *oauth2.TokenResponse) {
	t.Helper()

	req := authorizeRequest(codeRedirectURI, oauth2.CodeResponseType, oauth2.LoginFlow)
	req.UseTestAccount = true
	resp, err := f.service.Describe(context.Background(), req, nil)
	require.NoError(t, err)
	require.Equal(t, auth.StepRedirect, resp.Step)
	require.NotNil(t, resp.Token)
	clientTokens, err := f.exchangeCode(codeFrom(t, resp.RedirectTo), "")
	require.NoError(t, err)
	return resp.Token, clientTokens
}

func TestTestAccountNotBoundOverExistingRegistration(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	user := f.createUser(t, testUserEmail, testUserPassword)
	_, identity := f.login(t, testUserEmail, testUserPassword)
	code := f.authorizeCode(t, identity, addressRedirectURI, url.Values{
		"nickname":            {"jd"},
		"address_line1":       {"1 Main St"},
		"address_city":        {"Springfield"},
		"address_postal_code": {"12345"},
		"address_country":     {"US"},
	})
	realTokens, err := f.exchangeCode(code, "")
	require.NoError(t, err)
	before, err := f.consents.Get(ctx, user.ID, testClientID)
	require.NoError(t, err)

	session, _ := f.newTestAccount(t)

	req := authorizeRequest(codeRedirectURI, oauth2.CodeResponseType, oauth2.LoginFlow)
	req.TestAccountToken = session.AccessToken
	_, err = f.service.Submit(ctx, req, identity, auth.Submission{})
	requireCode(t, err, apperrors.CodeInvalidRequest)

	after, err := f.consents.Get(ctx, user.ID, testClientID)
	require.NoError(t, err)
	require.Equal(t, before, after, "the registration keeps its scope")
	fakeID, err := f.obfuscator.UserFakeID(ctx, user.ID, testClientID)
	require.NoError(t, err)
	require.Equal(t, realTokens.UserID, fakeID)

	_, err = f.ledger.Lookup(ctx, session.AccessToken)
	require.NoError(t, err, "the test identity is left alone")
	client, err := f.clients.Get(ctx, testClientID)
	require.NoError(t, err)
	require.Equal(t, clients.Counters{RegisteredUsers: 1, TestAccountsRegistered: 1}, client.Counters)
	require.Empty(t, f.events.OfType(events.TestAccountConverted))
}

func TestRegistrationPromotesTestAccount(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	session, testTokens := f.newTestAccount(t)

	req := authorizeRequest(codeRedirectURI, oauth2.CodeResponseType, oauth2.RegistrationFlow)
	req.TestAccountToken = session.AccessToken
	resp, err := f.service.Submit(ctx, req, nil, auth.Submission{
		Email:    "new.user@example.com",
		Password: testUserPassword,
		Values:   url.Values{"nickname": {"nu"}},
	})
	require.NoError(t, err)
	require.Equal(t, auth.StepRedirect, resp.Step)

	user, err := f.users.GetByEmail(ctx, "new.user@example.com")
	require.NoError(t, err)
	require.Equal(t, session.UserID, user.ID, "the test identity becomes the account")
	require.False(t, user.IsTestAccount)
	require.Equal(t, user.ID, resp.Token.UserID)

	realTokens, err := f.exchangeCode(codeFrom(t, resp.RedirectTo), "")
	require.NoError(t, err)
	require.Equal(t, testTokens.UserID, realTokens.UserID)
	require.Equal(t, string(consent.StatusRegistered), realTokens.UserStatus)

	_, err = f.ledger.Lookup(ctx, session.AccessToken)
	require.Equal(t, apperrors.KindInvalidToken, apperrors.KindOf(err))
	_, err = f.ledger.Lookup(ctx, resp.Token.AccessToken)
	require.NoError(t, err)

	client, err := f.clients.Get(ctx, testClientID)
	require.NoError(t, err)
	require.Equal(t, clients.Counters{RegisteredUsers: 1, TestAccountsRegistered: 1, TestAccountsConverted: 1}, client.Counters)
}

// failingLastLogin fails the last write of a round that starts a session.
type failingLastLogin struct {
	*fakeuserrepo.FakeUserRepo
}

func (failingLastLogin) SetLastLogin(context.Context, string, time.Time) error {
	return errors.New("disk full")
}

func TestFailedConversionKeepsTestAccount(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	session, _ := f.newTestAccount(t)
	before, err := f.consents.Get(ctx, session.UserID, testClientID)
	require.NoError(t, err)

	repos := f.repos
	repos.Users = failingLastLogin{f.users}
	service := f.newService(t, repos)

	req := authorizeRequest(codeRedirectURI, oauth2.CodeResponseType, oauth2.RegistrationFlow)
	req.TestAccountToken = session.AccessToken
	_, err = service.Submit(ctx, req, nil, auth.Submission{
		Email:    "new.user@example.com",
		Password: testUserPassword,
		Values:   url.Values{"nickname": {"nu"}},
	})
	require.Error(t, err)

	_, err = f.users.GetByEmail(ctx, "new.user@example.com")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	test, err := f.users.GetByID(ctx, session.UserID)
	require.NoError(t, err)
	require.True(t, test.IsTestAccount)
	require.Empty(t, test.Profile.Nickname)
	emails, err := f.users.ListEmails(ctx, session.UserID)
	require.NoError(t, err)
	require.Empty(t, emails)

	after, err := f.consents.Get(ctx, session.UserID, testClientID)
	require.NoError(t, err)
	require.Equal(t, before, after)
	grants, err := f.authorizations.ListByUserClient(ctx, session.UserID, testClientID)
	require.NoError(t, err)
	require.Len(t, grants, 1, "only the test round's grant is left")
	_, err = f.ledger.Lookup(ctx, session.AccessToken)
	require.NoError(t, err, "the test identity can still convert")

	client, err := f.clients.Get(ctx, testClientID)
	require.NoError(t, err)
	require.Equal(t, clients.Counters{TestAccountsRegistered: 1}, client.Counters)

	// Retrying on a healthy service converts it.
	_, err = f.service.Submit(ctx, req, nil, auth.Submission{
		Email:    "new.user@example.com",
		Password: testUserPassword,
		Values:   url.Values{"nickname": {"nu"}},
	})
	require.NoError(t, err)
	user, err := f.users.GetByEmail(ctx, "new.user@example.com")
	require.NoError(t, err)
	require.Equal(t, session.UserID, user.ID)
}

func TestFirstPartyRegistration(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	req := auth.AuthorizeRequest{Flow: oauth2.RegistrationFlow, RemoteIP: testIP}

	resp, err := f.service.Submit(ctx, req, nil, auth.Submission{Email: "New.User@example.com", Password: testUserPassword})
	require.NoError(t, err)
	require.Equal(t, auth.StepToken, resp.Step)
	require.NotEmpty(t, resp.Token.AccessToken)
	require.NotEmpty(t, resp.Token.RefreshToken)

	user, err := f.users.GetByEmail(ctx, "new.user@example.com")
	require.NoError(t, err)
	require.Equal(t, user.ID, resp.Token.UserID)

	_, err = f.service.Submit(ctx, req, nil, auth.Submission{Email: "new.user@example.com", Password: testUserPassword})
	require.Equal(t, "already registered", apperrors.From(err).Fields["email"])

	_, err = f.service.Submit(ctx, auth.AuthorizeRequest{Flow: oauth2.LoginFlow}, nil, auth.Submission{Email: "x@example.com", Password: "y"})
	requireCode(t, err, apperrors.CodeInvalidRequest)

	_, err = f.service.Describe(ctx, req, nil)
	requireCode(t, err, apperrors.CodeInvalidRequest)
}

func TestUserInfo(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	user := f.createUser(t, testUserEmail, testUserPassword)
	_, identity := f.login(t, testUserEmail, testUserPassword)

	code := f.authorizeCode(t, identity, codeRedirectURI, url.Values{"nickname": {"jd"}})
	resp, err := f.exchangeCode(code, "")
	require.NoError(t, err)
	clientIdentity, err := f.ledger.Lookup(ctx, resp.AccessToken)
	require.NoError(t, err)

	info, err := f.service.UserInfo(ctx, clientIdentity)
	require.NoError(t, err)
	require.Equal(t, resp.UserID, info.ID)
	require.Equal(t, "jd", info.Profile[scopes.FieldNickname])
	require.Len(t, info.Emails, 1)
	require.Equal(t, testUserEmail, info.Emails[0].Address)

	emails, err := f.users.ListEmails(ctx, user.ID)
	require.NoError(t, err)
	require.NotEqual(t, emails[0].ID, info.Emails[0].ID, "clients only see fake ids")

	// The first-party app sees real ids.
	_, otherIdentity := f.login(t, testUserEmail, testUserPassword)
	own, err := f.service.UserInfo(ctx, otherIdentity)
	require.NoError(t, err)
	require.Equal(t, user.ID, own.ID)
	require.Equal(t, emails[0].ID, own.Emails[0].ID)
}

func TestExists(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	f.createUser(t, testUserEmail, testUserPassword)

	exists, err := f.service.Exists(ctx, "John.Doe@example.com", "", testIP)
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = f.service.Exists(ctx, "nobody@example.com", "", testIP)
	require.NoError(t, err)
	require.False(t, exists)

	for i := 2; i < config.DefaultRateLimits().ExistenceCheck.MaxAttempts; i++ {
		_, err = f.service.Exists(ctx, "nobody@example.com", "", testIP)
		require.NoError(t, err)
	}
	_, err = f.service.Exists(ctx, "nobody@example.com", "", testIP)
	requireCode(t, err, apperrors.CodeMaxAttempts)
}
