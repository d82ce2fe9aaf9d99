package auth

import (
	"context"

	"github.com/jrsteele09/go-idp-server/authorization"
	"github.com/jrsteele09/go-idp-server/clients"
	"github.com/jrsteele09/go-idp-server/consent"
	"github.com/jrsteele09/go-idp-server/entityid"
	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/jrsteele09/go-idp-server/oauth2"
	"github.com/jrsteele09/go-idp-server/token"
	"github.com/jrsteele09/go-idp-server/users"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Step tells the user agent what to do next.
type Step string

const (
	StepChooseAccount          Step = "choose_account"
	StepAuthorizations         Step = "authorizations"
	StepRedirect               Step = "redirect"
	StepRedirectToLogin        Step = "redirect_to_login_flow"
	StepRedirectToRegistration Step = "redirect_to_registration_flow"
	StepToken                  Step = "token"
)

// ClientView is what the user agent may show about a client.
type ClientView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AuthorizeResponse is the body of both authorize surfaces.
type AuthorizeResponse struct {
	Step   Step        `json:"step"`
	Flow   oauth2.Flow `json:"flow,omitempty"`
	Client *ClientView `json:"client,omitempty"`
	User   *users.User `json:"user,omitempty"`
	*consent.Result
	RedirectTo string `json:"redirectTo,omitempty"`
	// Token is a first-party session issued during this round: a login done as
	// a side effect, a new registration or a new test account.
	Token *oauth2.TokenResponse `json:"token,omitempty"`
}

// flowState is the request-scoped state of one authorize round. Every stage
// takes it by value and returns the updated copy.
type flowState struct {
	req      AuthorizeRequest
	flow     oauth2.Flow
	client   *clients.Client
	redirect *clients.RedirectionURI

	user     *users.User                // the authorizing user, nil while anonymous
	newUser  *users.User                // a registration not stored yet
	previous *consent.UserAuthorization // prior consent of user for client
	consent  consent.Result

	testMode       bool        // authorizing with a test identity
	testAccount    *users.User // test identity named by test_account_token
	testSessions   []string    // its first-party sessions, revoked once bound
	wasTestAccount bool        // previous consent was a test account's
	created        bool        // user was stored this round

	session   *oauth2.TokenResponse
	entities  entityid.Entities
	addresses []authorization.AddressHint

	authz   *authorization.Authorization
	granted *consent.UserAuthorization // consent after this round's grant
	rawCode string
	issued  *token.Issued
}

// Describe handles GET /oauth/authorize. It only writes when nothing is left
// to ask and the pipeline runs straight through.
func (as *AuthorizationService) Describe(ctx context.Context, req AuthorizeRequest, identity *token.Identity) (*AuthorizeResponse, error) {
	return as.authorize(ctx, req, identity, nil)
}

// Submit handles POST /oauth/authorize.
func (as *AuthorizationService) Submit(ctx context.Context, req AuthorizeRequest, identity *token.Identity, sub Submission) (*AuthorizeResponse, error) {
	return as.authorize(ctx, req, identity, &sub)
}

func (as *AuthorizationService) authorize(ctx context.Context, req AuthorizeRequest, identity *token.Identity, sub *Submission) (resp *AuthorizeResponse, err error) {
	ctx, span := as.tracer.Start(ctx, "auth.Authorize", trace.WithAttributes(
		attribute.String("client_id", req.ClientID),
		attribute.String("flow", string(req.flow())),
		attribute.Bool("submit", sub != nil),
	))
	defer func() { endSpan(span, err) }()

	st := flowState{req: req, flow: req.flow(), entities: entityid.Entities{}}
	sg := newSaga(as.repos.Users, as.repos.Consents, as.ledger)

	if req.ClientID == "" {
		return as.firstPartyRegistration(ctx, st, sub, sg)
	}

	if st, err = as.validateClient(ctx, st); err != nil {
		return nil, err
	}
	if st, err = as.resolveSession(st, identity); err != nil {
		return nil, err
	}
	if sub != nil && st.user == nil && !req.UseTestAccount && sub.hasCredentials() {
		if st, err = as.resolveCredentials(ctx, st, *sub); err != nil {
			return nil, err
		}
	}
	if st, err = as.checkTestAccountEligibility(ctx, st); err != nil {
		return nil, err
	}
	if st.user == nil && st.newUser == nil && !st.testMode {
		return as.anonymous(ctx, st, sub)
	}
	if st, err = as.reconcile(ctx, st); err != nil {
		return nil, err
	}
	if resp := detectFlowMismatch(st); resp != nil {
		return resp, nil
	}
	if st, err = as.prepareTestAccount(ctx, st); err != nil {
		return nil, err
	}
	if !st.consent.Empty() && sub == nil {
		return describe(st, StepAuthorizations), nil
	}

	// Binding to an existing user completes before the round's own writes.
	if st, err = as.bindTestAccount(ctx, st); err != nil {
		return nil, err
	}

	// Writes start here and are undone on any later failure.
	if st, err = as.createIdentity(ctx, st, sg); err != nil {
		return nil, sg.fail(ctx, err)
	}
	if !st.consent.Empty() {
		if st, err = as.applySubmission(ctx, st, *sub, sg); err != nil {
			return nil, sg.fail(ctx, err)
		}
	}
	if st, err = as.finalize(ctx, st, sg); err != nil {
		return nil, sg.fail(ctx, err)
	}

	// Nothing below is rolled back.
	if err = as.commit(ctx, st); err != nil {
		return nil, err
	}
	return as.buildResponse(ctx, st)
}

func (as *AuthorizationService) validateClient(ctx context.Context, st flowState) (flowState, error) {
	client, err := as.repos.Clients.Get(ctx, st.req.ClientID)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return st, apperrors.InvalidRequest(msgUnknownClient)
	}
	if err != nil {
		return st, errors.Wrap(err, "[validateClient] loading client")
	}
	redirect, err := NewValidator().ValidateAuthorizeRequest(st.req, client)
	if err != nil {
		return st, err
	}
	st.client = client
	st.redirect = redirect
	return st, nil
}

// resolveSession takes the authorizing user from a first-party session token.
func (as *AuthorizationService) resolveSession(st flowState, identity *token.Identity) (flowState, error) {
	if identity == nil {
		return st, nil
	}
	if !identity.Authorization.IsFirstParty() || identity.User == nil {
		return st, apperrors.AccessDenied(msgClientToken)
	}
	st.user = identity.User
	return st, nil
}

// resolveCredentials logs an anonymous user in, or prepares their registration.
// Registering with an existing account's email and password logs in instead.
func (as *AuthorizationService) resolveCredentials(ctx context.Context, st flowState, sub Submission) (flowState, error) {
	email := users.NormalizeEmail(sub.Email)
	if email == "" || sub.Password == "" {
		fe := apperrors.FieldErrors{}
		if email == "" {
			fe.Add("email", "required")
		}
		if sub.Password == "" {
			fe.Add("password", "required")
		}
		return st, fe.Err()
	}

	if st.flow == oauth2.RegistrationFlow {
		existing, err := as.repos.Users.GetByEmail(ctx, email)
		if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
			return st, errors.Wrap(err, "[resolveCredentials] loading user")
		}
		if existing == nil {
			return as.prepareRegistration(ctx, st, email, sub.Password)
		}
	}

	user, err := as.checkCredentials(ctx, email, sub.Password, st.req.CaptchaResponse, st.req.RemoteIP)
	if apperrors.HasCode(err, apperrors.CodeInvalidGrant) {
		if st.flow == oauth2.RegistrationFlow {
			return st, apperrors.InvalidFields(map[string]string{"email": "already registered"})
		}
		return st, apperrors.InvalidFields(map[string]string{"password": "incorrect email or password"})
	}
	if err != nil {
		return st, err
	}
	session, err := as.firstPartySession(ctx, user, token.Attribution{LoggedByClient: st.client.ID, LoggedWithEmail: email}, nil)
	if err != nil {
		return st, err
	}
	st.user = user
	st.session = session
	return st, nil
}

// anonymous answers a round that has no user yet.
func (as *AuthorizationService) anonymous(ctx context.Context, st flowState, sub *Submission) (*AuthorizeResponse, error) {
	if st.flow != oauth2.RegistrationFlow {
		return describe(st, StepChooseAccount), nil
	}
	if sub != nil {
		return nil, apperrors.InvalidFields(map[string]string{"email": "required", "password": "required"})
	}
	st, err := as.reconcile(ctx, st)
	if err != nil {
		return nil, err
	}
	return describe(st, StepAuthorizations), nil
}

func (as *AuthorizationService) reconcile(ctx context.Context, st flowState) (flowState, error) {
	if st.testMode {
		// A test identity is never asked for data.
		st.consent = consent.Result{}
		return st, nil
	}
	result, err := as.reconciler.Reconcile(ctx, st.redirect, st.previous, st.user)
	if err != nil {
		return st, err
	}
	st.consent = result
	return st, nil
}

// detectFlowMismatch sends a registered user away from the registration flow,
// and a user never registered with the client away from the login flow.
func detectFlowMismatch(st flowState) *AuthorizeResponse {
	if st.testMode || st.user == nil {
		return nil
	}
	switch {
	case st.flow == oauth2.RegistrationFlow && st.previous.IsRegistered():
		return describe(st, StepRedirectToLogin)
	case st.flow == oauth2.LoginFlow && !st.previous.IsRegistered():
		return describe(st, StepRedirectToRegistration)
	}
	return nil
}

func describe(st flowState, step Step) *AuthorizeResponse {
	resp := &AuthorizeResponse{
		Step:  step,
		Flow:  st.flow,
		User:  st.user,
		Token: st.session,
	}
	if st.client != nil {
		resp.Client = &ClientView{ID: st.client.ID, Name: st.client.Name}
	}
	if step != StepChooseAccount {
		result := st.consent
		resp.Result = &result
	}
	return resp
}
