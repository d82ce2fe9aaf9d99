package consent

import (
	"context"

	"github.com/jrsteele09/go-idp-server/clients"
	"github.com/jrsteele09/go-idp-server/scopes"
	"github.com/jrsteele09/go-idp-server/users"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ExistingValue is the data a user merely confirms for a field.
type ExistingValue struct {
	Value        string              `json:"value,omitempty"`
	Emails       []users.Email       `json:"emails,omitempty"`
	PhoneNumbers []users.PhoneNumber `json:"phoneNumbers,omitempty"`
	Addresses    []users.Address     `json:"addresses,omitempty"`
}

// Result is the delta between what a client asks for and what the user already granted.
type Result struct {
	// Remaining are the scopes this round must settle.
	Remaining scopes.Set[scopes.Scope] `json:"-"`
	// Flags are the scope flags the remaining fields were expanded with.
	Flags scopes.Set[scopes.Flag] `json:"-"`

	FieldsToShow                     []scopes.Field                 `json:"fieldsToShow"`
	FieldsToAuthorize                map[scopes.Field]ExistingValue `json:"fieldsToAuthorize"`
	AuthorizeOrder                   []scopes.Field                 `json:"fieldsToAuthorizeOrder"`
	HasAdditionalFieldsBeyondConsent bool                           `json:"hasAdditionalFieldsBeyondConsent"`
}

// Empty signals that the interactive step can be skipped.
func (r Result) Empty() bool {
	return len(r.FieldsToShow) == 0 && len(r.FieldsToAuthorize) == 0
}

// Fields returns every field of the round, shown first.
func (r Result) Fields() []scopes.Field {
	return append(append([]scopes.Field{}, r.FieldsToShow...), r.AuthorizeOrder...)
}

type Reconciler struct {
	profiles users.ProfileStore
}

func NewReconciler(profiles users.ProfileStore) (*Reconciler, error) {
	if profiles == nil {
		return nil, errors.New("[NewReconciler] profile store is required")
	}
	return &Reconciler{profiles: profiles}, nil
}

func remainingScope(asked *clients.RedirectionURI, previous *UserAuthorization) (scopes.Set[scopes.Scope], scopes.Set[scopes.Flag]) {
	var authorized scopes.Set[scopes.Scope]
	var authorizedFlags scopes.Set[scopes.Flag]
	if previous != nil {
		authorized = previous.Scope
		authorizedFlags = previous.ScopeFlags
	}

	remaining := asked.Scope.Difference(authorized)
	flags := asked.ScopeFlags

	if asked.Scope.Contains(scopes.PhoneNumbers) && authorized.Contains(scopes.PhoneNumbers) {
		askedPhoneFlags := scopes.PhoneTypeFlags(asked.ScopeFlags)
		if !askedPhoneFlags.Difference(authorizedFlags).Empty() {
			remaining = remaining.Add(scopes.PhoneNumbers)
			for _, f := range askedPhoneFlags.Intersect(authorizedFlags) {
				flags = flags.Remove(f)
			}
		}
	}

	if asked.ScopeFlags.Contains(scopes.SeparateShippingBillingAddress) && authorized.Contains(scopes.Addresses) {
		remaining = remaining.Add(scopes.Addresses)
	}
	return remaining, flags
}

type existing struct {
	emails    []users.Email
	phones    []users.PhoneNumber
	addresses []users.Address
}

func (rc *Reconciler) load(ctx context.Context, userID string, remaining scopes.Set[scopes.Scope]) (existing, error) {
	var ex existing
	g, gctx := errgroup.WithContext(ctx)
	if remaining.Contains(scopes.Emails) {
		g.Go(func() error {
			var err error
			ex.emails, err = rc.profiles.ListEmails(gctx, userID)
			return errors.Wrap(err, "[Reconcile] listing emails")
		})
	}
	if remaining.Contains(scopes.PhoneNumbers) {
		g.Go(func() error {
			var err error
			ex.phones, err = rc.profiles.ListPhoneNumbers(gctx, userID)
			return errors.Wrap(err, "[Reconcile] listing phone numbers")
		})
	}
	if remaining.Contains(scopes.Addresses) {
		g.Go(func() error {
			var err error
			ex.addresses, err = rc.profiles.ListAddresses(gctx, userID)
			return errors.Wrap(err, "[Reconcile] listing addresses")
		})
	}
	return ex, g.Wait()
}

// phonesOfType keeps the numbers of the wanted type and those of unknown type.
func phonesOfType(phones []users.PhoneNumber, want users.PhoneType) []users.PhoneNumber {
	var out []users.PhoneNumber
	for _, p := range phones {
		if p.Type == want || p.Type == users.PhoneTypeUnknown {
			out = append(out, p)
		}
	}
	return out
}

func (ex existing) valueFor(f scopes.Field, user *users.User) (ExistingValue, bool) {
	switch f {
	case scopes.FieldEmail:
		return ExistingValue{Emails: ex.emails}, len(ex.emails) > 0
	case scopes.FieldPhoneNumber:
		return ExistingValue{PhoneNumbers: ex.phones}, len(ex.phones) > 0
	case scopes.FieldMobilePhoneNumber:
		phones := phonesOfType(ex.phones, users.PhoneTypeMobile)
		return ExistingValue{PhoneNumbers: phones}, len(phones) > 0
	case scopes.FieldLandlinePhoneNumber:
		phones := phonesOfType(ex.phones, users.PhoneTypeLandline)
		return ExistingValue{PhoneNumbers: phones}, len(phones) > 0
	case scopes.FieldAddress, scopes.FieldShippingAddress, scopes.FieldBillingAddress:
		return ExistingValue{Addresses: ex.addresses}, len(ex.addresses) > 0
	}
	if user == nil {
		return ExistingValue{}, false
	}
	value := user.Profile.Field(f)
	return ExistingValue{Value: value}, value != ""
}

// Reconcile computes what the user must fill in and what they only confirm for
// the scope asked by redirect. user may be nil for a user who does not exist yet.
func (rc *Reconciler) Reconcile(ctx context.Context, redirect *clients.RedirectionURI, previous *UserAuthorization, user *users.User) (Result, error) {
	remaining, flags := remainingScope(redirect, previous)

	result := Result{
		Remaining:         remaining,
		Flags:             flags,
		FieldsToAuthorize: map[scopes.Field]ExistingValue{},
	}
	if previous == nil {
		result.HasAdditionalFieldsBeyondConsent = !remaining.Empty()
	} else {
		result.HasAdditionalFieldsBeyondConsent = !redirect.Scope.Difference(previous.Scope).Empty()
	}
	if remaining.Empty() {
		return result, nil
	}

	var ex existing
	if user != nil {
		var err error
		if ex, err = rc.load(ctx, user.ID, remaining); err != nil {
			return Result{}, err
		}
	}

	for _, scope := range remaining {
		for _, f := range scopes.FieldsFor(scope, flags) {
			if value, ok := ex.valueFor(f, user); ok {
				result.FieldsToAuthorize[f] = value
			} else {
				result.FieldsToShow = append(result.FieldsToShow, f)
			}
		}
	}

	foldProfilePhoto(&result)

	scopes.SortFields(result.FieldsToShow)
	for f := range result.FieldsToAuthorize {
		result.AuthorizeOrder = append(result.AuthorizeOrder, f)
	}
	scopes.SortFields(result.AuthorizeOrder)
	return result, nil
}

// foldProfilePhoto avoids a separate step for the optional photo: a photo left
// alone on one side joins the other side.
func foldProfilePhoto(r *Result) {
	if len(r.FieldsToShow) == 1 && r.FieldsToShow[0] == scopes.FieldProfilePhoto && len(r.FieldsToAuthorize) > 0 {
		r.FieldsToShow = nil
		r.FieldsToAuthorize[scopes.FieldProfilePhoto] = ExistingValue{}
		return
	}
	if _, ok := r.FieldsToAuthorize[scopes.FieldProfilePhoto]; ok && len(r.FieldsToAuthorize) == 1 && len(r.FieldsToShow) > 0 {
		delete(r.FieldsToAuthorize, scopes.FieldProfilePhoto)
		r.FieldsToShow = append(r.FieldsToShow, scopes.FieldProfilePhoto)
	}
}
