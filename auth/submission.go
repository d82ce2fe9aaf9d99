package auth

import (
	"context"
	"slices"
	"time"

	"github.com/jrsteele09/go-idp-server/authorization"
	"github.com/jrsteele09/go-idp-server/consent"
	"github.com/jrsteele09/go-idp-server/entityid"
	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/jrsteele09/go-idp-server/scopes"
	"github.com/jrsteele09/go-idp-server/users"
	"github.com/pkg/errors"
)

// fieldError is a validation failure of one submitted field.
type fieldError struct {
	reason string
}

func (e fieldError) Error() string {
	return e.reason
}

// written is what storing one field produced.
type written struct {
	realID string
	hint   *authorization.AddressHint
}

// applySubmission stores every field to show and confirms every field to
// authorize. Failures are collected over the whole submission; the caller
// rolls back through sg when any field failed.
func (as *AuthorizationService) applySubmission(ctx context.Context, st flowState, sub Submission, sg *saga) (flowState, error) {
	fe := apperrors.FieldErrors{}
	now := as.nowTime()
	user := *st.user
	entities := entityid.Entities{}
	entities.Merge(st.entities)
	hints := slices.Clone(st.addresses)

	collect := func(f scopes.Field, w written) {
		if kind, ok := entityid.KindForField(f); ok && w.realID != "" {
			entities.Add(kind, w.realID)
		}
		if w.hint != nil {
			hints = append(hints, *w.hint)
		}
	}

	for _, f := range st.consent.FieldsToShow {
		w, err := as.writeField(ctx, &user, sub, f, sg, now)
		if err != nil {
			if !addFieldError(fe, f, err) {
				return st, err
			}
			continue
		}
		collect(f, w)
	}

	for _, f := range st.consent.AuthorizeOrder {
		ids, err := confirmExisting(f, st.consent.FieldsToAuthorize[f], sub)
		if err != nil {
			addFieldError(fe, f, err)
			continue
		}
		for _, id := range ids {
			collect(f, written{realID: id, hint: addressHint(f, id)})
		}
	}

	if err := fe.Err(); err != nil {
		return st, err
	}
	st.user = &user
	st.entities = entities
	st.addresses = hints
	return st, nil
}

// addFieldError records a validation failure and reports whether err was one.
func addFieldError(fe apperrors.FieldErrors, f scopes.Field, err error) bool {
	var fErr fieldError
	if errors.As(err, &fErr) {
		fe.Add(string(f), fErr.reason)
		return true
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) && appErr.Kind == apperrors.KindInvalidRequest && len(appErr.Fields) > 0 {
		for name, reason := range appErr.Fields {
			fe.Add(name, reason)
		}
		return true
	}
	return false
}

func phoneTypeFor(f scopes.Field) users.PhoneType {
	switch f {
	case scopes.FieldMobilePhoneNumber:
		return users.PhoneTypeMobile
	case scopes.FieldLandlinePhoneNumber:
		return users.PhoneTypeLandline
	}
	return users.PhoneTypeUnknown
}

func addressHint(f scopes.Field, addressID string) *authorization.AddressHint {
	switch f {
	case scopes.FieldShippingAddress:
		return &authorization.AddressHint{AddressID: addressID, Use: authorization.AddressShipping}
	case scopes.FieldBillingAddress:
		return &authorization.AddressHint{AddressID: addressID, Use: authorization.AddressBilling}
	}
	return nil
}

// writeField validates and stores one field, queueing its inverse on sg.
func (as *AuthorizationService) writeField(ctx context.Context, user *users.User, sub Submission, f scopes.Field, sg *saga, now time.Time) (written, error) {
	switch {
	case f.IsSingleValued():
		value := sub.value(f)
		if f == scopes.FieldDateOfBirth {
			date, err := users.DateOfBirth(sub.part(f, "year"), sub.part(f, "month"), sub.part(f, "day"), now)
			if err != nil {
				return written{}, fieldError{err.Error()}
			}
			value = date
		}
		if f == scopes.FieldProfilePhoto && value == "" {
			return written{}, nil
		}
		if err := users.ValidateField(f, value); err != nil {
			return written{}, fieldError{err.Error()}
		}
		previous, err := as.repos.Users.SetField(ctx, user.ID, f, value)
		if err != nil {
			return written{}, errors.Wrapf(err, "[writeField] storing %s", f)
		}
		sg.record(compensation{kind: compensateRestoreField, userID: user.ID, field: f, previous: previous})
		_, _ = user.Profile.SetField(f, value)
		return written{}, nil

	case f == scopes.FieldEmail:
		address := sub.value(f)
		if address == "" {
			address = user.Email
		}
		address = users.NormalizeEmail(address)
		if err := users.ValidateEmail(address); err != nil {
			return written{}, fieldError{err.Error()}
		}
		email, err := as.repos.Users.AddEmail(ctx, user.ID, address)
		if err != nil {
			return written{}, errors.Wrap(err, "[writeField] adding email")
		}
		sg.record(compensation{kind: compensateDeleteEmail, userID: user.ID, id: email.ID})
		return written{realID: email.ID}, nil

	case f.IsPhone():
		number := sub.value(f)
		if err := users.ValidatePhoneNumber(number); err != nil {
			return written{}, fieldError{err.Error()}
		}
		phone, err := as.repos.Users.AddPhoneNumber(ctx, user.ID, number, phoneTypeFor(f))
		if err != nil {
			return written{}, errors.Wrap(err, "[writeField] adding phone number")
		}
		sg.record(compensation{kind: compensateDeletePhoneNumber, userID: user.ID, id: phone.ID})
		return written{realID: phone.ID}, nil

	case f.IsAddress():
		a := sub.address(f)
		if err := users.ValidateAddress(a); err != nil {
			return written{}, fieldError{err.Error()}
		}
		address, err := as.repos.Users.AddAddress(ctx, user.ID, a)
		if err != nil {
			return written{}, errors.Wrap(err, "[writeField] adding address")
		}
		sg.record(compensation{kind: compensateDeleteAddress, userID: user.ID, id: address.ID})
		return written{realID: address.ID, hint: addressHint(f, address.ID)}, nil
	}
	return written{}, fieldError{"unsupported field"}
}

// confirmExisting returns the sub-resource ids confirmed for an authorized
// field. Without a selection every entry is confirmed, except shipping and
// billing which take the first address.
func confirmExisting(f scopes.Field, existing consent.ExistingValue, sub Submission) ([]string, error) {
	var candidates []string
	switch {
	case f == scopes.FieldEmail:
		for _, e := range existing.Emails {
			candidates = append(candidates, e.ID)
		}
	case f.IsPhone():
		for _, p := range existing.PhoneNumbers {
			candidates = append(candidates, p.ID)
		}
	case f.IsAddress():
		for _, a := range existing.Addresses {
			candidates = append(candidates, a.ID)
		}
	default:
		return nil, nil
	}

	single := f == scopes.FieldShippingAddress || f == scopes.FieldBillingAddress
	chosen := sub.selected(f)
	if len(chosen) == 0 {
		if single && len(candidates) > 0 {
			return candidates[:1], nil
		}
		return candidates, nil
	}
	if single && len(chosen) > 1 {
		return nil, fieldError{"select one address"}
	}
	for _, id := range chosen {
		if !slices.Contains(candidates, id) {
			return nil, fieldError{"unknown selection"}
		}
	}
	return chosen, nil
}
