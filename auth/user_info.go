package auth

import (
	"context"

	"github.com/jrsteele09/go-idp-server/authorization"
	"github.com/jrsteele09/go-idp-server/events"
	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/jrsteele09/go-idp-server/scopes"
	"github.com/jrsteele09/go-idp-server/token"
	"github.com/jrsteele09/go-idp-server/users"
	"github.com/pkg/errors"
)

// UserInfo is the protected resource behind /api/user.
type UserInfo struct {
	ID           string                  `json:"id"`
	Status       string                  `json:"status,omitempty"`
	Profile      map[scopes.Field]string `json:"profile,omitempty"`
	Emails       []users.Email           `json:"emails,omitempty"`
	PhoneNumbers []users.PhoneNumber     `json:"phone_numbers,omitempty"`
	Addresses    []users.Address         `json:"addresses,omitempty"`
	// AddressUses maps an address id to the purpose chosen at authorization.
	AddressUses map[string]authorization.AddressUse `json:"address_uses,omitempty"`
}

// Exists reports whether an account uses email. Each check counts against
// the caller's IP.
func (as *AuthorizationService) Exists(ctx context.Context, email, captchaResponse, remoteIP string) (bool, error) {
	key := events.IPKey(remoteIP)
	if err := as.limiter.Guard(ctx, events.ExistenceCheck, key, captchaResponse, remoteIP); err != nil {
		return false, err
	}
	if err := as.limiter.Hit(ctx, events.ExistenceCheck, key); err != nil {
		return false, err
	}
	_, err := as.repos.Users.GetByEmail(ctx, users.NormalizeEmail(email))
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "[Exists] loading user")
	}
	return true, nil
}

// UserInfo returns what identity may see of its user. The first-party app
// sees everything with real ids. A client sees only its granted categories,
// only the entities consented to it, and only fake ids.
func (as *AuthorizationService) UserInfo(ctx context.Context, identity *token.Identity) (*UserInfo, error) {
	if identity == nil {
		return nil, apperrors.InvalidToken()
	}
	if identity.User == nil {
		return nil, apperrors.AccessDenied(msgNoUser)
	}
	user, authz := identity.User, identity.Authorization

	emails, err := as.repos.Users.ListEmails(ctx, user.ID)
	if err != nil {
		return nil, errors.Wrap(err, "[UserInfo] listing emails")
	}
	phones, err := as.repos.Users.ListPhoneNumbers(ctx, user.ID)
	if err != nil {
		return nil, errors.Wrap(err, "[UserInfo] listing phone numbers")
	}
	addresses, err := as.repos.Users.ListAddresses(ctx, user.ID)
	if err != nil {
		return nil, errors.Wrap(err, "[UserInfo] listing addresses")
	}

	if authz.IsFirstParty() {
		info := &UserInfo{ID: user.ID, Emails: emails, PhoneNumbers: phones, Addresses: addresses, Profile: map[scopes.Field]string{}}
		for _, f := range scopes.SingleValuedFields {
			if v := user.Profile.Field(f); v != "" {
				info.Profile[f] = v
			}
		}
		return info, nil
	}
	return as.clientUserInfo(ctx, user, authz, emails, phones, addresses)
}

func (as *AuthorizationService) clientUserInfo(ctx context.Context, user *users.User, authz *authorization.Authorization, emails []users.Email, phones []users.PhoneNumber, addresses []users.Address) (*UserInfo, error) {
	ua, err := as.getConsent(ctx, user.ID, authz.ClientID)
	if err != nil {
		return nil, err
	}
	consented := map[string]bool{}
	if ua != nil {
		for realID := range ua.Entities.ByRealID() {
			consented[realID] = true
		}
	}

	realIDs := []string{user.ID}
	for _, e := range emails {
		realIDs = append(realIDs, e.ID)
	}
	for _, p := range phones {
		realIDs = append(realIDs, p.ID)
	}
	for _, a := range addresses {
		realIDs = append(realIDs, a.ID)
	}
	fake, err := as.obfuscator.FakeIDs(ctx, user.ID, authz.ClientID, realIDs...)
	if err != nil {
		return nil, err
	}
	// visible hides entities that were never consented or never got a fake id.
	visible := func(realID string) (string, bool) {
		id, ok := fake[realID]
		return id, ok && consented[realID]
	}

	info := &UserInfo{ID: fake[user.ID], Profile: map[scopes.Field]string{}}
	if ua != nil {
		info.Status = string(ua.Status)
	}
	for _, f := range scopes.SingleValuedFields {
		if !authz.Scope.Contains(scopes.ScopeOf(f)) {
			continue
		}
		if v := user.Profile.Field(f); v != "" {
			info.Profile[f] = v
		}
	}
	if authz.Scope.Contains(scopes.Emails) {
		for _, e := range emails {
			if id, ok := visible(e.ID); ok {
				e.ID = id
				info.Emails = append(info.Emails, e)
			}
		}
	}
	if authz.Scope.Contains(scopes.PhoneNumbers) {
		for _, p := range phones {
			if id, ok := visible(p.ID); ok {
				p.ID = id
				info.PhoneNumbers = append(info.PhoneNumbers, p)
			}
		}
	}
	if authz.Scope.Contains(scopes.Addresses) {
		for _, a := range addresses {
			if id, ok := visible(a.ID); ok {
				a.ID = id
				info.Addresses = append(info.Addresses, a)
			}
		}
		for _, hint := range authz.Addresses {
			if id, ok := visible(hint.AddressID); ok {
				if info.AddressUses == nil {
					info.AddressUses = map[string]authorization.AddressUse{}
				}
				info.AddressUses[id] = hint.Use
			}
		}
	}
	return info, nil
}
