package authorization

import (
	"errors"
	"time"

	"github.com/jrsteele09/go-idp-server/scopes"
)

type Type string

const (
	TypeAuthorizationCode Type = "authorization_code"
	TypeToken             Type = "token"
	TypePassword          Type = "password"
	TypeClientCredentials Type = "client_credentials"
)

// ErrCodeUnusable is returned by RedeemCode when the code exists but another
// redemption won, or it is already used or expired.
var ErrCodeUnusable = errors.New("authorization code is used or expired")

// Code is the one-time authorization code. IsUsed only ever moves from false to true.
type Code struct {
	Hash      string    `json:"-"`
	IsUsed    bool      `json:"isUsed"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Usable reports whether the code can still be redeemed at now.
func (c *Code) Usable(now time.Time) bool {
	return c != nil && !c.IsUsed && now.Before(c.ExpiresAt)
}

type AddressUse string

const (
	AddressShipping AddressUse = "shipping"
	AddressBilling  AddressUse = "billing"
)

// AddressHint records which address the user picked for a purpose during this grant.
type AddressHint struct {
	AddressID string     `json:"addressId"`
	Use       AddressUse `json:"use"`
}

// Authorization is one consent grant; codes and tokens are issued against it.
type Authorization struct {
	ID                string                   `json:"id"`
	ClientID          string                   `json:"clientId,omitempty"` // empty for the first-party app
	UserID            string                   `json:"userId,omitempty"`   // empty for client_credentials
	Type              Type                     `json:"type"`
	Scope             scopes.Set[scopes.Scope] `json:"scope"`
	ScopeFlags        scopes.Set[scopes.Flag]  `json:"scopeFlags"`
	Code              *Code                    `json:"code,omitempty"`
	Addresses         []AddressHint            `json:"addresses,omitempty"`
	RedirectURI       string                   `json:"redirectUri,omitempty"`
	NeedsClientSecret bool                     `json:"needsClientSecret"`
	UseTestAccount    bool                     `json:"useTestAccount"`
	CreatedAt         time.Time                `json:"createdAt"`
}

func (a *Authorization) IsFirstParty() bool {
	return a.ClientID == ""
}
