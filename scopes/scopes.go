package scopes

import (
	"fmt"
	"slices"
	"strings"
)

// Scope is a resource category a client may ask for.
type Scope string

const (
	Emails       Scope = "emails"
	FirstName    Scope = "first_name"
	LastName     Scope = "last_name"
	Nickname     Scope = "nickname"
	ProfilePhoto Scope = "profile_photo"
	DateOfBirth  Scope = "date_of_birth"
	PlaceOfBirth Scope = "place_of_birth"
	Nationality  Scope = "nationality"
	Timezone     Scope = "timezone"
	PhoneNumbers Scope = "phone_numbers"
	Addresses    Scope = "addresses"

	// First-party only.
	App          Scope = "app"
	AppDeveloper Scope = "app_developer"
)

var clientScopes = []Scope{Emails, FirstName, LastName, Nickname, ProfilePhoto, DateOfBirth, PlaceOfBirth, Nationality, Timezone, PhoneNumbers, Addresses}

// Flag modifies how a scope is interpreted.
type Flag string

const (
	MobilePhoneNumber              Flag = "mobile_phone_number"
	LandlinePhoneNumber            Flag = "landline_phone_number"
	SeparateShippingBillingAddress Flag = "separate_shipping_billing_address"
)

var allFlags = []Flag{MobilePhoneNumber, LandlinePhoneNumber, SeparateShippingBillingAddress}

// IsClientScope reports whether s may be requested by a third-party client.
func IsClientScope(s Scope) bool {
	return slices.Contains(clientScopes, s)
}

// IsMultiValued reports whether the category holds a list of sub-resources.
func IsMultiValued(s Scope) bool {
	return s == Emails || s == PhoneNumbers || s == Addresses
}

// PhoneTypeFlags returns the phone sub-type flags present in flags.
func PhoneTypeFlags(flags Set[Flag]) Set[Flag] {
	var out Set[Flag]
	for _, f := range flags {
		if f == MobilePhoneNumber || f == LandlinePhoneNumber {
			out = append(out, f)
		}
	}
	return out
}

// ParseScopes validates a list of client scope names.
func ParseScopes(values []string) (Set[Scope], error) {
	var out Set[Scope]
	for _, v := range values {
		s := Scope(strings.TrimSpace(v))
		if s == "" {
			continue
		}
		if !IsClientScope(s) {
			return nil, fmt.Errorf("unknown scope %q", v)
		}
		out = out.Add(s)
	}
	return out, nil
}

// ParseFlags validates a list of scope flag names.
func ParseFlags(values []string) (Set[Flag], error) {
	var out Set[Flag]
	for _, v := range values {
		f := Flag(strings.TrimSpace(v))
		if f == "" {
			continue
		}
		if !slices.Contains(allFlags, f) {
			return nil, fmt.Errorf("unknown scope flag %q", v)
		}
		out = out.Add(f)
	}
	return out, nil
}
