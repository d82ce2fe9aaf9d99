package entityid

import (
	"time"

	"github.com/jrsteele09/go-idp-server/scopes"
)

// Kind tags what a real identifier currently represents for a client.
type Kind string

const (
	KindUser                Kind = "user"
	KindEmail               Kind = "email"
	KindPhoneNumber         Kind = "phone_number"
	KindMobilePhoneNumber   Kind = "mobile_phone_number"
	KindLandlinePhoneNumber Kind = "landline_phone_number"
	KindAddress             Kind = "address"
	KindShippingAddress     Kind = "shipping_address"
	KindBillingAddress      Kind = "billing_address"
)

// KindForField maps a multi-valued presentation field to its entity kind.
func KindForField(f scopes.Field) (Kind, bool) {
	switch f {
	case scopes.FieldEmail:
		return KindEmail, true
	case scopes.FieldPhoneNumber:
		return KindPhoneNumber, true
	case scopes.FieldMobilePhoneNumber:
		return KindMobilePhoneNumber, true
	case scopes.FieldLandlinePhoneNumber:
		return KindLandlinePhoneNumber, true
	case scopes.FieldAddress:
		return KindAddress, true
	case scopes.FieldShippingAddress:
		return KindShippingAddress, true
	case scopes.FieldBillingAddress:
		return KindBillingAddress, true
	}
	return "", false
}

// Record maps (user, client, real id) to the client-visible fake id.
type Record struct {
	UserID         string
	ClientID       string
	RealID         string
	FakeID         string
	Kinds          scopes.Set[Kind]
	UseTestAccount bool
	CreatedAt      time.Time
}

// Entities lists the real ids authorized under each kind.
type Entities map[Kind][]string

func (e Entities) Add(kind Kind, realIDs ...string) {
	for _, id := range realIDs {
		if id == "" || containsString(e[kind], id) {
			continue
		}
		e[kind] = append(e[kind], id)
	}
}

func (e Entities) Merge(other Entities) {
	for kind, ids := range other {
		e.Add(kind, ids...)
	}
}

func (e Entities) Has(kind Kind) bool {
	return len(e[kind]) > 0
}

// ByRealID inverts the map so each real id carries the union of its kinds.
func (e Entities) ByRealID() map[string]scopes.Set[Kind] {
	out := make(map[string]scopes.Set[Kind])
	for kind, ids := range e {
		for _, id := range ids {
			out[id] = out[id].Add(kind)
		}
	}
	return out
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

// Query selects records of one (user, client). Empty filters match everything.
type Query struct {
	UserID   string
	ClientID string
	RealIDs  []string
	FakeIDs  []string
	Kind     Kind
}

func (q Query) Matches(r Record) bool {
	if r.UserID != q.UserID || r.ClientID != q.ClientID {
		return false
	}
	if len(q.RealIDs) > 0 && !containsString(q.RealIDs, r.RealID) {
		return false
	}
	if len(q.FakeIDs) > 0 && !containsString(q.FakeIDs, r.FakeID) {
		return false
	}
	if q.Kind != "" && !r.Kinds.Contains(q.Kind) {
		return false
	}
	return true
}
