package events

import (
	"context"
	"encoding/json"
	"time"
)

type Type string

// Rate-limited actions.
const (
	Signup                 Type = "signup"
	InvalidLogin           Type = "invalid_login"
	ExistenceCheck         Type = "existence_check"
	EmailValidationRequest Type = "email_validation_request"
	PasswordResetRequest   Type = "password_reset_request"
	UploadPolicy           Type = "upload_policy"
)

// Lifecycle events.
const (
	Login                   Type = "login"
	Registration            Type = "registration"
	TestAccountRegistration Type = "test_account_registration"
	TestAccountConverted    Type = "test_account_converted"
)

// Key identifies who an event is counted against: an IP, an entity map, or both.
type Key struct {
	IP     string
	Entity map[string]string
}

func IPKey(ip string) Key {
	return Key{IP: ip}
}

func EmailKey(email string) Key {
	return Key{Entity: map[string]string{"email": email}}
}

// EntityJSON is the canonical encoding of the entity map used for exact matching.
func (k Key) EntityJSON() string {
	if len(k.Entity) == 0 {
		return ""
	}
	b, _ := json.Marshal(k.Entity) // map keys are sorted
	return string(b)
}

func (k Key) Equal(other Key) bool {
	return k.IP == other.IP && k.EntityJSON() == other.EntityJSON()
}

type Event struct {
	ID        string
	Type      Type
	Key       Key
	UserID    string
	ClientID  string
	CreatedAt time.Time
}

// Filter selects the events of one type and key created strictly after Since.
type Filter struct {
	Type  Type
	Key   Key
	Since time.Time
}

type Repo interface {
	Insert(ctx context.Context, e *Event) error
	Count(ctx context.Context, f Filter) (int, error)
	Delete(ctx context.Context, f Filter) error
}
