package users

import (
	"context"
	"time"

	"github.com/jrsteele09/go-idp-server/scopes"
)

type Repo interface {
	Create(ctx context.Context, user *User) error
	Delete(ctx context.Context, userID string) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, userID string) (*User, error)
	SetLastLogin(ctx context.Context, userID string, at time.Time) error
	// SetCredentials replaces the login email, password hash and test-account
	// flag of an existing user. An empty email clears it.
	SetCredentials(ctx context.Context, userID, email, passwordHash string, isTestAccount bool) error
	ProfileStore
}

// ProfileStore owns the user's profile fields and sub-resources.
type ProfileStore interface {
	SetField(ctx context.Context, userID string, field scopes.Field, value string) (previous string, err error)

	ListEmails(ctx context.Context, userID string) ([]Email, error)
	AddEmail(ctx context.Context, userID, address string) (*Email, error)
	DeleteEmail(ctx context.Context, userID, emailID string) error

	ListPhoneNumbers(ctx context.Context, userID string) ([]PhoneNumber, error)
	AddPhoneNumber(ctx context.Context, userID, number string, phoneType PhoneType) (*PhoneNumber, error)
	DeletePhoneNumber(ctx context.Context, userID, phoneID string) error

	ListAddresses(ctx context.Context, userID string) ([]Address, error)
	AddAddress(ctx context.Context, userID string, address Address) (*Address, error)
	DeleteAddress(ctx context.Context, userID, addressID string) error
}
