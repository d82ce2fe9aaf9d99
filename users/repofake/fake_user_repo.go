package fakeuserrepo

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/jrsteele09/go-idp-server/scopes"
	"github.com/jrsteele09/go-idp-server/users"
)

var _ users.Repo = (*FakeUserRepo)(nil)

type FakeUserRepo struct {
	users    map[string]*users.User
	emailIds map[string]string // email to user id
	emails   map[string][]users.Email
	phones   map[string][]users.PhoneNumber
	address  map[string][]users.Address
	lock     sync.RWMutex
}

func NewFakeUserRepo() *FakeUserRepo {
	return &FakeUserRepo{
		users:    make(map[string]*users.User),
		emailIds: make(map[string]string),
		emails:   make(map[string][]users.Email),
		phones:   make(map[string][]users.PhoneNumber),
		address:  make(map[string][]users.Address),
	}
}

func (ur *FakeUserRepo) Create(_ context.Context, user *users.User) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Email != "" {
		if _, exists := ur.emailIds[user.Email]; exists {
			return apperrors.InvalidFields(map[string]string{"email": "already registered"})
		}
		ur.emailIds[user.Email] = user.ID
	}
	stored := *user
	ur.users[user.ID] = &stored
	return nil
}

func (ur *FakeUserRepo) Delete(_ context.Context, userID string) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	user, ok := ur.users[userID]
	if !ok {
		return apperrors.ErrNotFound
	}
	delete(ur.emailIds, user.Email)
	delete(ur.users, userID)
	delete(ur.emails, userID)
	delete(ur.phones, userID)
	delete(ur.address, userID)
	return nil
}

func (ur *FakeUserRepo) GetByEmail(_ context.Context, email string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	id, ok := ur.emailIds[email]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	user := *ur.users[id]
	return &user, nil
}

func (ur *FakeUserRepo) GetByID(_ context.Context, id string) (*users.User, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()

	stored, ok := ur.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	user := *stored
	return &user, nil
}

func (ur *FakeUserRepo) SetLastLogin(_ context.Context, userID string, at time.Time) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	user, ok := ur.users[userID]
	if !ok {
		return apperrors.ErrNotFound
	}
	user.LastLogin = at
	return nil
}

func (ur *FakeUserRepo) SetCredentials(_ context.Context, userID, email, passwordHash string, isTestAccount bool) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	user, ok := ur.users[userID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if email != "" && email != user.Email {
		if _, exists := ur.emailIds[email]; exists {
			return apperrors.InvalidFields(map[string]string{"email": "already registered"})
		}
	}
	delete(ur.emailIds, user.Email)
	if email != "" {
		ur.emailIds[email] = userID
	}
	user.Email = email
	user.PasswordHash = passwordHash
	user.IsTestAccount = isTestAccount
	return nil
}

func (ur *FakeUserRepo) SetField(_ context.Context, userID string, field scopes.Field, value string) (string, error) {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	user, ok := ur.users[userID]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return user.Profile.SetField(field, value)
}

func (ur *FakeUserRepo) ListEmails(_ context.Context, userID string) ([]users.Email, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()
	return slices.Clone(ur.emails[userID]), nil
}

func (ur *FakeUserRepo) AddEmail(_ context.Context, userID, address string) (*users.Email, error) {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	if _, ok := ur.users[userID]; !ok {
		return nil, apperrors.ErrNotFound
	}
	for _, e := range ur.emails[userID] {
		if e.Address == address {
			return nil, apperrors.InvalidFields(map[string]string{"email": "already added"})
		}
	}
	email := users.Email{ID: uuid.New().String(), UserID: userID, Address: address}
	ur.emails[userID] = append(ur.emails[userID], email)
	return &email, nil
}

func (ur *FakeUserRepo) DeleteEmail(_ context.Context, userID, emailID string) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	before := len(ur.emails[userID])
	ur.emails[userID] = slices.DeleteFunc(ur.emails[userID], func(e users.Email) bool { return e.ID == emailID })
	if len(ur.emails[userID]) == before {
		return apperrors.ErrNotFound
	}
	return nil
}

func (ur *FakeUserRepo) ListPhoneNumbers(_ context.Context, userID string) ([]users.PhoneNumber, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()
	return slices.Clone(ur.phones[userID]), nil
}

func (ur *FakeUserRepo) AddPhoneNumber(_ context.Context, userID, number string, phoneType users.PhoneType) (*users.PhoneNumber, error) {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	if _, ok := ur.users[userID]; !ok {
		return nil, apperrors.ErrNotFound
	}
	phone := users.PhoneNumber{ID: uuid.New().String(), UserID: userID, Number: number, Type: phoneType}
	ur.phones[userID] = append(ur.phones[userID], phone)
	return &phone, nil
}

func (ur *FakeUserRepo) DeletePhoneNumber(_ context.Context, userID, phoneID string) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	before := len(ur.phones[userID])
	ur.phones[userID] = slices.DeleteFunc(ur.phones[userID], func(p users.PhoneNumber) bool { return p.ID == phoneID })
	if len(ur.phones[userID]) == before {
		return apperrors.ErrNotFound
	}
	return nil
}

func (ur *FakeUserRepo) ListAddresses(_ context.Context, userID string) ([]users.Address, error) {
	ur.lock.RLock()
	defer ur.lock.RUnlock()
	return slices.Clone(ur.address[userID]), nil
}

func (ur *FakeUserRepo) AddAddress(_ context.Context, userID string, address users.Address) (*users.Address, error) {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	if _, ok := ur.users[userID]; !ok {
		return nil, apperrors.ErrNotFound
	}
	address.ID = uuid.New().String()
	address.UserID = userID
	ur.address[userID] = append(ur.address[userID], address)
	return &address, nil
}

func (ur *FakeUserRepo) DeleteAddress(_ context.Context, userID, addressID string) error {
	ur.lock.Lock()
	defer ur.lock.Unlock()

	before := len(ur.address[userID])
	ur.address[userID] = slices.DeleteFunc(ur.address[userID], func(a users.Address) bool { return a.ID == addressID })
	if len(ur.address[userID]) == before {
		return apperrors.ErrNotFound
	}
	return nil
}
