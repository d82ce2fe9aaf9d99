package users

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/jrsteele09/go-idp-server/scopes"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"
)

type User struct {
	ID            string    `json:"id,omitempty"`           // Unique identifier for the user
	Email         string    `json:"email,omitempty"`        // Login email, case folded
	PasswordHash  string    `json:"-"`                      // Hashed version of the user's password - never serialize
	Developer     bool      `json:"developer,omitempty"`    // Grants app_developer to first-party tokens
	IsTestAccount bool      `json:"test_account,omitempty"` // Throwaway identity created for a single client
	DateJoined    time.Time `json:"date_joined,omitempty"`  // Date and time when the user registered
	LastLogin     time.Time `json:"last_login,omitempty"`   // Last time the user logged in

	Profile Profile `json:"profile"`
}

// Profile holds the single-valued categories.
type Profile struct {
	Nickname     string `json:"nickname,omitempty"`
	ProfilePhoto string `json:"profile_photo,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	DateOfBirth  string `json:"date_of_birth,omitempty"` // YYYY-MM-DD
	PlaceOfBirth string `json:"place_of_birth,omitempty"`
	Nationality  string `json:"nationality,omitempty"`
	Timezone     string `json:"timezone,omitempty"`
}

// Field returns the stored value of a single-valued field.
func (p *Profile) Field(f scopes.Field) string {
	if ptr := p.fieldPtr(f); ptr != nil {
		return *ptr
	}
	return ""
}

// SetField stores value and returns the previous value.
func (p *Profile) SetField(f scopes.Field, value string) (string, error) {
	ptr := p.fieldPtr(f)
	if ptr == nil {
		return "", fmt.Errorf("%s is not a profile field", f)
	}
	previous := *ptr
	*ptr = value
	return previous, nil
}

func (p *Profile) fieldPtr(f scopes.Field) *string {
	switch f {
	case scopes.FieldNickname:
		return &p.Nickname
	case scopes.FieldProfilePhoto:
		return &p.ProfilePhoto
	case scopes.FieldFirstName:
		return &p.FirstName
	case scopes.FieldLastName:
		return &p.LastName
	case scopes.FieldDateOfBirth:
		return &p.DateOfBirth
	case scopes.FieldPlaceOfBirth:
		return &p.PlaceOfBirth
	case scopes.FieldNationality:
		return &p.Nationality
	case scopes.FieldTimezone:
		return &p.Timezone
	}
	return nil
}

type Email struct {
	ID       string `json:"id"`
	UserID   string `json:"-"`
	Address  string `json:"address"`
	Verified bool   `json:"verified"`
}

type PhoneType string

const (
	PhoneTypeUnknown  PhoneType = ""
	PhoneTypeMobile   PhoneType = "mobile"
	PhoneTypeLandline PhoneType = "landline"
)

type PhoneNumber struct {
	ID     string    `json:"id"`
	UserID string    `json:"-"`
	Number string    `json:"number"`
	Type   PhoneType `json:"type,omitempty"`
}

type Address struct {
	ID         string `json:"id"`
	UserID     string `json:"-"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

var emailFolder = cases.Fold()

// NormalizeEmail trims and case folds an address so lookups and rate-limit keys agree.
func NormalizeEmail(email string) string {
	return emailFolder.String(strings.TrimSpace(email))
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		if unicode.IsUpper(char) {
			hasUpper = true
		} else if unicode.IsLower(char) {
			hasLower = true
		} else if unicode.IsDigit(char) {
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}

	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// CheckPassword reports whether password matches the user's hash. Test accounts have no password.
func (u *User) CheckPassword(password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return CheckPasswordHash(password, u.PasswordHash)
}
