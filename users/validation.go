package users

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/jrsteele09/go-idp-server/scopes"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()-]{5,19}$`)

func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != strings.TrimSpace(email) {
		return fmt.Errorf("invalid email address")
	}
	return nil
}

func ValidatePhoneNumber(number string) error {
	if !phonePattern.MatchString(strings.TrimSpace(number)) {
		return fmt.Errorf("invalid phone number")
	}
	return nil
}

// DateOfBirth builds a YYYY-MM-DD date from its form parts.
func DateOfBirth(year, month, day string, now time.Time) (string, error) {
	date, err := time.Parse("2006-1-2", fmt.Sprintf("%s-%s-%s", strings.TrimSpace(year), strings.TrimSpace(month), strings.TrimSpace(day)))
	if err != nil {
		return "", fmt.Errorf("invalid date of birth")
	}
	if !date.Before(now) {
		return "", fmt.Errorf("date of birth must be in the past")
	}
	return date.Format(time.DateOnly), nil
}

func ValidateAddress(a Address) error {
	if strings.TrimSpace(a.Line1) == "" || strings.TrimSpace(a.City) == "" || strings.TrimSpace(a.PostalCode) == "" || strings.TrimSpace(a.Country) == "" {
		return fmt.Errorf("address requires line1, city, postal code and country")
	}
	return nil
}

// ValidateField checks a single-valued field before it is stored.
func ValidateField(f scopes.Field, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%s is required", f)
	}
	switch f {
	case scopes.FieldTimezone:
		if _, err := time.LoadLocation(value); err != nil {
			return fmt.Errorf("unknown timezone")
		}
	case scopes.FieldNationality:
		if len(value) != 2 {
			return fmt.Errorf("nationality must be an ISO 3166 alpha-2 code")
		}
	}
	if len(value) > 256 {
		return fmt.Errorf("%s is too long", f)
	}
	return nil
}
