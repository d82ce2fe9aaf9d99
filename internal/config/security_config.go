package config

import (
	"fmt"
	"time"
)

// RateLimit is the sliding window for one protected action.
type RateLimit struct {
	Window      time.Duration `env:"WINDOW"`
	MaxAttempts int           `env:"MAX_ATTEMPTS"`
}

type RateLimits struct {
	Signup                 RateLimit `envPrefix:"SIGNUP_"`
	InvalidLogin           RateLimit `envPrefix:"INVALID_LOGIN_"`
	ExistenceCheck         RateLimit `envPrefix:"EXISTENCE_CHECK_"`
	EmailValidationRequest RateLimit `envPrefix:"EMAIL_VALIDATION_REQUEST_"`
	PasswordResetRequest   RateLimit `envPrefix:"PASSWORD_RESET_REQUEST_"`
	UploadPolicy           RateLimit `envPrefix:"UPLOAD_POLICY_"`
}

func DefaultRateLimits() RateLimits {
	return RateLimits{
		Signup:                 RateLimit{Window: time.Hour, MaxAttempts: 10},
		InvalidLogin:           RateLimit{Window: 15 * time.Minute, MaxAttempts: 5},
		ExistenceCheck:         RateLimit{Window: 15 * time.Minute, MaxAttempts: 20},
		EmailValidationRequest: RateLimit{Window: time.Hour, MaxAttempts: 5},
		PasswordResetRequest:   RateLimit{Window: time.Hour, MaxAttempts: 5},
		UploadPolicy:           RateLimit{Window: time.Hour, MaxAttempts: 30},
	}
}

// For returns the limit configured for the named action.
func (r RateLimits) For(action string) (RateLimit, bool) {
	switch action {
	case "signup":
		return r.Signup, true
	case "invalid_login":
		return r.InvalidLogin, true
	case "existence_check":
		return r.ExistenceCheck, true
	case "email_validation_request":
		return r.EmailValidationRequest, true
	case "password_reset_request":
		return r.PasswordResetRequest, true
	case "upload_policy":
		return r.UploadPolicy, true
	}
	return RateLimit{}, false
}

func (r RateLimits) validate() error {
	for _, action := range []string{"signup", "invalid_login", "existence_check", "email_validation_request", "password_reset_request", "upload_policy"} {
		limit, _ := r.For(action)
		if limit.Window <= 0 || limit.MaxAttempts <= 0 {
			return fmt.Errorf("rate limit for %s must have a positive window and max attempts", action)
		}
	}
	return nil
}

type Captcha struct {
	Secret    string        `env:"SECRET"`
	VerifyURL string        `env:"VERIFY_URL"`
	Timeout   time.Duration `env:"TIMEOUT"`
}

func DefaultCaptcha() Captcha {
	return Captcha{
		VerifyURL: "https://www.google.com/recaptcha/api/siteverify",
		Timeout:   5 * time.Second,
	}
}

// Throttle bounds the raw request rate per client IP, independent of the per-action limits.
type Throttle struct {
	RequestsPerSecond float64 `env:"RPS"`
	Burst             int     `env:"BURST"`
}
