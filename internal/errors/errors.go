package errors

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ErrNotFound is returned by every repository when a record does not exist.
var ErrNotFound = errors.New("not found")

// Kind is the discriminant of the closed error taxonomy.
type Kind int

const (
	KindInvalidRequest Kind = iota + 1
	KindInvalidToken
	KindExpiredToken
	KindAccessDenied
	KindNotFound
	KindMaxAttempts
	KindServerError
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid_request"
	case KindInvalidToken:
		return "invalid_token"
	case KindExpiredToken:
		return "expired_token"
	case KindAccessDenied:
		return "access_denied"
	case KindNotFound:
		return "not_found"
	case KindMaxAttempts:
		return "max_attempts"
	case KindServerError:
		return "server_error"
	}
	return "unknown"
}

// Wire codes carried in the "error" field of a response body.
const (
	CodeInvalidRequest       = "invalid_request"
	CodeInvalidClient        = "invalid_client"
	CodeInvalidGrant         = "invalid_grant"
	CodeUnauthorizedClient   = "unauthorized_client"
	CodeUnsupportedGrantType = "unsupported_grant_type"
	CodeInvalidToken         = "invalid_token"
	CodeExpiredToken         = "expired_token"
	CodeAccessDenied         = "access_denied"
	CodeNotFound             = "not_found"
	CodeMaxAttempts          = "max_attempts"
	CodeServerError          = "server_error"
)

// Error is the single error type that crosses component boundaries.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fields  map[string]string // field name -> reason, InvalidRequest only
	Captcha bool              // MaxAttempts only, a captcha response clears the window
	Causes  []error           // ServerError only
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Code)
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		names := make([]string, 0, len(e.Fields))
		for name := range e.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		sb.WriteString(" [")
		for i, name := range names {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s: %s", name, e.Fields[name])
		}
		sb.WriteString("]")
	}
	for _, cause := range e.Causes {
		sb.WriteString("; ")
		sb.WriteString(cause.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() []error {
	return e.Causes
}

// Status maps the error onto its HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindInvalidRequest:
		if e.Code == CodeInvalidClient {
			return http.StatusUnauthorized
		}
		return http.StatusBadRequest
	case KindInvalidToken, KindExpiredToken:
		return http.StatusBadRequest
	case KindAccessDenied, KindMaxAttempts:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindServerError:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func InvalidRequest(message string) *Error {
	return newError(KindInvalidRequest, CodeInvalidRequest, message)
}

// InvalidFields reports every invalid field of a submission at once.
func InvalidFields(fields map[string]string) *Error {
	e := newError(KindInvalidRequest, CodeInvalidRequest, "invalid fields")
	e.Fields = fields
	return e
}

func InvalidClient() *Error {
	return newError(KindInvalidRequest, CodeInvalidClient, "")
}

func InvalidGrant() *Error {
	return newError(KindInvalidRequest, CodeInvalidGrant, "")
}

func UnauthorizedClient() *Error {
	return newError(KindInvalidRequest, CodeUnauthorizedClient, "")
}

func UnsupportedGrantType() *Error {
	return newError(KindInvalidRequest, CodeUnsupportedGrantType, "")
}

func InvalidToken() *Error {
	return newError(KindInvalidToken, CodeInvalidToken, "")
}

func ExpiredToken() *Error {
	return newError(KindExpiredToken, CodeExpiredToken, "")
}

func AccessDenied(message string) *Error {
	return newError(KindAccessDenied, CodeAccessDenied, message)
}

func NotFound(message string) *Error {
	return newError(KindNotFound, CodeNotFound, message)
}

func MaxAttempts(captcha bool) *Error {
	e := newError(KindMaxAttempts, CodeMaxAttempts, "")
	e.Captcha = captcha
	return e
}

// ServerError collects unexpected failures. It is the only kind that maps to a 500.
func ServerError(causes ...error) *Error {
	e := newError(KindServerError, CodeServerError, "")
	for _, cause := range causes {
		if cause != nil {
			e.Causes = append(e.Causes, cause)
		}
	}
	return e
}

// From returns err as a taxonomy error, converting anything unmanaged into a ServerError.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ServerError(err)
}

// KindOf returns the discriminant of err, or zero when err is not a taxonomy error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// HasCode reports whether err is a taxonomy error with the given wire code.
func HasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

// FieldErrors accumulates validation failures across a multi-field submission.
type FieldErrors map[string]string

func (fe FieldErrors) Add(field, reason string) {
	if _, ok := fe[field]; !ok {
		fe[field] = reason
	}
}

// Err returns nil when no field failed.
func (fe FieldErrors) Err() error {
	if len(fe) == 0 {
		return nil
	}
	return InvalidFields(map[string]string(fe))
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
