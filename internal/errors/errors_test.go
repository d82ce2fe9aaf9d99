package errors_test

import (
	"fmt"
	"net/http"
	"testing"

	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    *apperrors.Error
		status int
	}{
		{"invalid request", apperrors.InvalidRequest("missing code"), http.StatusBadRequest},
		{"invalid client", apperrors.InvalidClient(), http.StatusUnauthorized},
		{"invalid grant", apperrors.InvalidGrant(), http.StatusBadRequest},
		{"unauthorized client", apperrors.UnauthorizedClient(), http.StatusBadRequest},
		{"invalid token", apperrors.InvalidToken(), http.StatusBadRequest},
		{"expired token", apperrors.ExpiredToken(), http.StatusBadRequest},
		{"access denied", apperrors.AccessDenied("no"), http.StatusForbidden},
		{"not found", apperrors.NotFound("client"), http.StatusNotFound},
		{"max attempts", apperrors.MaxAttempts(true), http.StatusForbidden},
		{"server error", apperrors.ServerError(fmt.Errorf("boom")), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.status, tt.err.Status())
		})
	}
}

func TestFromConvertsUnmanagedErrors(t *testing.T) {
	cause := fmt.Errorf("disk on fire")
	e := apperrors.From(fmt.Errorf("[Store] insert: %w", cause))
	require.Equal(t, apperrors.KindServerError, e.Kind)
	require.ErrorIs(t, e, cause)

	grant := apperrors.InvalidGrant()
	require.Same(t, grant, apperrors.From(fmt.Errorf("wrapped: %w", grant)))
	require.Nil(t, apperrors.From(nil))
}

func TestFieldErrorsAccumulate(t *testing.T) {
	fe := apperrors.FieldErrors{}
	require.NoError(t, fe.Err())

	fe.Add("email", "invalid")
	fe.Add("date_of_birth", "invalid")
	fe.Add("email", "duplicate")

	err := fe.Err()
	require.Error(t, err)
	require.Equal(t, apperrors.KindInvalidRequest, apperrors.KindOf(err))

	e := apperrors.From(err)
	require.Equal(t, map[string]string{"email": "invalid", "date_of_birth": "invalid"}, e.Fields)
	require.Contains(t, e.Error(), "date_of_birth: invalid, email: invalid")
}

func TestHasCode(t *testing.T) {
	require.True(t, apperrors.HasCode(apperrors.InvalidClient(), apperrors.CodeInvalidClient))
	require.False(t, apperrors.HasCode(apperrors.InvalidGrant(), apperrors.CodeInvalidClient))
	require.False(t, apperrors.HasCode(fmt.Errorf("plain"), apperrors.CodeInvalidClient))
}
