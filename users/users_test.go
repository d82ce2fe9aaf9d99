package users_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-idp-server/scopes"
	"github.com/jrsteele09/go-idp-server/users"
	fakeuserrepo "github.com/jrsteele09/go-idp-server/users/repofake"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEmail(t *testing.T) {
	require.Equal(t, "john.doe@example.com", users.NormalizeEmail("  John.Doe@Example.COM "))
}

func TestPasswordStrength(t *testing.T) {
	require.Error(t, users.ValidatePasswordStrength("short1A"))
	require.Error(t, users.ValidatePasswordStrength("alllowercase1"))
	require.Error(t, users.ValidatePasswordStrength("NoNumbersHere"))
	require.NoError(t, users.ValidatePasswordStrength("Password123"))
}

func TestCheckPassword(t *testing.T) {
	hash, err := users.HashPassword("Password123")
	require.NoError(t, err)

	u := &users.User{PasswordHash: hash}
	require.True(t, u.CheckPassword("Password123"))
	require.False(t, u.CheckPassword("password123"))

	testAccount := &users.User{IsTestAccount: true}
	require.False(t, testAccount.CheckPassword(""))
}

func TestDateOfBirth(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	dob, err := users.DateOfBirth("1990", "7", "4", now)
	require.NoError(t, err)
	require.Equal(t, "1990-07-04", dob)

	_, err = users.DateOfBirth("1990", "2", "30", now)
	require.Error(t, err)

	_, err = users.DateOfBirth("2030", "1", "1", now)
	require.Error(t, err)
}

func TestValidateField(t *testing.T) {
	require.NoError(t, users.ValidateField(scopes.FieldTimezone, "UTC"))
	require.Error(t, users.ValidateField(scopes.FieldTimezone, "Mars/Olympus"))
	require.Error(t, users.ValidateField(scopes.FieldNationality, "France"))
	require.NoError(t, users.ValidateField(scopes.FieldNationality, "FR"))
	require.Error(t, users.ValidateField(scopes.FieldNickname, "  "))
}

func TestProfileSetFieldReturnsPrevious(t *testing.T) {
	ctx := context.Background()
	repo := fakeuserrepo.NewFakeUserRepo()
	u := &users.User{Email: "a@example.com"}
	require.NoError(t, repo.Create(ctx, u))

	prev, err := repo.SetField(ctx, u.ID, scopes.FieldNickname, "ace")
	require.NoError(t, err)
	require.Empty(t, prev)

	prev, err = repo.SetField(ctx, u.ID, scopes.FieldNickname, "bee")
	require.NoError(t, err)
	require.Equal(t, "ace", prev)

	_, err = repo.SetField(ctx, u.ID, scopes.FieldEmail, "x")
	require.Error(t, err)
}
