package consent_test

import (
	"context"
	"testing"
	"time"

	"github.com/jrsteele09/go-idp-server/clients"
	"github.com/jrsteele09/go-idp-server/consent"
	fakeconsentrepo "github.com/jrsteele09/go-idp-server/consent/repofake"
	"github.com/jrsteele09/go-idp-server/entityid"
	"github.com/jrsteele09/go-idp-server/oauth2"
	"github.com/jrsteele09/go-idp-server/scopes"
	"github.com/jrsteele09/go-idp-server/users"
	fakeuserrepo "github.com/jrsteele09/go-idp-server/users/repofake"
	"github.com/stretchr/testify/require"
)

const testClientID = "client-1"

type testFixture struct {
	users      *fakeuserrepo.FakeUserRepo
	reconciler *consent.Reconciler
	user       *users.User
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	ur := fakeuserrepo.NewFakeUserRepo()
	rc, err := consent.NewReconciler(ur)
	require.NoError(t, err)

	u := &users.User{Email: "john.doe@example.com"}
	require.NoError(t, ur.Create(context.Background(), u))
	return &testFixture{users: ur, reconciler: rc, user: u}
}

func redirect(scope scopes.Set[scopes.Scope], flags scopes.Set[scopes.Flag]) *clients.RedirectionURI {
	return &clients.RedirectionURI{
		URI:          "https://client.example.com/callback",
		ResponseType: oauth2.CodeResponseType,
		Scope:        scope,
		ScopeFlags:   flags,
	}
}

func previous(scope scopes.Set[scopes.Scope], flags scopes.Set[scopes.Flag]) *consent.UserAuthorization {
	return &consent.UserAuthorization{
		UserID:     "user",
		ClientID:   testClientID,
		Scope:      scope,
		ScopeFlags: flags,
		Status:     consent.StatusRegistered,
	}
}

func (f *testFixture) reconcile(t *testing.T, r *clients.RedirectionURI, prev *consent.UserAuthorization) consent.Result {
	t.Helper()
	result, err := f.reconciler.Reconcile(context.Background(), r, prev, f.user)
	require.NoError(t, err)
	return result
}

func TestMobileFlagOnlyQualifiesMobileOrUnknownNumbers(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	unknown, err := f.users.AddPhoneNumber(ctx, f.user.ID, "+441234567890", users.PhoneTypeUnknown)
	require.NoError(t, err)
	_, err = f.users.AddPhoneNumber(ctx, f.user.ID, "+440987654321", users.PhoneTypeLandline)
	require.NoError(t, err)

	result := f.reconcile(t, redirect(scopes.NewSet(scopes.PhoneNumbers), scopes.NewSet(scopes.MobilePhoneNumber)), nil)

	require.Empty(t, result.FieldsToShow)
	require.Equal(t, []scopes.Field{scopes.FieldMobilePhoneNumber}, result.AuthorizeOrder)
	require.Equal(t, []users.PhoneNumber{*unknown}, result.FieldsToAuthorize[scopes.FieldMobilePhoneNumber].PhoneNumbers)
}

func TestNoExistingDataMeansShow(t *testing.T) {
	f := setupTestFixture(t)

	result := f.reconcile(t, redirect(scopes.NewSet(scopes.Emails, scopes.Timezone, scopes.Addresses), nil), nil)

	require.Equal(t, []scopes.Field{scopes.FieldEmail, scopes.FieldTimezone, scopes.FieldAddress}, result.FieldsToShow)
	require.Empty(t, result.FieldsToAuthorize)
	require.True(t, result.HasAdditionalFieldsBeyondConsent)
	require.False(t, result.Empty())
}

func TestAnonymousUserSeesEverythingToShow(t *testing.T) {
	f := setupTestFixture(t)

	result, err := f.reconciler.Reconcile(context.Background(), redirect(scopes.NewSet(scopes.Nickname, scopes.Emails), nil), nil, nil)
	require.NoError(t, err)
	require.Equal(t, []scopes.Field{scopes.FieldEmail, scopes.FieldNickname}, result.FieldsToShow)
}

func TestFullyAuthorizedIsEmpty(t *testing.T) {
	f := setupTestFixture(t)
	asked := scopes.NewSet(scopes.Emails, scopes.Nickname)

	result := f.reconcile(t, redirect(asked, nil), previous(asked, nil))
	require.True(t, result.Empty())
	require.False(t, result.HasAdditionalFieldsBeyondConsent)
}

func TestNewPhoneSubTypeReasksPhoneNumbers(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.users.AddPhoneNumber(context.Background(), f.user.ID, "+441234567890", users.PhoneTypeMobile)
	require.NoError(t, err)

	prev := previous(scopes.NewSet(scopes.PhoneNumbers), scopes.NewSet(scopes.MobilePhoneNumber))
	asked := redirect(scopes.NewSet(scopes.PhoneNumbers), scopes.NewSet(scopes.MobilePhoneNumber, scopes.LandlinePhoneNumber))

	result := f.reconcile(t, asked, prev)
	require.Equal(t, scopes.Set[scopes.Scope]{scopes.PhoneNumbers}, result.Remaining)
	// Only the sub-type not yet authorized is asked.
	require.Equal(t, []scopes.Field{scopes.FieldLandlinePhoneNumber}, result.FieldsToShow)
	require.Empty(t, result.FieldsToAuthorize)
	require.False(t, result.HasAdditionalFieldsBeyondConsent)
}

func TestPhoneSubTypeAlreadyAuthorizedIsNotReasked(t *testing.T) {
	f := setupTestFixture(t)
	prev := previous(scopes.NewSet(scopes.PhoneNumbers), scopes.NewSet(scopes.MobilePhoneNumber))

	result := f.reconcile(t, redirect(scopes.NewSet(scopes.PhoneNumbers), scopes.NewSet(scopes.MobilePhoneNumber)), prev)
	require.True(t, result.Empty())
}

func TestGenericPhoneAuthorizationReaskedWhenSubTypeAppears(t *testing.T) {
	f := setupTestFixture(t)
	// The user already has a mobile number; the flag still forces a fresh consent.
	_, err := f.users.AddPhoneNumber(context.Background(), f.user.ID, "+441234567890", users.PhoneTypeMobile)
	require.NoError(t, err)

	prev := previous(scopes.NewSet(scopes.PhoneNumbers), nil)
	result := f.reconcile(t, redirect(scopes.NewSet(scopes.PhoneNumbers), scopes.NewSet(scopes.MobilePhoneNumber)), prev)
	require.Equal(t, []scopes.Field{scopes.FieldMobilePhoneNumber}, result.AuthorizeOrder)
}

func TestSeparateAddressesAlwaysReconfirmed(t *testing.T) {
	f := setupTestFixture(t)
	addr, err := f.users.AddAddress(context.Background(), f.user.ID, users.Address{Line1: "1 Main St", City: "Leeds", PostalCode: "LS1 1AA", Country: "GB"})
	require.NoError(t, err)

	asked := redirect(scopes.NewSet(scopes.Addresses), scopes.NewSet(scopes.SeparateShippingBillingAddress))
	prev := previous(scopes.NewSet(scopes.Addresses), scopes.NewSet(scopes.SeparateShippingBillingAddress))

	for round := 0; round < 2; round++ {
		result := f.reconcile(t, asked, prev)
		require.Equal(t, []scopes.Field{scopes.FieldShippingAddress, scopes.FieldBillingAddress}, result.AuthorizeOrder)
		require.Equal(t, []users.Address{*addr}, result.FieldsToAuthorize[scopes.FieldBillingAddress].Addresses)
	}
}

func TestProfilePhotoFoldsIntoAuthorize(t *testing.T) {
	f := setupTestFixture(t)
	_, err := f.users.SetField(context.Background(), f.user.ID, scopes.FieldNickname, "jd")
	require.NoError(t, err)
	f.user.Profile.Nickname = "jd"

	result := f.reconcile(t, redirect(scopes.NewSet(scopes.Nickname, scopes.ProfilePhoto), nil), nil)
	require.Empty(t, result.FieldsToShow)
	require.Equal(t, []scopes.Field{scopes.FieldNickname, scopes.FieldProfilePhoto}, result.AuthorizeOrder)
}

func TestProfilePhotoFoldsIntoShow(t *testing.T) {
	f := setupTestFixture(t)
	f.user.Profile.ProfilePhoto = "https://cdn.example.com/p.png"

	result := f.reconcile(t, redirect(scopes.NewSet(scopes.ProfilePhoto, scopes.Nickname, scopes.Timezone), nil), nil)
	require.Empty(t, result.FieldsToAuthorize)
	require.Equal(t, []scopes.Field{scopes.FieldNickname, scopes.FieldProfilePhoto, scopes.FieldTimezone}, result.FieldsToShow)
}

func TestAuthorizeOrderIsCanonical(t *testing.T) {
	f := setupTestFixture(t)
	ctx := context.Background()
	_, err := f.users.AddEmail(ctx, f.user.ID, f.user.Email)
	require.NoError(t, err)
	_, err = f.users.AddAddress(ctx, f.user.ID, users.Address{Line1: "1 Main St", City: "Leeds", PostalCode: "LS1 1AA", Country: "GB"})
	require.NoError(t, err)
	f.user.Profile = users.Profile{Timezone: "UTC", FirstName: "John", Nationality: "GB"}

	asked := scopes.NewSet(scopes.Addresses, scopes.Timezone, scopes.Nationality, scopes.FirstName, scopes.Emails)
	result := f.reconcile(t, redirect(asked, nil), nil)
	require.Equal(t, []scopes.Field{
		scopes.FieldEmail,
		scopes.FieldFirstName,
		scopes.FieldNationality,
		scopes.FieldTimezone,
		scopes.FieldAddress,
	}, result.AuthorizeOrder)
}

func TestAccumulateIsMonotonic(t *testing.T) {
	ctx := context.Background()
	repo := fakeconsentrepo.NewFakeConsentRepo()
	now := time.Now()

	rounds := []consent.Grant{
		{Scope: scopes.NewSet(scopes.Emails), Status: consent.StatusTestAccount},
		{Scope: scopes.NewSet(scopes.Nickname), ScopeFlags: scopes.NewSet(scopes.MobilePhoneNumber), Status: consent.StatusRegistered},
		{Scope: nil, Entities: entityid.Entities{entityid.KindEmail: {"e1"}}, Status: consent.StatusTestAccount},
		{Scope: scopes.NewSet(scopes.Emails, scopes.Addresses), Status: consent.StatusRegistered},
	}
	var last scopes.Set[scopes.Scope]
	for _, g := range rounds {
		ua, err := repo.Accumulate(ctx, "user", testClientID, g, now)
		require.NoError(t, err)
		require.True(t, ua.Scope.ContainsAll(last))
		last = ua.Scope
	}

	ua, err := repo.Get(ctx, "user", testClientID)
	require.NoError(t, err)
	require.ElementsMatch(t, []scopes.Scope{scopes.Emails, scopes.Nickname, scopes.Addresses}, ua.Scope)
	require.Equal(t, consent.StatusRegistered, ua.Status, "registered is never downgraded")
	require.Equal(t, []string{"e1"}, ua.Entities[entityid.KindEmail])
}

func TestReassignMergesIntoHeldRecord(t *testing.T) {
	ctx := context.Background()
	repo := fakeconsentrepo.NewFakeConsentRepo()
	now := time.Now()

	_, err := repo.Accumulate(ctx, "real", testClientID, consent.Grant{
		Scope:    scopes.NewSet(scopes.Nickname, scopes.Addresses),
		Entities: entityid.Entities{entityid.KindUser: {"real"}},
		Status:   consent.StatusRegistered,
	}, now)
	require.NoError(t, err)
	_, err = repo.Accumulate(ctx, "test", testClientID, consent.Grant{
		Entities: entityid.Entities{entityid.KindUser: {"test"}, entityid.KindEmail: {"e1"}},
		Status:   consent.StatusTestAccount,
	}, now.Add(time.Minute))
	require.NoError(t, err)

	require.NoError(t, repo.ReassignUser(ctx, "test", "real"))
	ua, err := repo.Get(ctx, "real", testClientID)
	require.NoError(t, err)
	require.ElementsMatch(t, []scopes.Scope{scopes.Nickname, scopes.Addresses}, ua.Scope)
	require.Equal(t, consent.StatusRegistered, ua.Status)
	require.Equal(t, []string{"real"}, ua.Entities[entityid.KindUser])
	require.Equal(t, []string{"e1"}, ua.Entities[entityid.KindEmail])

	_, err = repo.Get(ctx, "test", testClientID)
	require.Error(t, err)

	require.NoError(t, repo.Restore(ctx, "real", testClientID, nil))
	_, err = repo.Get(ctx, "real", testClientID)
	require.Error(t, err)
}
