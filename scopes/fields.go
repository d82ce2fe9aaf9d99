package scopes

import "slices"

// Field is a single input or confirmation item presented to the user.
type Field string

const (
	FieldEmail               Field = "email"
	FieldNickname            Field = "nickname"
	FieldProfilePhoto        Field = "profile_photo"
	FieldFirstName           Field = "first_name"
	FieldLastName            Field = "last_name"
	FieldDateOfBirth         Field = "date_of_birth"
	FieldPlaceOfBirth        Field = "place_of_birth"
	FieldNationality         Field = "nationality"
	FieldTimezone            Field = "timezone"
	FieldPhoneNumber         Field = "phone_number"
	FieldMobilePhoneNumber   Field = "mobile_phone_number"
	FieldLandlinePhoneNumber Field = "landline_phone_number"
	FieldAddress             Field = "address"
	FieldShippingAddress     Field = "shipping_address"
	FieldBillingAddress      Field = "billing_address"
)

// canonicalOrder is the presentation order of fields.
var canonicalOrder = []Field{
	FieldEmail,
	FieldNickname,
	FieldProfilePhoto,
	FieldFirstName,
	FieldLastName,
	FieldDateOfBirth,
	FieldPlaceOfBirth,
	FieldNationality,
	FieldTimezone,
	FieldPhoneNumber,
	FieldMobilePhoneNumber,
	FieldLandlinePhoneNumber,
	FieldAddress,
	FieldShippingAddress,
	FieldBillingAddress,
}

// SingleValuedFields are stored directly on the user profile.
var SingleValuedFields = []Field{
	FieldNickname,
	FieldProfilePhoto,
	FieldFirstName,
	FieldLastName,
	FieldDateOfBirth,
	FieldPlaceOfBirth,
	FieldNationality,
	FieldTimezone,
}

func (f Field) IsSingleValued() bool {
	return slices.Contains(SingleValuedFields, f)
}

func (f Field) IsPhone() bool {
	return f == FieldPhoneNumber || f == FieldMobilePhoneNumber || f == FieldLandlinePhoneNumber
}

func (f Field) IsAddress() bool {
	return f == FieldAddress || f == FieldShippingAddress || f == FieldBillingAddress
}

// SortFields orders fields in place by canonical presentation order.
func SortFields(fields []Field) {
	slices.SortStableFunc(fields, func(a, b Field) int {
		return slices.Index(canonicalOrder, a) - slices.Index(canonicalOrder, b)
	})
}

// FieldsFor expands a scope into the fields that satisfy it under the given flags.
func FieldsFor(scope Scope, flags Set[Flag]) []Field {
	switch scope {
	case Emails:
		return []Field{FieldEmail}
	case PhoneNumbers:
		var fields []Field
		if flags.Contains(MobilePhoneNumber) {
			fields = append(fields, FieldMobilePhoneNumber)
		}
		if flags.Contains(LandlinePhoneNumber) {
			fields = append(fields, FieldLandlinePhoneNumber)
		}
		if len(fields) == 0 {
			fields = []Field{FieldPhoneNumber}
		}
		return fields
	case Addresses:
		if flags.Contains(SeparateShippingBillingAddress) {
			return []Field{FieldShippingAddress, FieldBillingAddress}
		}
		return []Field{FieldAddress}
	case App, AppDeveloper:
		return nil
	}
	return []Field{Field(scope)}
}

// ScopeOf returns the scope a field belongs to.
func ScopeOf(f Field) Scope {
	switch {
	case f == FieldEmail:
		return Emails
	case f.IsPhone():
		return PhoneNumbers
	case f.IsAddress():
		return Addresses
	}
	return Scope(f)
}
