package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/jrsteele09/go-idp-server/internal/errors"
	"github.com/jrsteele09/go-idp-server/scopes"
	"github.com/jrsteele09/go-idp-server/users"
	"github.com/pkg/errors"
)

var _ users.Repo = (*UserRepo)(nil)

type UserRepo struct {
	db *sql.DB
}

const userColumns = `id, COALESCE(email, ''), password_hash, developer, is_test_account, date_joined, last_login,
    nickname, profile_photo, first_name, last_name, date_of_birth, place_of_birth, nationality, timezone`

// profileColumns maps the single-valued fields to their columns.
var profileColumns = map[scopes.Field]string{
	scopes.FieldNickname:     "nickname",
	scopes.FieldProfilePhoto: "profile_photo",
	scopes.FieldFirstName:    "first_name",
	scopes.FieldLastName:     "last_name",
	scopes.FieldDateOfBirth:  "date_of_birth",
	scopes.FieldPlaceOfBirth: "place_of_birth",
	scopes.FieldNationality:  "nationality",
	scopes.FieldTimezone:     "timezone",
}

func scanUser(row scanner) (*users.User, error) {
	var (
		u                     users.User
		developer, test       int
		dateJoined, lastLogin int64
	)
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &developer, &test, &dateJoined, &lastLogin,
		&u.Profile.Nickname, &u.Profile.ProfilePhoto, &u.Profile.FirstName, &u.Profile.LastName,
		&u.Profile.DateOfBirth, &u.Profile.PlaceOfBirth, &u.Profile.Nationality, &u.Profile.Timezone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Developer = developer == 1
	u.IsTestAccount = test == 1
	u.DateJoined = fromOptionalMillis(dateJoined)
	u.LastLogin = fromOptionalMillis(lastLogin)
	return &u, nil
}

func (r *UserRepo) Create(ctx context.Context, user *users.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	// Test accounts have no email; NULL keeps them out of the unique index.
	var email sql.NullString
	if user.Email != "" {
		email = sql.NullString{String: user.Email, Valid: true}
	}
	p := user.Profile
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (id, email, password_hash, developer, is_test_account, date_joined, last_login,
    nickname, profile_photo, first_name, last_name, date_of_birth, place_of_birth, nationality, timezone)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, email, user.PasswordHash, boolInt(user.Developer), boolInt(user.IsTestAccount),
		optionalMillis(user.DateJoined), optionalMillis(user.LastLogin),
		p.Nickname, p.ProfilePhoto, p.FirstName, p.LastName, p.DateOfBirth, p.PlaceOfBirth, p.Nationality, p.Timezone)
	if isUniqueViolation(err) {
		return apperrors.InvalidFields(map[string]string{"email": "already registered"})
	}
	return errors.Wrap(err, "[UserRepo.Create] insert user")
}

func (r *UserRepo) Delete(ctx context.Context, userID string) error {
	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		for _, table := range []string{"user_emails", "user_phone_numbers", "user_addresses"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE user_id = ?`, userID); err != nil {
				return errors.Wrapf(err, "[UserRepo.Delete] delete %s", table)
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID)
		if err != nil {
			return errors.Wrap(err, "[UserRepo.Delete] delete user")
		}
		return requireRow(res)
	})
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*users.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	return u, wrapUnlessNotFound(err, "[UserRepo.GetByEmail]")
}

func (r *UserRepo) GetByID(ctx context.Context, userID string) (*users.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID))
	return u, wrapUnlessNotFound(err, "[UserRepo.GetByID]")
}

func (r *UserRepo) SetLastLogin(ctx context.Context, userID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET last_login = ? WHERE id = ?`, toMillis(at), userID)
	if err != nil {
		return errors.Wrap(err, "[UserRepo.SetLastLogin]")
	}
	return requireRow(res)
}

func (r *UserRepo) SetCredentials(ctx context.Context, userID, email, passwordHash string, isTestAccount bool) error {
	var address sql.NullString
	if email != "" {
		address = sql.NullString{String: email, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `UPDATE users SET email = ?, password_hash = ?, is_test_account = ? WHERE id = ?`,
		address, passwordHash, boolInt(isTestAccount), userID)
	if isUniqueViolation(err) {
		return apperrors.InvalidFields(map[string]string{"email": "already registered"})
	}
	if err != nil {
		return errors.Wrap(err, "[UserRepo.SetCredentials]")
	}
	return requireRow(res)
}

func (r *UserRepo) SetField(ctx context.Context, userID string, field scopes.Field, value string) (string, error) {
	column, ok := profileColumns[field]
	if !ok {
		return "", errors.Errorf("%s is not a profile field", field)
	}
	var previous string
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT `+column+` FROM users WHERE id = ?`, userID).Scan(&previous)
		if errors.Is(err, sql.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		if err != nil {
			return errors.Wrap(err, "[UserRepo.SetField] read field")
		}
		_, err = tx.ExecContext(ctx, `UPDATE users SET `+column+` = ? WHERE id = ?`, value, userID)
		return errors.Wrap(err, "[UserRepo.SetField] update field")
	})
	return previous, err
}

func (r *UserRepo) userExists(ctx context.Context, userID string) error {
	var found int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = ?`, userID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.ErrNotFound
	}
	return err
}

func (r *UserRepo) ListEmails(ctx context.Context, userID string) ([]users.Email, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, address, verified FROM user_emails WHERE user_id = ? ORDER BY rowid`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "[UserRepo.ListEmails]")
	}
	defer rows.Close()

	var out []users.Email
	for rows.Next() {
		e := users.Email{UserID: userID}
		var verified int
		if err := rows.Scan(&e.ID, &e.Address, &verified); err != nil {
			return nil, errors.Wrap(err, "[UserRepo.ListEmails] scan")
		}
		e.Verified = verified == 1
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "[UserRepo.ListEmails]")
}

func (r *UserRepo) AddEmail(ctx context.Context, userID, address string) (*users.Email, error) {
	if err := r.userExists(ctx, userID); err != nil {
		return nil, err
	}
	email := users.Email{ID: uuid.New().String(), UserID: userID, Address: address}
	_, err := r.db.ExecContext(ctx, `INSERT INTO user_emails (id, user_id, address, verified) VALUES (?, ?, ?, 0)`, email.ID, userID, address)
	if isUniqueViolation(err) {
		return nil, apperrors.InvalidFields(map[string]string{"email": "already added"})
	}
	if err != nil {
		return nil, errors.Wrap(err, "[UserRepo.AddEmail]")
	}
	return &email, nil
}

func (r *UserRepo) DeleteEmail(ctx context.Context, userID, emailID string) error {
	return r.deleteOwned(ctx, "user_emails", userID, emailID)
}

func (r *UserRepo) ListPhoneNumbers(ctx context.Context, userID string) ([]users.PhoneNumber, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, number, type FROM user_phone_numbers WHERE user_id = ? ORDER BY rowid`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "[UserRepo.ListPhoneNumbers]")
	}
	defer rows.Close()

	var out []users.PhoneNumber
	for rows.Next() {
		p := users.PhoneNumber{UserID: userID}
		if err := rows.Scan(&p.ID, &p.Number, &p.Type); err != nil {
			return nil, errors.Wrap(err, "[UserRepo.ListPhoneNumbers] scan")
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "[UserRepo.ListPhoneNumbers]")
}

func (r *UserRepo) AddPhoneNumber(ctx context.Context, userID, number string, phoneType users.PhoneType) (*users.PhoneNumber, error) {
	if err := r.userExists(ctx, userID); err != nil {
		return nil, err
	}
	phone := users.PhoneNumber{ID: uuid.New().String(), UserID: userID, Number: number, Type: phoneType}
	if _, err := r.db.ExecContext(ctx, `INSERT INTO user_phone_numbers (id, user_id, number, type) VALUES (?, ?, ?, ?)`,
		phone.ID, userID, number, string(phoneType)); err != nil {
		return nil, errors.Wrap(err, "[UserRepo.AddPhoneNumber]")
	}
	return &phone, nil
}

func (r *UserRepo) DeletePhoneNumber(ctx context.Context, userID, phoneID string) error {
	return r.deleteOwned(ctx, "user_phone_numbers", userID, phoneID)
}

func (r *UserRepo) ListAddresses(ctx context.Context, userID string) ([]users.Address, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, line1, line2, city, postal_code, country FROM user_addresses WHERE user_id = ? ORDER BY rowid`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "[UserRepo.ListAddresses]")
	}
	defer rows.Close()

	var out []users.Address
	for rows.Next() {
		a := users.Address{UserID: userID}
		if err := rows.Scan(&a.ID, &a.Line1, &a.Line2, &a.City, &a.PostalCode, &a.Country); err != nil {
			return nil, errors.Wrap(err, "[UserRepo.ListAddresses] scan")
		}
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "[UserRepo.ListAddresses]")
}

func (r *UserRepo) AddAddress(ctx context.Context, userID string, address users.Address) (*users.Address, error) {
	if err := r.userExists(ctx, userID); err != nil {
		return nil, err
	}
	address.ID = uuid.New().String()
	address.UserID = userID
	if _, err := r.db.ExecContext(ctx, `INSERT INTO user_addresses (id, user_id, line1, line2, city, postal_code, country) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		address.ID, userID, address.Line1, address.Line2, address.City, address.PostalCode, address.Country); err != nil {
		return nil, errors.Wrap(err, "[UserRepo.AddAddress]")
	}
	return &address, nil
}

func (r *UserRepo) DeleteAddress(ctx context.Context, userID, addressID string) error {
	return r.deleteOwned(ctx, "user_addresses", userID, addressID)
}

func (r *UserRepo) deleteOwned(ctx context.Context, table, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return errors.Wrapf(err, "[UserRepo] delete from %s", table)
	}
	return requireRow(res)
}

// requireRow maps an update or delete that touched nothing to ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// wrapUnlessNotFound keeps ErrNotFound unwrapped so callers can compare it directly.
func wrapUnlessNotFound(err error, op string) error {
	if err == nil || errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	return errors.Wrap(err, op)
}
