package users

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/ava-platform/ava-core/pkg/auth"
	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

// Request field names, as reported under the [auth.DetailFields] detail.
const (
	FieldEmail              = "email"
	FieldUsername           = "username"
	FieldFirstName          = "first_name"
	FieldLastName           = "last_name"
	FieldPassword           = "password"
	FieldPasswordConfirm    = "password_confirm"
	FieldOldPassword        = "old_password"
	FieldNewPassword        = "new_password"
	FieldNewPasswordConfirm = "new_password_confirm"
)

// Field limits of the users table.
const (
	MaxNameLength     = 150
	MinPasswordLength = 8
)

const msgRequired = "This field is required."

var duplicateMessages = map[string]string{
	FieldEmail:    "A user with this email already exists.",
	FieldUsername: "A user with this username already exists.",
}

// DuplicateError is the validation error for a taken email or username.
func DuplicateError(field string) error {
	return sserr.New(sserr.CodeValidation, "users: "+field+" is already taken").
		WithDetail(auth.DetailFields, map[string]string{field: duplicateMessages[field]})
}

// Registration is a self-service sign-up.
type Registration struct {
	Email           string
	Username        string
	FirstName       string
	LastName        string
	Password        string
	PasswordConfirm string
}

// PasswordChange replaces the password of a signed-in user.
type PasswordChange struct {
	OldPassword        string
	NewPassword        string
	NewPasswordConfirm string
}

// ProfileUpdate changes the editable profile fields. Nil fields are left
// unchanged; email and username are not editable.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
}

// Accounts manages self-service account changes. It is safe for
// concurrent use.
//
// Example:
//
//	accounts := users.NewAccounts(users.NewPostgresStore(db), 0)
//	user, err := accounts.Register(ctx, users.Registration{
//	    Email:           "grace@example.com",
//	    Username:        "grace",
//	    FirstName:       "Grace",
//	    LastName:        "Hopper",
//	    Password:        secret,
//	    PasswordConfirm: secret,
//	})
type Accounts struct {
	store AccountStore
	cost  int
}

// NewAccounts returns Accounts writing to store and hashing passwords with
// the given bcrypt cost. A zero cost uses bcrypt.DefaultCost.
func NewAccounts(store AccountStore, cost int) *Accounts {
	return &Accounts{store: store, cost: cost}
}

// Register creates an active account with the student role.
//
// Error codes returned:
//   - [sserr.CodeValidationRequired]: a field is empty
//   - [sserr.CodeValidationFormat]: malformed email or overlong name
//   - [sserr.CodeValidation]: the confirmation does not match, the
//     password is too weak, or the email or username is taken
//
// Each validation error lists the offending fields under the
// [auth.DetailFields] detail.
func (a *Accounts) Register(ctx context.Context, reg Registration) (*User, error) {
	reg.Email = strings.TrimSpace(reg.Email)
	reg.Username = strings.TrimSpace(reg.Username)
	reg.FirstName = strings.TrimSpace(reg.FirstName)
	reg.LastName = strings.TrimSpace(reg.LastName)

	if missing := requiredFields(map[string]string{
		FieldEmail:           reg.Email,
		FieldUsername:        reg.Username,
		FieldFirstName:       reg.FirstName,
		FieldLastName:        reg.LastName,
		FieldPassword:        reg.Password,
		FieldPasswordConfirm: reg.PasswordConfirm,
	}); missing != nil {
		return nil, missing
	}

	invalid := map[string]string{}
	if !validEmail(reg.Email) {
		invalid[FieldEmail] = "Enter a valid email address."
	}
	for field, v := range map[string]string{
		FieldUsername:  reg.Username,
		FieldFirstName: reg.FirstName,
		FieldLastName:  reg.LastName,
	} {
		if utf8.RuneCountInString(v) > MaxNameLength {
			invalid[field] = "Ensure this field has no more than 150 characters."
		}
	}
	if len(invalid) > 0 {
		return nil, sserr.New(sserr.CodeValidationFormat, "users: invalid registration").
			WithDetail(auth.DetailFields, invalid)
	}

	if reg.Password != reg.PasswordConfirm {
		return nil, fieldError(FieldPasswordConfirm, "Passwords do not match.")
	}
	if problem := CheckPasswordStrength(reg.Password, reg.Email, reg.Username, reg.FirstName, reg.LastName); problem != "" {
		return nil, fieldError(FieldPassword, problem)
	}

	_, err := a.store.GetByEmail(ctx, reg.Email)
	if err == nil {
		return nil, DuplicateError(FieldEmail)
	}
	if !sserr.HasCode(err, sserr.CodeNotFoundUser) {
		return nil, err
	}

	hash, err := HashPassword(reg.Password, a.cost)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternal, "users: failed to hash password")
	}
	user := &User{
		Email:        reg.Email,
		Username:     reg.Username,
		FirstName:    reg.FirstName,
		LastName:     reg.LastName,
		PasswordHash: hash,
	}
	if err := a.store.Create(ctx, user); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "users: account registered",
		"event", "security.account_registered",
		"user_id", user.ID,
		"correlation_id", auth.CorrelationIDFromContext(ctx),
	)
	return user, nil
}

// ChangePassword checks user's current password and stores the new one.
// A wrong current password is a [sserr.CodeValidation] error on
// old_password, as are a mismatched confirmation and a weak password.
func (a *Accounts) ChangePassword(ctx context.Context, user *User, req PasswordChange) error {
	if missing := requiredFields(map[string]string{
		FieldOldPassword:        req.OldPassword,
		FieldNewPassword:        req.NewPassword,
		FieldNewPasswordConfirm: req.NewPasswordConfirm,
	}); missing != nil {
		return missing
	}
	if !user.CheckPassword(req.OldPassword) {
		slog.WarnContext(ctx, "users: password change rejected",
			"event", "security.password_change_failed",
			"user_id", user.ID,
			"correlation_id", auth.CorrelationIDFromContext(ctx),
		)
		return fieldError(FieldOldPassword, "Current password is incorrect.")
	}
	if req.NewPassword != req.NewPasswordConfirm {
		return fieldError(FieldNewPasswordConfirm, "The new passwords do not match.")
	}
	if problem := CheckPasswordStrength(req.NewPassword, user.Email, user.Username, user.FirstName, user.LastName); problem != "" {
		return fieldError(FieldNewPassword, problem)
	}

	hash, err := HashPassword(req.NewPassword, a.cost)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "users: failed to hash password")
	}
	if err := a.store.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}
	user.PasswordHash = hash
	slog.InfoContext(ctx, "users: password changed",
		"event", "security.password_changed",
		"user_id", user.ID,
		"correlation_id", auth.CorrelationIDFromContext(ctx),
	)
	return nil
}

// UpdateProfile applies upd to user and returns the stored account.
func (a *Accounts) UpdateProfile(ctx context.Context, user *User, upd ProfileUpdate) (*User, error) {
	first, last := user.FirstName, user.LastName
	if upd.FirstName != nil {
		first = strings.TrimSpace(*upd.FirstName)
	}
	if upd.LastName != nil {
		last = strings.TrimSpace(*upd.LastName)
	}
	invalid := map[string]string{}
	if utf8.RuneCountInString(first) > MaxNameLength {
		invalid[FieldFirstName] = "Ensure this field has no more than 150 characters."
	}
	if utf8.RuneCountInString(last) > MaxNameLength {
		invalid[FieldLastName] = "Ensure this field has no more than 150 characters."
	}
	if len(invalid) > 0 {
		return nil, sserr.New(sserr.CodeValidationFormat, "users: invalid profile").
			WithDetail(auth.DetailFields, invalid)
	}
	return a.store.UpdateProfile(ctx, user.ID, first, last)
}

// commonPasswords holds the most frequent leaked passwords of at least
// MinPasswordLength characters.
var commonPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "password123": {}, "12345678": {},
	"123456789": {}, "1234567890": {}, "qwertyuiop": {}, "iloveyou": {},
	"sunshine": {}, "princess": {}, "football": {}, "baseball": {},
	"welcome1": {}, "abc12345": {}, "qwerty123": {}, "11111111": {},
	"00000000": {}, "letmein1": {}, "trustno1": {}, "superman": {},
}

// CheckPasswordStrength returns a message describing why password is too
// weak, or "" when it is acceptable. A password is weak when it is shorter
// than MinPasswordLength, entirely numeric, a well-known common password,
// or contains (or is contained in) one of the user's attributes.
func CheckPasswordStrength(password string, attributes ...string) string {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return "This password is too short. It must contain at least 8 characters."
	}
	if strings.Trim(password, "0123456789") == "" {
		return "This password is entirely numeric."
	}
	lower := strings.ToLower(password)
	if _, ok := commonPasswords[lower]; ok {
		return "This password is too common."
	}
	for _, attr := range attributes {
		attr = strings.ToLower(strings.TrimSpace(attr))
		if local, _, ok := strings.Cut(attr, "@"); ok {
			attr = local
		}
		if len(attr) < 3 {
			continue
		}
		if strings.Contains(lower, attr) || strings.Contains(attr, lower) {
			return "The password is too similar to your personal information."
		}
	}
	return ""
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Name == "" && addr.Address == email
}

func requiredFields(values map[string]string) error {
	missing := map[string]string{}
	for field, v := range values {
		if v == "" {
			missing[field] = msgRequired
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return sserr.New(sserr.CodeValidationRequired, "users: required fields are missing").
		WithDetail(auth.DetailFields, missing)
}

func fieldError(field, message string) error {
	return sserr.New(sserr.CodeValidation, "users: "+field+" is invalid").
		WithDetail(auth.DetailFields, map[string]string{field: message})
}
