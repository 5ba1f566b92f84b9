// Package users holds the local accounts the auth service issues tokens
// for. Accounts live in the "users" table; passwords are bcrypt hashes.
//
//	store := users.NewPostgresStore(db)
//	authn := users.NewAuthenticator(store)
//	user, err := authn.Login(ctx, email, password)
//	pair, err := issuer.IssueTokens(ctx, user.Subject())
package users

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ava-platform/ava-core/pkg/auth"
)

// User is a local account.
type User struct {
	ID           int64
	Email        string
	Username     string
	FirstName    string
	LastName     string
	PasswordHash string
	IsActive     bool
	IsStaff      bool
	IsSuperuser  bool
	DateJoined   time.Time
}

// FullName joins the first and last names.
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Roles derives the account's platform roles: staff and superusers are
// admins, and everyone is a student.
func (u *User) Roles() auth.RoleSet {
	return auth.RolesForUser(u.IsStaff, u.IsSuperuser)
}

// Subject is the token subject for the account.
func (u *User) Subject() auth.Subject {
	return auth.Subject{
		UserID:   u.ID,
		Email:    u.Email,
		Username: u.Username,
		Roles:    u.Roles(),
	}
}

// CheckPassword reports whether password matches the stored hash.
func (u *User) CheckPassword(password string) bool {
	if u.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}

// HashPassword returns the bcrypt hash stored for password.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Profile is the public view of a user returned by the login and user
// info endpoints.
type Profile struct {
	ID         int64        `json:"id"`
	Email      string       `json:"email"`
	Username   string       `json:"username"`
	FirstName  string       `json:"first_name"`
	LastName   string       `json:"last_name"`
	FullName   string       `json:"full_name"`
	IsActive   bool         `json:"is_active"`
	DateJoined time.Time    `json:"date_joined"`
	Roles      auth.RoleSet `json:"roles"`
}

// Profile returns the public view of u.
func (u *User) Profile() Profile {
	return Profile{
		ID:         u.ID,
		Email:      u.Email,
		Username:   u.Username,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		FullName:   u.FullName(),
		IsActive:   u.IsActive,
		DateJoined: u.DateJoined,
		Roles:      u.Roles(),
	}
}
