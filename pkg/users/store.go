package users

import (
	"context"
	"strings"
	"time"

	"github.com/ava-platform/ava-core/pkg/clients/postgres"
	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

// Store reads accounts. Lookups of unknown users return an error carrying
// [sserr.CodeNotFoundUser].
type Store interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)

	// RecordLogin stamps the account's last successful login.
	RecordLogin(ctx context.Context, id int64, at time.Time) error
}

// AccountStore is a Store that also writes accounts. Create reports a
// taken email or username with the error built by [DuplicateError];
// updates of unknown users return [sserr.CodeNotFoundUser].
type AccountStore interface {
	Store

	// Create inserts u and sets its ID, DateJoined and IsActive.
	Create(ctx context.Context, u *User) error
	UpdatePassword(ctx context.Context, id int64, hash string) error
	UpdateProfile(ctx context.Context, id int64, firstName, lastName string) (*User, error)
}

const (
	userFields = `id, email, username, first_name, last_name, password,
	is_active, is_staff, is_superuser, date_joined`
	selectUser = `SELECT ` + userFields + ` FROM users`

	queryByEmail  = selectUser + ` WHERE lower(email) = lower($1)`
	queryByID     = selectUser + ` WHERE id = $1`
	stmtLastLogin = `UPDATE users SET last_login = $2 WHERE id = $1`

	stmtCreate = `INSERT INTO users (email, username, first_name, last_name, password, is_active)
	VALUES ($1, $2, $3, $4, $5, TRUE) RETURNING id, date_joined`
	stmtPassword = `UPDATE users SET password = $2 WHERE id = $1`
	stmtProfile  = `UPDATE users SET first_name = $2, last_name = $3 WHERE id = $1 RETURNING ` + userFields

	// Default names Postgres gives the UNIQUE constraints of the users table.
	constraintEmail    = "users_email_key"
	constraintUsername = "users_username_key"
)

// PostgresStore reads accounts from the users table.
type PostgresStore struct {
	db *postgres.Client
}

var _ AccountStore = (*PostgresStore)(nil)

// NewPostgresStore returns a store over db.
func NewPostgresStore(db *postgres.Client) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetByEmail looks an account up by email, ignoring case.
func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.get(ctx, queryByEmail, strings.TrimSpace(email))
}

// GetByID looks an account up by primary key.
func (s *PostgresStore) GetByID(ctx context.Context, id int64) (*User, error) {
	return s.get(ctx, queryByID, id)
}

func (s *PostgresStore) get(ctx context.Context, query string, args ...any) (*User, error) {
	var u User
	err := s.db.Get(ctx, query, args,
		&u.ID, &u.Email, &u.Username, &u.FirstName, &u.LastName, &u.PasswordHash,
		&u.IsActive, &u.IsStaff, &u.IsSuperuser, &u.DateJoined,
	)
	if postgres.IsNoRows(err) {
		return nil, sserr.Wrap(err, sserr.CodeNotFoundUser, "users: user not found")
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// RecordLogin implements Store.
func (s *PostgresStore) RecordLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.Exec(ctx, stmtLastLogin, id, at)
	return err
}

// Create implements AccountStore. The table's email constraint is
// case-sensitive, so [Accounts.Register] looks the email up first.
func (s *PostgresStore) Create(ctx context.Context, u *User) error {
	err := s.db.Get(ctx, stmtCreate,
		[]any{u.Email, u.Username, u.FirstName, u.LastName, u.PasswordHash},
		&u.ID, &u.DateJoined,
	)
	if constraint, ok := postgres.UniqueViolation(err); ok {
		switch constraint {
		case constraintEmail:
			return DuplicateError(FieldEmail)
		case constraintUsername:
			return DuplicateError(FieldUsername)
		}
		return sserr.Wrap(err, sserr.CodeValidation, "users: account already exists")
	}
	if err != nil {
		return err
	}
	u.IsActive = true
	return nil
}

// UpdatePassword implements AccountStore. hash is stored as given.
func (s *PostgresStore) UpdatePassword(ctx context.Context, id int64, hash string) error {
	tag, err := s.db.Exec(ctx, stmtPassword, id, hash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return sserr.New(sserr.CodeNotFoundUser, "users: user not found")
	}
	return nil
}

// UpdateProfile implements AccountStore and returns the updated account.
func (s *PostgresStore) UpdateProfile(ctx context.Context, id int64, firstName, lastName string) (*User, error) {
	return s.get(ctx, stmtProfile, id, firstName, lastName)
}
