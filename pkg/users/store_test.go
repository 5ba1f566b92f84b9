package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ava-platform/ava-core/internal/testutil"
	"github.com/ava-platform/ava-core/internal/testutil/fixtures"
	"github.com/ava-platform/ava-core/pkg/clients/postgres"
	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

var userColumns = []string{
	"id", "email", "username", "first_name", "last_name", "password",
	"is_active", "is_staff", "is_superuser", "date_joined",
}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return NewPostgresStore(postgres.NewFromPool(mock, &postgres.Config{Database: "ava"})), mock
}

func userRow(u *User) *pgxmock.Rows {
	return pgxmock.NewRows(userColumns).AddRow(
		u.ID, u.Email, u.Username, u.FirstName, u.LastName, u.PasswordHash,
		u.IsActive, u.IsStaff, u.IsSuperuser, u.DateJoined,
	)
}

func TestPostgresStore_GetByEmail(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	want := testUser(t)

	mock.ExpectQuery(queryByEmail).WithArgs("Ada@Example.com").WillReturnRows(userRow(want))

	got, err := store.GetByEmail(context.Background(), "  Ada@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestPostgresStore_GetByID(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	want := testUser(t)

	mock.ExpectQuery(queryByID).WithArgs(fixtures.UserID).WillReturnRows(userRow(want))

	got, err := store.GetByID(context.Background(), fixtures.UserID)
	require.NoError(t, err)
	assert.Equal(t, want.Email, got.Email)
	assert.True(t, got.CheckPassword(fixtures.UserPassword))
}

func TestPostgresStore_NotFound(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(queryByEmail).WithArgs("nobody@example.com").
		WillReturnRows(pgxmock.NewRows(userColumns))
	mock.ExpectQuery(queryByID).WithArgs(int64(9999)).
		WillReturnRows(pgxmock.NewRows(userColumns))

	_, err := store.GetByEmail(context.Background(), "nobody@example.com")
	testutil.RequireErrorCode(t, err, sserr.CodeNotFoundUser)
	assert.True(t, sserr.IsNotFound(err))

	_, err = store.GetByID(context.Background(), 9999)
	testutil.RequireErrorCode(t, err, sserr.CodeNotFoundUser)
}

func TestPostgresStore_DatabaseError(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(queryByEmail).WithArgs(fixtures.UserEmail).
		WillReturnError(errors.New("connection reset by peer"))

	_, err := store.GetByEmail(context.Background(), fixtures.UserEmail)
	testutil.RequireErrorCode(t, err, sserr.CodeInternalDatabase)
}

func TestPostgresStore_RecordLogin(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectExec(stmtLastLogin).WithArgs(fixtures.UserID, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(stmtLastLogin).WithArgs(fixtures.UserID, at).
		WillReturnError(context.DeadlineExceeded)

	require.NoError(t, store.RecordLogin(context.Background(), fixtures.UserID, at))

	err := store.RecordLogin(context.Background(), fixtures.UserID, at)
	testutil.RequireErrorCode(t, err, sserr.CodeTimeoutDatabase)
}

func TestPostgresStore_Create(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	joined := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(stmtCreate).
		WithArgs("grace@example.com", "grace", "Grace", "Hopper", "hash").
		WillReturnRows(pgxmock.NewRows([]string{"id", "date_joined"}).AddRow(int64(43), joined))

	u := &User{Email: "grace@example.com", Username: "grace", FirstName: "Grace", LastName: "Hopper", PasswordHash: "hash"}
	require.NoError(t, store.Create(context.Background(), u))
	assert.Equal(t, int64(43), u.ID)
	assert.Equal(t, joined, u.DateJoined)
	assert.True(t, u.IsActive)
}

func TestPostgresStore_Create_Duplicate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		constraint string
		code       sserr.Code
		field      string
	}{
		{constraintEmail, sserr.CodeValidation, FieldEmail},
		{constraintUsername, sserr.CodeValidation, FieldUsername},
		{"users_pkey", sserr.CodeValidation, ""},
	}
	for _, tt := range tests {
		t.Run(tt.constraint, func(t *testing.T) {
			t.Parallel()
			store, mock := newMockStore(t)
			mock.ExpectQuery(stmtCreate).
				WithArgs("grace@example.com", "grace", "", "", "hash").
				WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: tt.constraint})

			err := store.Create(context.Background(), &User{Email: "grace@example.com", Username: "grace", PasswordHash: "hash"})
			testutil.RequireErrorCode(t, err, tt.code)
			if tt.field != "" {
				assert.Contains(t, fieldErrors(t, err), tt.field)
			}
		})
	}
}

func TestPostgresStore_UpdatePassword(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec(stmtPassword).WithArgs(fixtures.UserID, "new-hash").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(stmtPassword).WithArgs(int64(9999), "new-hash").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.UpdatePassword(context.Background(), fixtures.UserID, "new-hash"))

	err := store.UpdatePassword(context.Background(), 9999, "new-hash")
	testutil.RequireErrorCode(t, err, sserr.CodeNotFoundUser)
}

func TestPostgresStore_UpdateProfile(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	want := testUser(t)
	want.LastName = "King"

	mock.ExpectQuery(stmtProfile).WithArgs(fixtures.UserID, "Ada", "King").
		WillReturnRows(userRow(want))
	mock.ExpectQuery(stmtProfile).WithArgs(int64(9999), "Ada", "King").
		WillReturnRows(pgxmock.NewRows(userColumns))

	got, err := store.UpdateProfile(context.Background(), fixtures.UserID, "Ada", "King")
	require.NoError(t, err)
	assert.Equal(t, "King", got.LastName)

	_, err = store.UpdateProfile(context.Background(), 9999, "Ada", "King")
	testutil.RequireErrorCode(t, err, sserr.CodeNotFoundUser)
}
