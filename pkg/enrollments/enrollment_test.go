package enrollments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ava-platform/ava-core/internal/testutil"
	"github.com/ava-platform/ava-core/internal/testutil/fixtures"
	"github.com/ava-platform/ava-core/pkg/auth"
	"github.com/ava-platform/ava-core/pkg/clients/postgres"
	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

var columns = []string{"id", "course_id", "user_id", "role", "status", "enrolled_at", "updated_at"}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return NewPostgresStore(postgres.NewFromPool(mock, &postgres.Config{Database: "ava"})), mock
}

func row(userID int64, role, status string) *pgxmock.Rows {
	at := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	return pgxmock.NewRows(columns).
		AddRow(int64(5), fixtures.CourseID, userID, role, status, at, at)
}

func TestStatus_Valid(t *testing.T) {
	t.Parallel()
	for _, s := range []Status{StatusActive, StatusCompleted, StatusSuspended, StatusCancelled} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, Status("paused").Valid())
	assert.False(t, Status("").Valid())
}

func TestEnrollment_Predicates(t *testing.T) {
	t.Parallel()

	e := &Enrollment{Role: auth.RoleStudent, Status: StatusActive}
	assert.True(t, e.IsActive())
	assert.True(t, e.IsStudent())
	assert.False(t, e.IsInstructor())

	e = &Enrollment{Role: auth.RoleOwner, Status: StatusSuspended}
	assert.False(t, e.IsActive())
	assert.True(t, e.IsInstructor(), "course owners count as course staff")
}

func TestEnrollment_View(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)
	e := &Enrollment{CourseID: fixtures.CourseID, Role: auth.RoleInstructor, Status: StatusActive, EnrolledAt: at}
	assert.Equal(t, View{
		CourseID:   fixtures.CourseID,
		Role:       auth.RoleInstructor,
		Status:     StatusActive,
		Active:     true,
		Staff:      true,
		EnrolledAt: at,
	}, e.View())
}

func TestPostgresStore_UnknownStatus(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(selectEnrollment).WithArgs(fixtures.CourseID, fixtures.UserID).
		WillReturnRows(row(fixtures.UserID, "student", "paused"))

	_, err := store.Get(context.Background(), fixtures.CourseID, fixtures.UserID)
	testutil.RequireErrorCode(t, err, sserr.CodeInternalDatabase)
}

func TestPostgresStore_Get(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(selectEnrollment).WithArgs(fixtures.CourseID, fixtures.UserID).
		WillReturnRows(row(fixtures.UserID, "student", "completed"))
	mock.ExpectQuery(selectEnrollment).WithArgs(fixtures.CourseID, int64(9999)).
		WillReturnRows(pgxmock.NewRows(columns))

	e, err := store.Get(context.Background(), fixtures.CourseID, fixtures.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), e.ID)
	assert.Equal(t, StatusCompleted, e.Status)
	assert.Equal(t, auth.RoleStudent, e.Role)
	assert.False(t, e.IsActive())

	_, err = store.Get(context.Background(), fixtures.CourseID, 9999)
	testutil.RequireErrorCode(t, err, sserr.CodeNotFound)
	ssErr, _ := sserr.AsError(err)
	assert.Equal(t, fixtures.CourseID, ssErr.Details["course_id"])
}

func TestPostgresStore_ActiveEnrollment(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(queryActive).WithArgs(fixtures.CourseID, fixtures.InstructorID).
		WillReturnRows(row(fixtures.InstructorID, "instructor", "active"))
	mock.ExpectQuery(queryActive).WithArgs(fixtures.CourseID, fixtures.UserID).
		WillReturnRows(pgxmock.NewRows(columns))

	got, err := store.ActiveEnrollment(context.Background(), fixtures.CourseID, fixtures.InstructorID)
	require.NoError(t, err)
	assert.Equal(t, &auth.Enrollment{
		CourseID: fixtures.CourseID,
		UserID:   fixtures.InstructorID,
		Role:     auth.RoleInstructor,
	}, got)

	got, err = store.ActiveEnrollment(context.Background(), fixtures.CourseID, fixtures.UserID)
	require.NoError(t, err)
	assert.Nil(t, got, "no active enrollment is not an error")
}

func TestPostgresStore_ActiveEnrollment_Error(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery(queryActive).WithArgs(fixtures.CourseID, fixtures.UserID).
		WillReturnError(errors.New("connection refused"))

	_, err := store.ActiveEnrollment(context.Background(), fixtures.CourseID, fixtures.UserID)
	testutil.RequireErrorCode(t, err, sserr.CodeInternalDatabase)
}

func TestPostgresStore_WithPolicy(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	policy := auth.Policy{Enrollments: store}
	student := &auth.Identity{UserID: fixtures.UserID, Roles: auth.DefaultRoles()}
	res := auth.Resource{CourseID: fixtures.CourseID}

	mock.ExpectQuery(queryActive).WithArgs(fixtures.CourseID, fixtures.UserID).
		WillReturnRows(row(fixtures.UserID, "student", "active"))
	require.NoError(t, policy.EnrolledOrInstructor(context.Background(), student, res))

	mock.ExpectQuery(queryActive).WithArgs(fixtures.CourseID, fixtures.UserID).
		WillReturnRows(pgxmock.NewRows(columns))
	err := policy.EnrolledOrInstructor(context.Background(), student, res)
	testutil.RequireErrorCode(t, err, sserr.CodeAuthorizationDenied)

	mock.ExpectQuery(queryActive).WithArgs(fixtures.CourseID, fixtures.UserID).
		WillReturnError(errors.New("connection refused"))
	err = policy.EnrolledOrInstructor(context.Background(), student, res)
	testutil.RequireErrorCode(t, err, sserr.CodeInternalDatabase)
}
