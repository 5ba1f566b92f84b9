// Package enrollments reads course enrollments from the "enrollments"
// table. Resource services hand a [PostgresStore] to [auth.Policy] so that
// enrollment-based checks see live course membership rather than only the
// role claims in the token.
package enrollments

import (
	"context"
	"time"

	"github.com/ava-platform/ava-core/pkg/auth"
	"github.com/ava-platform/ava-core/pkg/clients/postgres"
	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

// Status is the lifecycle state of an enrollment.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusSuspended, StatusCancelled:
		return true
	}
	return false
}

// Enrollment is a user's membership in a course.
type Enrollment struct {
	ID         int64
	CourseID   int64
	UserID     int64
	Role       auth.Role
	Status     Status
	EnrolledAt time.Time
	UpdatedAt  time.Time
}

func (e *Enrollment) IsActive() bool     { return e.Status == StatusActive }
func (e *Enrollment) IsStudent() bool    { return e.Role == auth.RoleStudent }
func (e *Enrollment) IsInstructor() bool { return auth.InstructorOnly.Has(e.Role) }

// View is the JSON form of an enrollment returned to its user.
type View struct {
	CourseID   int64     `json:"course_id"`
	Role       auth.Role `json:"role"`
	Status     Status    `json:"status"`
	Active     bool      `json:"active"`
	Student    bool      `json:"is_student"`
	Staff      bool      `json:"is_staff"`
	EnrolledAt time.Time `json:"enrolled_at"`
}

// View returns the JSON form of e.
func (e *Enrollment) View() View {
	return View{
		CourseID:   e.CourseID,
		Role:       e.Role,
		Status:     e.Status,
		Active:     e.IsActive(),
		Student:    e.IsStudent(),
		Staff:      e.IsInstructor(),
		EnrolledAt: e.EnrolledAt,
	}
}

// Lookup is the policy's view of e.
func (e *Enrollment) Lookup() *auth.Enrollment {
	return &auth.Enrollment{CourseID: e.CourseID, UserID: e.UserID, Role: e.Role}
}

const (
	selectEnrollment = `SELECT id, course_id, user_id, role, status, enrolled_at, updated_at
	FROM enrollments WHERE course_id = $1 AND user_id = $2`

	queryActive = selectEnrollment + ` AND status = 'active'`
)

// PostgresStore reads enrollments. A user has at most one enrollment per
// course.
type PostgresStore struct {
	db *postgres.Client
}

var _ auth.EnrollmentLookup = (*PostgresStore)(nil)

// NewPostgresStore returns a store over db.
func NewPostgresStore(db *postgres.Client) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get returns the user's enrollment in the course whatever its status.
// A missing enrollment is a [sserr.CodeNotFound] error.
func (s *PostgresStore) Get(ctx context.Context, courseID, userID int64) (*Enrollment, error) {
	e, err := s.get(ctx, selectEnrollment, courseID, userID)
	if postgres.IsNoRows(err) {
		return nil, sserr.NotFound("enrollments: enrollment not found").
			WithDetails(map[string]any{"course_id": courseID, "user_id": userID})
	}
	return e, err
}

// ActiveEnrollment implements [auth.EnrollmentLookup]. It returns
// (nil, nil) when the user has no active enrollment in the course.
func (s *PostgresStore) ActiveEnrollment(ctx context.Context, courseID, userID int64) (*auth.Enrollment, error) {
	e, err := s.get(ctx, queryActive, courseID, userID)
	if postgres.IsNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !e.IsActive() {
		return nil, nil
	}
	return e.Lookup(), nil
}

func (s *PostgresStore) get(ctx context.Context, query string, courseID, userID int64) (*Enrollment, error) {
	var (
		e    Enrollment
		role string
		st   string
	)
	err := s.db.Get(ctx, query, []any{courseID, userID},
		&e.ID, &e.CourseID, &e.UserID, &role, &st, &e.EnrolledAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Role = auth.Role(role)
	e.Status = Status(st)
	if !e.Status.Valid() {
		return nil, sserr.New(sserr.CodeInternalDatabase, "enrollments: unknown enrollment status").
			WithDetails(map[string]any{"status": st, "course_id": courseID, "user_id": userID})
	}
	return &e, nil
}
