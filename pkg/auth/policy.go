package auth

import (
	"context"
	"strings"

	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

// Resource is the object an ownership or enrollment check is about. Zero
// fields are unknown.
type Resource struct {
	OwnerID  int64
	CourseID int64
}

// Enrollment is a user's active participation in a course as seen by the
// policy.
type Enrollment struct {
	CourseID int64
	UserID   int64
	Role     Role
}

// EnrollmentLookup finds a user's active enrollment in a course. It
// returns (nil, nil) when there is none.
type EnrollmentLookup interface {
	ActiveEnrollment(ctx context.Context, courseID, userID int64) (*Enrollment, error)
}

// Policy holds the authorization predicates. Each returns nil when access
// is granted, an AUTH_004 error when there is no identity, and an
// AUTHZ_002 error when the identity is not allowed. Denials are logged.
//
// Course-scoped checks are decided by Enrollments. A global instructor or
// owner role claim never grants access to a course on its own while an
// EnrollmentLookup is configured. The zero Policy is usable: its
// OwnerOrInstructor falls back to role claims, and its EnrolledOrInstructor
// denies every caller because no enrollment can be found.
//
// Example:
//
//	policy := auth.Policy{Enrollments: enrollments.NewPostgresStore(db)}
//	res := auth.Resource{OwnerID: course.InstructorID, CourseID: course.ID}
//	if err := policy.EnrolledOrInstructor(ctx, auth.MustIdentityFromContext(ctx), res); err != nil {
//	    auth.WriteError(w, r, err)
//	    return
//	}
type Policy struct {
	Enrollments EnrollmentLookup
}

// Authenticated requires an identity.
func (p Policy) Authenticated(ctx context.Context, id *Identity) error {
	if id == nil {
		err := sserr.AuthenticationRequired()
		logAuthFailure(ctx, "auth: authentication required", err, "")
		return err
	}
	return nil
}

// RoleIn requires an identity holding at least one of roles. Role claims
// are platform-wide, so RoleIn is not a substitute for a course check.
//
// Example:
//
//	if err := policy.RoleIn(ctx, id, auth.InstructorOnly); err != nil {
//	    return err
//	}
func (p Policy) RoleIn(ctx context.Context, id *Identity, roles RoleSet) error {
	if err := p.Authenticated(ctx, id); err != nil {
		return err
	}
	if id.HasAnyRole(roles) {
		return nil
	}
	return p.deny(ctx, id, "Required roles: "+strings.Join(roles.Strings(), ", "))
}

// OwnerOrInstructor grants access to the resource owner and to the staff
// of the resource's course, meaning users with an instructor or owner
// enrollment in it.
//
// Without an EnrollmentLookup there is no course scope to consult and an
// instructor or owner role claim is accepted instead. With one, the claim
// is ignored and a resource without a CourseID is open to its owner only.
func (p Policy) OwnerOrInstructor(ctx context.Context, id *Identity, res Resource) error {
	if err := p.Authenticated(ctx, id); err != nil {
		return err
	}
	if res.OwnerID > 0 && res.OwnerID == id.UserID {
		return nil
	}
	if p.Enrollments == nil {
		if id.HasAnyRole(InstructorOnly) {
			return nil
		}
		return p.deny(ctx, id, "Only the owner or an instructor can access this resource")
	}
	enrollment, err := p.lookup(ctx, id, res)
	if err != nil {
		return err
	}
	if enrollment != nil && InstructorOnly.Has(enrollment.Role) {
		return nil
	}
	return p.deny(ctx, id, "Only the owner or an instructor can access this resource")
}

// EnrolledOrInstructor grants access to any user with an active enrollment
// in the resource's course, in any role. Instructors are covered by their
// instructor enrollment; role claims play no part.
func (p Policy) EnrolledOrInstructor(ctx context.Context, id *Identity, res Resource) error {
	if err := p.Authenticated(ctx, id); err != nil {
		return err
	}
	enrollment, err := p.lookup(ctx, id, res)
	if err != nil {
		return err
	}
	if enrollment != nil {
		return nil
	}
	return p.deny(ctx, id, "An active enrollment in this course is required")
}

func (p Policy) lookup(ctx context.Context, id *Identity, res Resource) (*Enrollment, error) {
	if p.Enrollments == nil || res.CourseID <= 0 {
		return nil, nil
	}
	enrollment, err := p.Enrollments.ActiveEnrollment(ctx, res.CourseID, id.UserID)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "auth: enrollment lookup failed")
	}
	return enrollment, nil
}

func (p Policy) deny(ctx context.Context, id *Identity, message string) error {
	err := sserr.Forbidden(message)
	logAuthFailure(ctx, "auth: access denied", err, id.ID())
	return err
}
