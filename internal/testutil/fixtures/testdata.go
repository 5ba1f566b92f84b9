// Package fixtures holds shared test identities and token settings so that
// tests across packages agree on the same values.
package fixtures

// Token settings matching the production defaults.
const (
	Issuer   = "ava-auth-service"
	Audience = "ava-microservices"
	KeyID    = "ava-auth-key-1"

	// SharedSecret is the HS256 secret used in tests. Long enough to pass
	// the minimum secret length check.
	SharedSecret = "test-shared-secret-0123456789abcdef"
)

// Standard user used across auth, users, and server tests.
const (
	UserID       int64 = 42
	UserEmail          = "ada@example.com"
	Username           = "ada"
	UserPassword       = "correct horse battery staple"

	InstructorID int64 = 7
	CourseID     int64 = 101
)
