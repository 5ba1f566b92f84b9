package errors

// Code is a machine-readable error code of the form CATEGORY_NNN, where
// CATEGORY selects the HTTP status family (see Error.HTTPStatus) and NNN
// distinguishes the failure inside it. Codes are stable once assigned.
type Code string

// Categories:
//
//	VAL_xxx     - 400 Bad Request
//	AUTH_xxx    - 401 Unauthorized
//	AUTHZ_xxx   - 403 Forbidden
//	NF_xxx      - 404 Not Found
//	INT_xxx     - 500 Internal Server Error
//	UNAVAIL_xxx - 503 Service Unavailable
//	TIMEOUT_xxx - 504 Gateway Timeout
const (
	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// CodeValidationFormat indicates a field has an invalid format.
	CodeValidationFormat Code = "VAL_003"

	// CodeAuthentication indicates a general authentication failure.
	CodeAuthentication Code = "AUTH_001"

	// CodeAuthenticationExpired indicates the token's exp has passed.
	CodeAuthenticationExpired Code = "AUTH_002"

	// CodeAuthenticationInvalid indicates the token is malformed, has a bad
	// signature, or carries the wrong audience, issuer, or type.
	CodeAuthenticationInvalid Code = "AUTH_003"

	// CodeAuthenticationRequired indicates no usable credential was supplied.
	CodeAuthenticationRequired Code = "AUTH_004"

	// CodeAuthenticationKeyNotFound indicates the token's kid is not in the
	// trusted key set, even after a refresh.
	CodeAuthenticationKeyNotFound Code = "AUTH_005"

	// CodeAuthenticationUnavailable indicates the key set could not be
	// obtained, so no token can be verified. Requests fail closed.
	CodeAuthenticationUnavailable Code = "AUTH_006"

	// CodeAuthenticationCredentials indicates a login with an unknown email,
	// a wrong password, or a disabled account.
	CodeAuthenticationCredentials Code = "AUTH_007"

	// CodeAuthenticationRevoked indicates a refresh token whose jti has been
	// revoked by rotation.
	CodeAuthenticationRevoked Code = "AUTH_008"

	// CodeAuthorization indicates a general authorization failure.
	CodeAuthorization Code = "AUTHZ_001"

	// CodeAuthorizationDenied indicates the identity's roles or enrollments
	// do not grant the requested action.
	CodeAuthorizationDenied Code = "AUTHZ_002"

	// CodeNotFound indicates a general not found error.
	CodeNotFound Code = "NF_001"

	// CodeNotFoundUser indicates the requested user was not found.
	CodeNotFoundUser Code = "NF_002"

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalDatabase indicates a database or cache operation failed.
	CodeInternalDatabase Code = "INT_002"

	// CodeInternalConfiguration indicates a configuration error.
	CodeInternalConfiguration Code = "INT_003"

	// CodeInternalKeyGeneration indicates the signing key pair could not be
	// generated, loaded, or persisted.
	CodeInternalKeyGeneration Code = "INT_004"

	// CodeInternalKeyUnavailable indicates the public key could not be
	// loaded or encoded for publication.
	CodeInternalKeyUnavailable Code = "INT_005"

	// CodeInternalSigning indicates neither the RSA key nor the fallback
	// secret could sign a token.
	CodeInternalSigning Code = "INT_006"

	// CodeUnavailable indicates a general service unavailable error.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableDependency indicates a dependent service is unavailable.
	CodeUnavailableDependency Code = "UNAVAIL_002"

	// CodeTimeout indicates a general timeout error.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutDatabase indicates a database operation timed out.
	CodeTimeoutDatabase Code = "TIMEOUT_002"

	// CodeTimeoutDependency indicates a call to a dependent service timed out.
	CodeTimeoutDependency Code = "TIMEOUT_003"
)

// publicCodes maps internal codes to the codes carried in API error bodies.
// Codes absent from the map fall back to a per-category default.
var publicCodes = map[Code]string{
	CodeValidationRequired:        "REQUIRED_FIELD",
	CodeAuthentication:            "INVALID_TOKEN",
	CodeAuthenticationExpired:     "TOKEN_EXPIRED",
	CodeAuthenticationInvalid:     "INVALID_TOKEN",
	CodeAuthenticationRequired:    "AUTHENTICATION_REQUIRED",
	CodeAuthenticationKeyNotFound: "SIGNING_KEY_NOT_FOUND",
	CodeAuthenticationUnavailable: "TOKEN_VALIDATION_UNAVAILABLE",
	CodeAuthenticationCredentials: "INVALID_CREDENTIALS",
	CodeAuthenticationRevoked:     "TOKEN_REVOKED",
	CodeInternalKeyGeneration:     "KEY_GENERATION_FAILED",
	CodeInternalKeyUnavailable:    "KEY_UNAVAILABLE",
	CodeInternalSigning:           "SIGNING_FAILED",
}

var categoryPublicCodes = map[string]string{
	"VAL":     "VALIDATION_ERROR",
	"AUTH":    "AUTHENTICATION_REQUIRED",
	"AUTHZ":   "INSUFFICIENT_PERMISSIONS",
	"NF":      "NOT_FOUND",
	"INT":     "INTERNAL_ERROR",
	"UNAVAIL": "SERVICE_UNAVAILABLE",
	"TIMEOUT": "TIMEOUT",
}

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the category prefix of the error code (e.g., "VAL", "AUTH").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}

// Public returns the code exposed to API clients, e.g.
// "AUTHENTICATION_REQUIRED" or "INSUFFICIENT_PERMISSIONS".
func (c Code) Public() string {
	if p, ok := publicCodes[c]; ok {
		return p
	}
	if p, ok := categoryPublicCodes[c.Category()]; ok {
		return p
	}
	return "INTERNAL_ERROR"
}
