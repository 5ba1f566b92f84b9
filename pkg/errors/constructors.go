package errors

import (
	"errors"
	"fmt"
)

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a code and message. It returns nil when err is nil.
//
// Example:
//
//	row := store.QueryRow(ctx, sql, id)
//	if err := row.Scan(&u.ID); err != nil {
//	    return errors.Wrap(err, errors.CodeInternalDatabase, "failed to load user")
//	}
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf wraps err with a formatted message. It returns nil when err is nil.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// Validation creates a VAL_001 error.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// Validationf creates a VAL_001 error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// NotFound creates an NF_001 error.
func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

// Unauthorized creates an AUTH_001 error.
func Unauthorized(message string) *Error {
	return New(CodeAuthentication, message)
}

// AuthenticationRequired creates the AUTH_004 error returned when a request
// carries neither trusted headers nor a valid bearer token.
func AuthenticationRequired() *Error {
	return New(CodeAuthenticationRequired, "Valid JWT token or trusted header required")
}

// Forbidden creates an AUTHZ_002 error.
func Forbidden(message string) *Error {
	return New(CodeAuthorizationDenied, message)
}

// Forbiddenf creates an AUTHZ_002 error with a formatted message.
func Forbiddenf(format string, args ...any) *Error {
	return Newf(CodeAuthorizationDenied, format, args...)
}

// Internal creates an INT_001 error.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// Unavailable creates an UNAVAIL_001 error.
func Unavailable(message string) *Error {
	return New(CodeUnavailable, message)
}

// FromError converts err to an *Error. Errors that are not already platform
// errors are wrapped as INT_001 so their text never reaches clients.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, CodeInternal, "an unexpected error occurred")
}
