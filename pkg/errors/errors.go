// Package errors defines the structured error type shared by the AVA auth
// core and the services built on it.
//
// Every error carries a stable code of the form CATEGORY_NNN. The category
// selects the HTTP status (AUTH is 401, AUTHZ is 403, INT is 500), and
// each code maps to the public code sent to API clients in error bodies:
//
//	{"error": "Authentication required",
//	 "message": "Valid JWT token or trusted header required",
//	 "code": "AUTHENTICATION_REQUIRED"}
//
// Causes are kept for logs and errors.Is/As but never rendered to clients.
//
// # Usage
//
//	err := errors.Wrap(err, errors.CodeInternalKeyGeneration, "failed to generate RSA key pair")
//
//	if e, ok := errors.AsError(err); ok {
//	    slog.WarnContext(ctx, "auth: request rejected",
//	        "code", e.Code,
//	        "public_code", e.PublicCode(),
//	    )
//	}
package errors
