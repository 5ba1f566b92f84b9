package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

// maxRequestIDLength bounds an incoming X-Request-Id before it is reused
// as the correlation id.
const maxRequestIDLength = 128

// Middleware resolves the caller of every request and stores the
// identity, a correlation id and the action ("METHOD /path") in the
// request context. It never rejects a request; guard handlers with
// [RequireAuthentication] or [RequireRole].
//
// The correlation id is taken from X-Request-Id when present, otherwise a
// new UUID, and is echoed on the response.
//
// Example:
//
//	mux := http.NewServeMux()
//	mux.Handle("GET /api/courses/", auth.RequireAuthentication(listCourses))
//	handler := auth.Middleware(resolver)(mux)
func Middleware(resolver *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := r.Header.Get(HeaderRequestID)
			if correlationID == "" || len(correlationID) > maxRequestIDLength {
				correlationID = uuid.NewString()
			}
			w.Header().Set(HeaderRequestID, correlationID)

			ctx := ContextWithCorrelationID(r.Context(), correlationID)
			ctx = ContextWithAction(ctx, r.Method+" "+r.URL.Path)
			if identity, ok := resolver.Resolve(ctx, r.Header); ok {
				ctx = ContextWithIdentity(ctx, identity)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuthentication answers 401 AUTHENTICATION_REQUIRED unless
// [Middleware] attached an identity.
func RequireAuthentication(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		if err := (Policy{}).Authenticated(r.Context(), identity); err != nil {
			WriteError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole answers 401 without an identity and 403
// INSUFFICIENT_PERMISSIONS when the identity holds none of roles.
func RequireRole(roles RoleSet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, _ := IdentityFromContext(r.Context())
			if err := (Policy{}).RoleIn(r.Context(), identity, roles); err != nil {
				WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ErrorBody is the JSON error document returned to clients. It never
// carries causes.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`

	// Fields lists per-field problems of a validation error.
	Fields map[string]string `json:"fields,omitempty"`
}

// DetailFields is the sserr detail key whose map[string]string value is
// rendered as [ErrorBody.Fields].
const DetailFields = "fields"

// WriteError writes err as an [ErrorBody] with the status of its category.
// Errors that are not platform errors become a generic 500. 401 responses
// carry a Bearer challenge.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	e := sserr.FromError(err)
	status := e.HTTPStatus()
	message := e.Message
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "auth: request failed",
			"action", ActionFromContext(r.Context()),
			"correlation_id", CorrelationIDFromContext(r.Context()),
			"code", string(e.Code),
			"error", err,
		)
		message = "An internal error occurred"
	}

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="ava"`)
	}
	body := ErrorBody{Error: e.Title(), Message: message, Code: e.PublicCode()}
	if fields, ok := e.Details[DetailFields].(map[string]string); ok && status < http.StatusInternalServerError {
		body.Fields = fields
	}
	WriteJSON(w, status, body)
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
