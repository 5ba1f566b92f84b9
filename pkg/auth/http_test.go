package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

// echoIdentity writes the resolved identity, correlation id and action.
func echoIdentity(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := IdentityFromContext(r.Context())
		WriteJSON(w, http.StatusOK, map[string]any{
			"identity":       id,
			"correlation_id": CorrelationIDFromContext(r.Context()),
			"action":         ActionFromContext(r.Context()),
		})
	})
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestMiddleware_AttachesIdentity(t *testing.T) {
	t.Parallel()

	handler := Middleware(NewResolver(&fakeValidator{claims: accessClaimSet()}))(echoIdentity(t))
	req := httptest.NewRequest(http.MethodGet, "/api/courses/", nil)
	req.Header.Set(HeaderAuthorization, "Bearer tok")
	req.Header.Set(HeaderRequestID, "req-123")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get(HeaderRequestID))

	var body struct {
		Identity      *Identity `json:"identity"`
		CorrelationID string    `json:"correlation_id"`
		Action        string    `json:"action"`
	}
	decodeBody(t, rec, &body)
	require.NotNil(t, body.Identity)
	assert.Equal(t, int64(42), body.Identity.UserID)
	assert.Equal(t, SourceJWT, body.Identity.Source)
	assert.Equal(t, "req-123", body.CorrelationID)
	assert.Equal(t, "GET /api/courses/", body.Action)
}

func TestMiddleware_GeneratesCorrelationID(t *testing.T) {
	t.Parallel()

	handler := Middleware(NewResolver(nil))(echoIdentity(t))

	for _, incoming := range []string{"", strings.Repeat("x", maxRequestIDLength+1)} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if incoming != "" {
			req.Header.Set(HeaderRequestID, incoming)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		id := rec.Header().Get(HeaderRequestID)
		assert.Len(t, id, 36, "a UUID replaces a missing or oversized request id")
		assert.NotEqual(t, incoming, id)
	}
}

func TestMiddleware_NeverRejects(t *testing.T) {
	t.Parallel()

	v := &fakeValidator{err: sserr.New(sserr.CodeAuthenticationExpired, "auth: token has expired")}
	handler := Middleware(NewResolver(v))(echoIdentity(t))
	req := httptest.NewRequest(http.MethodGet, "/public", nil)
	req.Header.Set(HeaderAuthorization, "Bearer expired")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuthentication(t *testing.T) {
	t.Parallel()

	protected := Middleware(NewResolver(nil))(RequireAuthentication(echoIdentity(t)))

	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/user/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Bearer realm="ava"`, rec.Header().Get("WWW-Authenticate"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body ErrorBody
	decodeBody(t, rec, &body)
	assert.Equal(t, ErrorBody{
		Error:   "Authentication required",
		Message: "Valid JWT token or trusted header required",
		Code:    "AUTHENTICATION_REQUIRED",
	}, body)

	req := httptest.NewRequest(http.MethodGet, "/api/user/", nil)
	req.Header.Set(HeaderUserID, "5")
	rec = httptest.NewRecorder()
	protected.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRole(t *testing.T) {
	t.Parallel()

	protected := Middleware(NewResolver(nil))(RequireRole(InstructorOnly)(echoIdentity(t)))

	tests := []struct {
		name   string
		userID string
		roles  string
		status int
	}{
		{name: "anonymous", status: http.StatusUnauthorized},
		{name: "student", userID: "5", roles: "student", status: http.StatusForbidden},
		{name: "instructor", userID: "5", roles: `["instructor"]`, status: http.StatusOK},
		{name: "owner", userID: "5", roles: "owner", status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodPost, "/api/courses/", nil)
			if tt.userID != "" {
				req.Header.Set(HeaderUserID, tt.userID)
				req.Header.Set(HeaderUserRoles, tt.roles)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)

			if tt.status == http.StatusForbidden {
				var body ErrorBody
				decodeBody(t, rec, &body)
				assert.Equal(t, "INSUFFICIENT_PERMISSIONS", body.Code)
				assert.Equal(t, "Insufficient permissions", body.Error)
				assert.Empty(t, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestWriteError_HidesInternalDetails(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)

	rec := httptest.NewRecorder()
	WriteError(rec, req, errors.New("pq: password authentication failed for user ava"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ErrorBody
	decodeBody(t, rec, &body)
	assert.Equal(t, "INTERNAL_ERROR", body.Code)
	assert.Equal(t, "An internal error occurred", body.Message)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = httptest.NewRecorder()
	WriteError(rec, req, sserr.New(sserr.CodeValidation, "email is required"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	decodeBody(t, rec, &body)
	assert.Equal(t, "VALIDATION_ERROR", body.Code)
	assert.Equal(t, "email is required", body.Message)

	rec = httptest.NewRecorder()
	WriteError(rec, req, sserr.New(sserr.CodeValidationRequired, "email and password are required").
		WithDetail(DetailFields, map[string]string{"password": "This field is required."}))
	body = ErrorBody{}
	decodeBody(t, rec, &body)
	assert.Equal(t, map[string]string{"password": "This field is required."}, body.Fields)

	rec = httptest.NewRecorder()
	WriteError(rec, req, sserr.New(sserr.CodeAuthenticationExpired, "auth: token has expired"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	decodeBody(t, rec, &body)
	assert.Equal(t, "TOKEN_EXPIRED", body.Code)
}
