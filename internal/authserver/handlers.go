package authserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/ava-platform/ava-core/pkg/auth"
	sserr "github.com/ava-platform/ava-core/pkg/errors"
	"github.com/ava-platform/ava-core/pkg/lifecycle"
	"github.com/ava-platform/ava-core/pkg/users"
)

const fieldRequired = "This field is required."

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Message string        `json:"message"`
	Access  string        `json:"access"`
	Refresh string        `json:"refresh"`
	User    users.Profile `json:"user"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

type userResponse struct {
	User users.Profile `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type registerRequest struct {
	Email           string `json:"email"`
	Username        string `json:"username"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm"`
}

type registerResponse struct {
	Message string        `json:"message"`
	User    users.Profile `json:"user"`
}

type changePasswordRequest struct {
	OldPassword        string `json:"old_password"`
	NewPassword        string `json:"new_password"`
	NewPasswordConfirm string `json:"new_password_confirm"`
}

// profileRequest carries the editable fields only; email and username in
// the body are ignored.
type profileRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		auth.WriteError(w, r, err)
		return
	}
	user, err := s.deps.Accounts.Register(r.Context(), users.Registration{
		Email:           req.Email,
		Username:        req.Username,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
	})
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}
	auth.WriteJSON(w, http.StatusCreated, registerResponse{
		Message: "User created successfully",
		User:    user.Profile(),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		auth.WriteError(w, r, err)
		return
	}

	user, err := s.deps.Authn.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}
	pair, err := s.deps.Tokens.IssueTokens(r.Context(), user.Subject())
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}

	auth.WriteJSON(w, http.StatusOK, loginResponse{
		Message: "Login successful",
		Access:  pair.Access,
		Refresh: pair.Refresh,
		User:    user.Profile(),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token, err := readRefreshToken(w, r)
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}
	pair, err := s.deps.Tokens.Refresh(r.Context(), token)
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}
	auth.WriteJSON(w, http.StatusOK, pair)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, err := readRefreshToken(w, r)
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}
	if err := s.deps.Tokens.Revoke(r.Context(), token); err != nil {
		auth.WriteError(w, r, err)
		return
	}
	auth.WriteJSON(w, http.StatusOK, messageResponse{Message: "Logout successful"})
}

// currentUser loads the active account behind the request's identity.
func (s *Server) currentUser(r *http.Request) (*users.User, error) {
	identity := auth.MustIdentityFromContext(r.Context())
	user, err := s.deps.Users.GetByID(r.Context(), identity.UserID)
	if sserr.HasCode(err, sserr.CodeNotFoundUser) {
		// The token outlived its account.
		return nil, sserr.New(sserr.CodeAuthenticationInvalid, "user no longer exists")
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, sserr.New(sserr.CodeAuthenticationCredentials, "account is disabled")
	}
	return user, nil
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}
	auth.WriteJSON(w, http.StatusOK, userResponse{User: user.Profile()})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}
	auth.WriteJSON(w, http.StatusOK, user.Profile())
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		auth.WriteError(w, r, err)
		return
	}
	updated, err := s.deps.Accounts.UpdateProfile(r.Context(), user, users.ProfileUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}
	auth.WriteJSON(w, http.StatusOK, updated.Profile())
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	user, err := s.currentUser(r)
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		auth.WriteError(w, r, err)
		return
	}
	err = s.deps.Accounts.ChangePassword(r.Context(), user, users.PasswordChange{
		OldPassword:        req.OldPassword,
		NewPassword:        req.NewPassword,
		NewPasswordConfirm: req.NewPasswordConfirm,
	})
	if err != nil {
		auth.WriteError(w, r, err)
		return
	}
	auth.WriteJSON(w, http.StatusOK, messageResponse{Message: "Password changed successfully"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		auth.WriteJSON(w, http.StatusOK, map[string]string{"status": lifecycle.StatusOK})
		return
	}
	report := s.deps.Health.Report(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	auth.WriteJSON(w, status, report)
}

func readRefreshToken(w http.ResponseWriter, r *http.Request) (string, error) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return "", err
	}
	token := strings.TrimSpace(req.Refresh)
	if token == "" {
		return "", sserr.New(sserr.CodeValidationRequired, "refresh token is required").
			WithDetail(auth.DetailFields, map[string]string{"refresh": fieldRequired})
	}
	return token, nil
}

// decodeJSON reads a bounded JSON object body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, DefaultMaxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	var tooLarge *http.MaxBytesError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		// An empty body is an empty object; field checks report what is missing.
		return nil
	case errors.As(err, &tooLarge):
		return sserr.New(sserr.CodeValidation, "request body is too large")
	default:
		return sserr.Wrap(err, sserr.CodeValidationFormat, "request body must be a JSON object")
	}
}
