package users

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ava-platform/ava-core/pkg/auth"
	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

// Authenticator checks email and password credentials against a Store.
type Authenticator struct {
	store Store
	now   func() time.Time
}

// NewAuthenticator returns an Authenticator reading accounts from store.
func NewAuthenticator(store Store) *Authenticator {
	return &Authenticator{store: store, now: time.Now}
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// burnPasswordCheck spends the time of a real bcrypt comparison so that
// unknown emails and wrong passwords take equally long.
func burnPasswordCheck(password string) {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("ava-unknown-account"), bcrypt.DefaultCost)
	})
	_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
}

// Login returns the account identified by email and password.
//
// Error codes returned:
//   - [sserr.CodeValidationRequired]: email or password is empty; the
//     missing fields are listed under the [auth.DetailFields] detail
//   - [sserr.CodeAuthenticationCredentials]: unknown email, wrong password,
//     or a disabled account
//   - database codes from the store
func (a *Authenticator) Login(ctx context.Context, email, password string) (*User, error) {
	email = strings.TrimSpace(email)
	missing := map[string]string{}
	if email == "" {
		missing["email"] = "This field is required."
	}
	if password == "" {
		missing["password"] = "This field is required."
	}
	if len(missing) > 0 {
		return nil, sserr.New(sserr.CodeValidationRequired, "email and password are required").
			WithDetail(auth.DetailFields, missing)
	}

	user, err := a.store.GetByEmail(ctx, email)
	if sserr.HasCode(err, sserr.CodeNotFoundUser) {
		burnPasswordCheck(password)
		return nil, a.reject(ctx, 0, "unknown_account", "invalid credentials")
	}
	if err != nil {
		return nil, err
	}
	if !user.CheckPassword(password) {
		return nil, a.reject(ctx, user.ID, "wrong_password", "invalid credentials")
	}
	if !user.IsActive {
		return nil, a.reject(ctx, user.ID, "inactive_account", "account is disabled")
	}

	if err := a.store.RecordLogin(ctx, user.ID, a.now()); err != nil {
		slog.WarnContext(ctx, "users: failed to record login", "user_id", user.ID, "error", err)
	}
	slog.InfoContext(ctx, "users: login succeeded",
		"user_id", user.ID,
		"correlation_id", auth.CorrelationIDFromContext(ctx),
	)
	return user, nil
}

func (a *Authenticator) reject(ctx context.Context, userID int64, reason, message string) error {
	slog.WarnContext(ctx, "users: login rejected",
		"event", "security.login_failed",
		"reason", reason,
		"user_id", userID,
		"correlation_id", auth.CorrelationIDFromContext(ctx),
	)
	return sserr.New(sserr.CodeAuthenticationCredentials, message)
}
