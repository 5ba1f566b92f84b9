// Package testutil provides shared test helpers for the AVA auth core.
//
// Helpers accept [testing.TB] and call t.Helper() so failures point at
// the caller. Helpers that halt use testify's require; helpers that only
// record use assert.
package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ava-platform/ava-core/internal/testutil/fixtures"
	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

// RequireErrorCode halts the test unless err is an *sserr.Error carrying
// code.
//
// Example:
//
//	_, err := validator.Validate(ctx, expired)
//	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationExpired)
func RequireErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
	ssErr, ok := sserr.AsError(err)
	require.True(t, ok, "expected *sserr.Error, got %T: %v", err, err)
	require.Equal(t, code, ssErr.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		ssErr.Code, code, ssErr.Message)
}

// AssertErrorCode is the non-halting form of RequireErrorCode, for
// table-driven tests.
func AssertErrorCode(t testing.TB, err error, code sserr.Code, msgAndArgs ...any) bool {
	t.Helper()
	if !assert.Error(t, err, msgAndArgs...) {
		return false
	}
	ssErr, ok := sserr.AsError(err)
	if !assert.True(t, ok, "expected *sserr.Error, got %T: %v", err, err) {
		return false
	}
	return assert.Equal(t, code, ssErr.Code,
		"error code mismatch: got %q, want %q (message: %s)",
		ssErr.Code, code, ssErr.Message)
}

// TempFile writes content to name inside t.TempDir() with mode 0600.
func TempFile(t testing.TB, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600), "failed to write temp file %s", path)
	return path
}

// ===========================================================================
// Keys and Tokens
// ===========================================================================

var (
	sharedKeyOnce sync.Once
	sharedKey     *rsa.PrivateKey
	sharedKeyErr  error
)

// RSAKey returns a 2048-bit RSA key shared by every test in the binary.
// Generating a fresh key per test is slow; use NewRSAKey when a test needs
// a key distinct from the shared one.
func RSAKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	sharedKeyOnce.Do(func() {
		sharedKey, sharedKeyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	require.NoError(t, sharedKeyErr, "failed to generate shared RSA key")
	return sharedKey
}

// NewRSAKey generates a fresh 2048-bit RSA key.
func NewRSAKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "failed to generate RSA key")
	return key
}

// AccessClaims returns the claims of a valid access token for userID,
// issued now and expiring in an hour.
func AccessClaims(userID int64, roles ...string) jwt.MapClaims {
	if len(roles) == 0 {
		roles = []string{"student"}
	}
	now := time.Now()
	return jwt.MapClaims{
		"sub":        strconv.FormatInt(userID, 10),
		"email":      fixtures.UserEmail,
		"username":   fixtures.Username,
		"roles":      roles,
		"aud":        fixtures.Audience,
		"iss":        fixtures.Issuer,
		"iat":        now.Unix(),
		"exp":        now.Add(time.Hour).Unix(),
		"token_type": "access",
		"jti":        uuid.NewString(),
	}
}

// SignRS256 signs claims with key. An empty kid omits the header.
func SignRS256(t testing.TB, key *rsa.PrivateKey, kid string, claims jwt.Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	signed, err := tok.SignedString(key)
	require.NoError(t, err, "failed to sign RS256 token")
	return signed
}

// SignHS256 signs claims with a shared secret.
func SignHS256(t testing.TB, secret string, claims jwt.Claims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err, "failed to sign HS256 token")
	return signed
}

// JWKSServer is an httptest server publishing a fixed key set. Hits counts
// requests so tests can assert caching behaviour.
type JWKSServer struct {
	*httptest.Server
	Hits atomic.Int32

	mu       sync.Mutex
	body     []byte
	fail     bool
	failNext int
}

// ServeJWKS starts a JWKS server publishing keys by kid. The server is
// closed when the test ends.
func ServeJWKS(t testing.TB, keys map[string]*rsa.PublicKey) *JWKSServer {
	t.Helper()
	s := &JWKSServer{}
	s.SetKeys(t, keys)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.Hits.Add(1)
		s.mu.Lock()
		body, fail := s.body, s.fail
		if s.failNext > 0 {
			s.failNext--
			fail = true
		}
		s.mu.Unlock()
		if fail {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(s.Close)
	return s
}

// SetKeys replaces the published key set.
func (s *JWKSServer) SetKeys(t testing.TB, keys map[string]*rsa.PublicKey) {
	t.Helper()
	type jwk struct {
		Kty string `json:"kty"`
		Use string `json:"use"`
		Alg string `json:"alg"`
		Kid string `json:"kid"`
		N   string `json:"n"`
		E   string `json:"e"`
	}
	set := struct {
		Keys []jwk `json:"keys"`
	}{Keys: []jwk{}}
	for kid, pub := range keys {
		set.Keys = append(set.Keys, jwk{
			Kty: "RSA", Use: "sig", Alg: "RS256", Kid: kid,
			N: base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E: base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	body, err := json.Marshal(set)
	require.NoError(t, err)
	s.mu.Lock()
	s.body = body
	s.mu.Unlock()
}

// FailNext makes the next n requests answer 503.
func (s *JWKSServer) FailNext(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

// SetFailing makes the server answer 503 until called with false.
func (s *JWKSServer) SetFailing(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}
