// Package authserver is the HTTP surface of the AVA auth service:
// registration, login, refresh, logout, the current user and their
// profile and password, the public key set and health.
package authserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ava-platform/ava-core/pkg/auth"
	sserr "github.com/ava-platform/ava-core/pkg/errors"
	"github.com/ava-platform/ava-core/pkg/keys"
	"github.com/ava-platform/ava-core/pkg/lifecycle"
	"github.com/ava-platform/ava-core/pkg/users"
)

// Server defaults.
const (
	DefaultAddr            = ":8000"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultShutdownTimeout = 20 * time.Second
	DefaultJWKSCacheTTL    = time.Hour
	DefaultMaxBodyBytes    = 1 << 20
)

// Config is the listener configuration. Env names are relative to the
// enclosing prefix (AVA_HTTP_ADDR in the auth service).
type Config struct {
	Addr            string        `json:"addr" yaml:"addr" env:"ADDR" envDefault:":8000"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout" env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout" env:"WRITE_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" envDefault:"20s"`
	JWKSCacheTTL    time.Duration `json:"jwks_cache_ttl" yaml:"jwks_cache_ttl" env:"JWKS_CACHE_TTL" envDefault:"1h"`
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.JWKSCacheTTL <= 0 {
		c.JWKSCacheTTL = DefaultJWKSCacheTTL
	}
}

// KeySet produces the public key set. *keys.Manager satisfies it.
type KeySet interface {
	JWKS(ctx context.Context) (*keys.JWKSet, error)
}

// Tokens mints, rotates and revokes token pairs. *auth.Issuer satisfies it.
type Tokens interface {
	IssueTokens(ctx context.Context, sub auth.Subject) (*auth.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
	Revoke(ctx context.Context, refreshToken string) error
}

// Authenticator checks credentials. *users.Authenticator satisfies it.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*users.User, error)
}

// AccountManager applies self-service account changes. *users.Accounts
// satisfies it.
type AccountManager interface {
	Register(ctx context.Context, reg users.Registration) (*users.User, error)
	ChangePassword(ctx context.Context, user *users.User, req users.PasswordChange) error
	UpdateProfile(ctx context.Context, user *users.User, upd users.ProfileUpdate) (*users.User, error)
}

// UserLookup loads the account behind an identity. users.Store satisfies
// it.
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*users.User, error)
}

// HealthReporter produces the /healthz body. *lifecycle.Service satisfies
// it.
type HealthReporter interface {
	Report(ctx context.Context) lifecycle.Report
}

// Deps are the collaborators of a Server. Health and Mirror are optional.
type Deps struct {
	Keys     KeySet
	Tokens   Tokens
	Authn    Authenticator
	Accounts AccountManager
	Users    UserLookup
	Resolver *auth.Resolver
	Health   HealthReporter
	Mirror   *JWKSMirror
}

// Server serves the auth API. It is safe for concurrent use.
type Server struct {
	cfg  Config
	deps Deps
	jwks *jwksDocument

	mu  sync.Mutex
	srv *http.Server
}

// New returns a Server. Every dependency except Health and Mirror is
// required.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Keys == nil || deps.Tokens == nil || deps.Authn == nil || deps.Accounts == nil ||
		deps.Users == nil || deps.Resolver == nil {
		return nil, sserr.New(sserr.CodeInternalConfiguration, "authserver: missing dependency")
	}
	cfg.applyDefaults()
	return &Server{
		cfg:  cfg,
		deps: deps,
		jwks: newJWKSDocument(deps.Keys, cfg.JWKSCacheTTL),
	}, nil
}

// Handler returns the routed, traced handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /.well-known/jwks.json", s.handleJWKS)
	mux.HandleFunc("GET /api/.well-known/jwks.json", s.handleJWKS)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/register/", s.handleRegister)
	mux.HandleFunc("POST /api/auth/register/", s.handleRegister)
	mux.HandleFunc("POST /api/login/", s.handleLogin)
	mux.HandleFunc("POST /api/auth/login/", s.handleLogin)
	mux.HandleFunc("POST /api/token/refresh/", s.handleRefresh)
	mux.HandleFunc("POST /api/logout/", s.handleLogout)

	authenticated := func(h http.HandlerFunc) http.Handler {
		return auth.RequireAuthentication(h)
	}
	mux.Handle("GET /api/user/", authenticated(s.handleUser))
	mux.Handle("GET /api/user/profile/", authenticated(s.handleProfile))
	mux.Handle("PATCH /api/user/profile/", authenticated(s.handleUpdateProfile))
	mux.Handle("PUT /api/user/profile/", authenticated(s.handleUpdateProfile))
	mux.Handle("POST /api/user/change-password/", authenticated(s.handleChangePassword))

	handler := auth.Middleware(s.deps.Resolver)(mux)
	return otelhttp.NewHandler(handler, "auth-service",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// InvalidateJWKS drops the cached key set so the next request rebuilds it,
// e.g. after a key rotation.
func (s *Server) InvalidateJWKS() {
	s.jwks.invalidate()
}

// PublishJWKS uploads the current key set through the configured mirror.
// It is a no-op without one.
func (s *Server) PublishJWKS(ctx context.Context) error {
	if s.deps.Mirror == nil {
		return nil
	}
	doc, err := s.jwks.get(ctx)
	if err != nil {
		return err
	}
	return s.deps.Mirror.Publish(ctx, doc)
}

// Serve accepts connections on l until Shutdown is called. It returns nil
// after a graceful shutdown.
func (s *Server) Serve(l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	slog.Info("authserver: listening", "addr", l.Addr().String())
	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return sserr.Wrap(err, sserr.CodeInternal, "authserver: serve failed")
	}
	return nil
}

// ListenAndServe listens on the configured address and serves.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternalConfiguration, "authserver: listen failed")
	}
	return s.Serve(l)
}

// Shutdown stops accepting connections and waits for in-flight requests,
// bounded by ctx and the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return sserr.Wrap(err, sserr.CodeTimeout, "authserver: graceful shutdown did not complete")
	}
	slog.InfoContext(ctx, "authserver: stopped")
	return nil
}
