package keys

import (
	"context"
	"crypto/rsa"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

const tracerName = "github.com/ava-platform/ava-core/pkg/keys"

// Manager owns the active signing key pair. It is safe for concurrent use.
type Manager struct {
	cfg    Config
	source Source
	random io.Reader
	tracer trace.Tracer

	current atomic.Pointer[KeyPair]
	// mu serializes the load-or-generate path.
	mu sync.Mutex
}

// Option customizes a Manager.
type Option func(*Manager)

// WithRandom sets the entropy source used for key generation.
func WithRandom(r io.Reader) Option {
	return func(m *Manager) { m.random = r }
}

// NewManager returns a Manager for cfg. Material configured in cfg takes
// precedence over source; source is consulted, and written to, only when
// cfg carries no private key. A nil source keeps generated material in
// memory.
//
// Example:
//
//	mgr, err := keys.NewManager(cfg, keys.NewRedisSource(rdb, cfg.RedisKey))
//	if err != nil {
//	    return err
//	}
//	pair, err := mgr.GetOrCreateKeyPair(ctx)
func NewManager(cfg Config, source Source, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		source = NewStaticSource()
	}
	m := &Manager{
		cfg:    cfg,
		source: source,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// GetOrCreateKeyPair returns the active key pair, loading or generating it
// on first use. Repeated calls return the same *KeyPair.
//
// Errors carry [sserr.CodeInternalKeyGeneration]. A failed attempt is not
// cached, so the next call retries.
func (m *Manager) GetOrCreateKeyPair(ctx context.Context) (*KeyPair, error) {
	if kp := m.current.Load(); kp != nil {
		return kp, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if kp := m.current.Load(); kp != nil {
		return kp, nil
	}

	ctx, span := m.tracer.Start(ctx, "keys.GetOrCreateKeyPair")
	defer span.End()

	kp, origin, err := m.resolve(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("keys.kid", kp.KeyID()),
		attribute.String("keys.origin", origin),
	)
	slog.InfoContext(ctx, "keys: signing key pair ready", "kid", kp.KeyID(), "origin", origin)

	m.current.Store(kp)
	return kp, nil
}

func (m *Manager) resolve(ctx context.Context) (*KeyPair, string, error) {
	if mat := m.cfg.configured(); mat != nil {
		kp, err := mat.Parse()
		if err != nil {
			return nil, "", sserr.Wrap(err, sserr.CodeInternalKeyGeneration,
				"keys: configured key pair is invalid")
		}
		return kp, "config", nil
	}

	mat, err := m.source.Load(ctx)
	switch {
	case err == nil:
		kp, err := m.parse(*mat)
		if err != nil {
			return nil, "", sserr.Wrap(err, sserr.CodeInternalKeyGeneration,
				"keys: stored key pair is invalid")
		}
		return kp, "store", nil
	case !errors.Is(err, ErrNoKeyMaterial):
		return nil, "", sserr.Wrap(err, sserr.CodeInternalKeyGeneration,
			"keys: failed to load key pair")
	}

	generated, err := GenerateMaterial(m.random, m.cfg.Bits, m.cfg.KeyID)
	if err != nil {
		return nil, "", sserr.Wrap(err, sserr.CodeInternalKeyGeneration,
			"keys: failed to generate RSA key pair")
	}
	stored, err := m.source.Store(ctx, *generated)
	if err != nil {
		return nil, "", sserr.Wrap(err, sserr.CodeInternalKeyGeneration,
			"keys: failed to store generated key pair")
	}
	kp, err := m.parse(*stored)
	if err != nil {
		return nil, "", sserr.Wrap(err, sserr.CodeInternalKeyGeneration,
			"keys: stored key pair is invalid")
	}
	if stored.PublicKeyPEM != generated.PublicKeyPEM {
		return kp, "store", nil
	}
	return kp, "generated", nil
}

func (m *Manager) parse(mat Material) (*KeyPair, error) {
	if mat.KeyID == "" {
		mat.KeyID = m.cfg.KeyID
	}
	return mat.Parse()
}

// JWKS returns the public key set for the active key pair. Errors carry
// [sserr.CodeInternalKeyUnavailable].
//
// Example:
//
//	set, err := mgr.JWKS(ctx)
//	if err != nil {
//	    return err
//	}
//	w.Header().Set("Cache-Control", "public, max-age=3600")
//	_ = json.NewEncoder(w).Encode(set)
func (m *Manager) JWKS(ctx context.Context) (*JWKSet, error) {
	kp, err := m.GetOrCreateKeyPair(ctx)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalKeyUnavailable, "keys: public key unavailable")
	}
	pub, err := ParsePublicKeyPEM(kp.PublicKeyPEM)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalKeyUnavailable, "keys: public key unavailable")
	}
	return &JWKSet{Keys: []JWK{EncodeRSAPublicKey(kp.KeyID(), pub)}}, nil
}

// PublicKeys returns the verification keys by kid. The issuer uses it as a
// local trust anchor so it never fetches its own key set over HTTP.
func (m *Manager) PublicKeys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	kp, err := m.GetOrCreateKeyPair(ctx)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalKeyUnavailable, "keys: public key unavailable")
	}
	return map[string]*rsa.PublicKey{kp.KeyID(): kp.PublicKey()}, nil
}
