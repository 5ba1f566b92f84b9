package keys

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ava-platform/ava-core/pkg/clients/redis"
	"github.com/ava-platform/ava-core/pkg/config"
)

// RedisStore is the subset of *redis.Client used by RedisSource.
type RedisStore interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
}

var _ RedisStore = (*redis.Client)(nil)

// RedisSource shares key material between issuer replicas. The first
// replica to generate a pair wins via SETNX; the others adopt it.
type RedisSource struct {
	client RedisStore
	key    string
}

// NewRedisSource stores material under key (DefaultRedisKey when empty).
func NewRedisSource(client RedisStore, key string) *RedisSource {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSource{client: client, key: key}
}

// storedMaterial is the wire form. Material.PrivateKeyPEM redacts itself
// when marshaled, so the plaintext is copied out explicitly.
type storedMaterial struct {
	PrivateKeyPEM string `json:"private_key"`
	PublicKeyPEM  string `json:"public_key"`
	KeyID         string `json:"kid"`
}

// Load returns the shared material or ErrNoKeyMaterial.
func (s *RedisSource) Load(ctx context.Context) (*Material, error) {
	raw, err := s.client.Get(ctx, s.key)
	if err != nil {
		if redis.IsNil(err) {
			return nil, ErrNoKeyMaterial
		}
		return nil, err
	}
	var sm storedMaterial
	if err := json.Unmarshal([]byte(raw), &sm); err != nil {
		return nil, fmt.Errorf("keys: decode stored material: %w", err)
	}
	return &Material{
		PrivateKeyPEM: config.Secret(sm.PrivateKeyPEM),
		PublicKeyPEM:  sm.PublicKeyPEM,
		KeyID:         sm.KeyID,
	}, nil
}

// Store writes m if no material exists yet; otherwise it returns the
// material another replica stored first.
func (s *RedisSource) Store(ctx context.Context, m Material) (*Material, error) {
	raw, err := json.Marshal(storedMaterial{
		PrivateKeyPEM: m.PrivateKeyPEM.Value(),
		PublicKeyPEM:  m.PublicKeyPEM,
		KeyID:         m.KeyID,
	})
	if err != nil {
		return nil, fmt.Errorf("keys: encode material: %w", err)
	}
	stored, err := s.client.SetNX(ctx, s.key, string(raw), 0)
	if err != nil {
		return nil, err
	}
	if stored {
		return &m, nil
	}
	return s.Load(ctx)
}
