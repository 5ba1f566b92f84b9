package auth

import (
	"context"
	"sync"
	"time"

	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

// DefaultRevocationPrefix namespaces revoked token ids in Redis.
const DefaultRevocationPrefix = "ava:auth:revoked:"

// RevocationStore blacklists token ids (jti) until the token would have
// expired anyway.
type RevocationStore interface {
	// Revoke blacklists jti until the given time. It reports false when jti
	// was already revoked, which makes it usable as a single-use guard.
	Revoke(ctx context.Context, jti string, until time.Time) (bool, error)

	// IsRevoked reports whether jti is blacklisted.
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// ---------------------------------------------------------------------------
// MemoryRevocationStore
// ---------------------------------------------------------------------------

// MemoryRevocationStore keeps revocations in process. It suits a single
// issuer replica and tests.
type MemoryRevocationStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevocationStore returns an empty store.
func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{entries: make(map[string]time.Time), now: time.Now}
}

// Revoke implements RevocationStore.
func (s *MemoryRevocationStore) Revoke(_ context.Context, jti string, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, exp := range s.entries {
		if !exp.After(now) {
			delete(s.entries, id)
		}
	}
	if _, ok := s.entries[jti]; ok {
		return false, nil
	}
	s.entries[jti] = until
	return true, nil
}

// IsRevoked implements RevocationStore.
func (s *MemoryRevocationStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.entries[jti]
	return ok && exp.After(s.now()), nil
}

// ---------------------------------------------------------------------------
// RedisRevocationStore
// ---------------------------------------------------------------------------

// RevocationRedis is the subset of the traced Redis client used for
// revocations. *redis.Client from pkg/clients/redis satisfies it.
type RevocationRedis interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error)
	Exists(ctx context.Context, keys ...string) (int64, error)
}

// RedisRevocationStore shares revocations between issuer replicas. Each
// revoked jti is a key that expires with the token.
type RedisRevocationStore struct {
	client RevocationRedis
	prefix string
	now    func() time.Time
}

// NewRedisRevocationStore returns a store writing keys under prefix. An
// empty prefix selects [DefaultRevocationPrefix].
func NewRedisRevocationStore(client RevocationRedis, prefix string) *RedisRevocationStore {
	if prefix == "" {
		prefix = DefaultRevocationPrefix
	}
	return &RedisRevocationStore{client: client, prefix: prefix, now: time.Now}
}

// Revoke implements RevocationStore using SETNX, so two replicas rotating
// the same refresh token concurrently cannot both succeed.
func (s *RedisRevocationStore) Revoke(ctx context.Context, jti string, until time.Time) (bool, error) {
	ttl := until.Sub(s.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	stored, err := s.client.SetNX(ctx, s.prefix+jti, until.Unix(), ttl)
	if err != nil {
		return false, sserr.Wrap(err, sserr.CodeUnavailableDependency, "auth: failed to revoke token")
	}
	return stored, nil
}

// IsRevoked implements RevocationStore.
func (s *RedisRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+jti)
	if err != nil {
		return false, sserr.Wrap(err, sserr.CodeUnavailableDependency, "auth: failed to check token revocation")
	}
	return n > 0, nil
}
