package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ava-platform/ava-core/internal/testutil"
	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

func TestMemoryRevocationStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryRevocationStore()
	clock := newFakeClock()
	store.now = clock.Now

	ok, err := store.Revoke(ctx, "jti-1", clock.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Revoke(ctx, "jti-1", clock.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "second revocation of the same jti")

	revoked, err := store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = store.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, revoked)

	clock.Advance(2 * time.Minute)
	revoked, err = store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked, "entries lapse with the token")

	ok, err = store.Revoke(ctx, "jti-3", clock.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, store.entries, 1, "expired entries are purged on write")
}

// fakeRevocationRedis is an in-memory RevocationRedis.
type fakeRevocationRedis struct {
	mu   sync.Mutex
	data map[string]time.Duration
	err  error
}

func newFakeRevocationRedis() *fakeRevocationRedis {
	return &fakeRevocationRedis{data: map[string]time.Duration{}}
}

func (f *fakeRevocationRedis) SetNX(_ context.Context, key string, _ interface{}, expiration time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = expiration
	return true, nil
}

func (f *fakeRevocationRedis) Exists(_ context.Context, keys ...string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			n++
		}
	}
	return n, nil
}

func TestRedisRevocationStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newFakeRevocationRedis()
	store := NewRedisRevocationStore(client, "")
	now := time.Now()
	store.now = func() time.Time { return now }

	ok, err := store.Revoke(ctx, "jti-1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, client.data[DefaultRevocationPrefix+"jti-1"])

	ok, err = store.Revoke(ctx, "jti-1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)

	revoked, err := store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = store.IsRevoked(ctx, "other")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestRedisRevocationStore_MinimumTTL(t *testing.T) {
	t.Parallel()

	client := newFakeRevocationRedis()
	store := NewRedisRevocationStore(client, "test:")
	now := time.Now()
	store.now = func() time.Time { return now }

	_, err := store.Revoke(context.Background(), "late", now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, time.Second, client.data["test:late"])
}

func TestRedisRevocationStore_Errors(t *testing.T) {
	t.Parallel()

	client := newFakeRevocationRedis()
	client.err = errors.New("connection refused")
	store := NewRedisRevocationStore(client, "")

	_, err := store.Revoke(context.Background(), "jti", time.Now().Add(time.Hour))
	testutil.AssertErrorCode(t, err, sserr.CodeUnavailableDependency)

	_, err = store.IsRevoked(context.Background(), "jti")
	testutil.AssertErrorCode(t, err, sserr.CodeUnavailableDependency)
}

func TestIssuer_WithRedisRevocations_ReplicasShareBlacklist(t *testing.T) {
	t.Parallel()

	client := newFakeRevocationRedis()
	manager := newKeyManager(t)
	a := newTestIssuer(t, DefaultIssuerConfig(), manager, NewRedisRevocationStore(client, ""))
	b := newTestIssuer(t, DefaultIssuerConfig(), manager, NewRedisRevocationStore(client, ""))

	pair, err := a.IssueTokens(context.Background(), testSubject())
	require.NoError(t, err)

	_, err = a.Refresh(context.Background(), pair.Refresh)
	require.NoError(t, err)
	_, err = b.Refresh(context.Background(), pair.Refresh)
	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationRevoked)
}
