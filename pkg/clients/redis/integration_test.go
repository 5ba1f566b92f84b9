//go:build integration

// Integration tests for the Redis client and the two auth features built on
// it: shared signing key material and the refresh token blacklist. They
// need Docker:
//
//	go test -tags=integration ./pkg/clients/redis/...
//
// One container serves the whole suite; tests isolate themselves with
// distinct key prefixes.
package redis_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ava-platform/ava-core/internal/testutil/containers"
	"github.com/ava-platform/ava-core/pkg/auth"
	"github.com/ava-platform/ava-core/pkg/clients/redis"
	sserr "github.com/ava-platform/ava-core/pkg/errors"
	"github.com/ava-platform/ava-core/pkg/keys"
)

type RedisIntegrationSuite struct {
	suite.Suite

	ctx        context.Context
	result     *containers.RedisResult
	client     *redis.Client
	connString string
}

func (s *RedisIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	result, err := containers.StartRedis(s.ctx)
	require.NoError(s.T(), err, "failed to start Redis container")
	s.result = result
	s.connString = result.ConnString

	s.client = s.newClient()
}

func (s *RedisIntegrationSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.result != nil {
		if err := s.result.Container.Terminate(s.ctx); err != nil {
			s.T().Logf("failed to terminate redis container: %v", err)
		}
	}
}

func (s *RedisIntegrationSuite) newClient() *redis.Client {
	client, err := redis.NewClient(s.ctx, redis.Config{URI: s.connString, PoolSize: 5})
	require.NoError(s.T(), err, "failed to create Redis client")
	return client
}

func TestRedisIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisIntegrationSuite))
}

// ===========================================================================
// Client
// ===========================================================================

func (s *RedisIntegrationSuite) TestHealth() {
	require.NoError(s.T(), s.client.Health(s.ctx))
}

func (s *RedisIntegrationSuite) TestSetGetDel() {
	key := "test:client:set-get"
	require.NoError(s.T(), s.client.Set(s.ctx, key, "hello", time.Minute))

	val, err := s.client.Get(s.ctx, key)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "hello", val)

	n, err := s.client.Del(s.ctx, key)
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 1, n)

	_, err = s.client.Get(s.ctx, key)
	assert.True(s.T(), redis.IsNil(err))
}

func (s *RedisIntegrationSuite) TestSetNX_FirstWriterWins() {
	key := "test:client:setnx"
	ok, err := s.client.SetNX(s.ctx, key, "first", time.Minute)
	require.NoError(s.T(), err)
	assert.True(s.T(), ok)

	ok, err = s.client.SetNX(s.ctx, key, "second", time.Minute)
	require.NoError(s.T(), err)
	assert.False(s.T(), ok)

	val, err := s.client.Get(s.ctx, key)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "first", val)
}

func (s *RedisIntegrationSuite) TestExpiredContext() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	err := s.client.Set(ctx, "test:client:timeout", "v", 0)
	require.Error(s.T(), err)
	assert.True(s.T(), sserr.HasCode(err, sserr.CodeTimeoutDatabase))
	assert.True(s.T(), sserr.IsRetryable(err))
}

func (s *RedisIntegrationSuite) TestClose() {
	client := s.newClient()
	require.NoError(s.T(), client.Health(s.ctx))
	require.NoError(s.T(), client.Close())
	assert.Error(s.T(), client.Health(s.ctx))
}

// ===========================================================================
// Shared key material
// ===========================================================================

func (s *RedisIntegrationSuite) TestKeyManagers_ShareOneKeyPair() {
	const replicas = 4
	key := "test:keys:shared"

	pairs := make([]*keys.KeyPair, replicas)
	var wg sync.WaitGroup
	for i := range replicas {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mgr, err := keys.NewManager(keys.Config{Bits: 2048}, keys.NewRedisSource(s.client, key))
			if !assert.NoError(s.T(), err) {
				return
			}
			pair, err := mgr.GetOrCreateKeyPair(s.ctx)
			if assert.NoError(s.T(), err) {
				pairs[i] = pair
			}
		}(i)
	}
	wg.Wait()

	require.NotNil(s.T(), pairs[0])
	for i := 1; i < replicas; i++ {
		require.NotNil(s.T(), pairs[i])
		assert.True(s.T(), pairs[0].PublicKey().Equal(pairs[i].PublicKey()),
			"replica %d adopted a different key pair", i)
	}
}

// ===========================================================================
// Refresh token blacklist
// ===========================================================================

func (s *RedisIntegrationSuite) TestRevocationStore_SharedBetweenReplicas() {
	prefix := fmt.Sprintf("test:revoked:%d:", time.Now().UnixNano())
	other := s.newClient()
	defer func() { _ = other.Close() }()
	a := auth.NewRedisRevocationStore(s.client, prefix)
	b := auth.NewRedisRevocationStore(other, prefix)

	first, err := a.Revoke(s.ctx, "jti-1", time.Now().Add(time.Minute))
	require.NoError(s.T(), err)
	assert.True(s.T(), first)

	again, err := b.Revoke(s.ctx, "jti-1", time.Now().Add(time.Minute))
	require.NoError(s.T(), err)
	assert.False(s.T(), again, "a second replica sees the revocation")

	revoked, err := b.IsRevoked(s.ctx, "jti-1")
	require.NoError(s.T(), err)
	assert.True(s.T(), revoked)

	revoked, err = a.IsRevoked(s.ctx, "jti-2")
	require.NoError(s.T(), err)
	assert.False(s.T(), revoked)
}

func (s *RedisIntegrationSuite) TestRevocationStore_EntriesExpire() {
	store := auth.NewRedisRevocationStore(s.client, "test:revoked:ttl:")

	_, err := store.Revoke(s.ctx, "short-lived", time.Now().Add(time.Second))
	require.NoError(s.T(), err)

	assert.Eventually(s.T(), func() bool {
		revoked, err := store.IsRevoked(s.ctx, "short-lived")
		return err == nil && !revoked
	}, 5*time.Second, 100*time.Millisecond)
}
