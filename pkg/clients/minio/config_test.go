package minio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	assert.Equal(t, DefaultEndpoint, cfg.Endpoint)
	assert.Equal(t, DefaultRegion, cfg.Region)
	assert.Equal(t, DefaultBucket, cfg.Bucket)
	assert.False(t, cfg.UseSSL)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := Config{Endpoint: "minio:9000", AccessKey: "ava", SecretKey: "s3cret"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultRegion, cfg.Region)
	assert.Equal(t, DefaultBucket, cfg.Bucket)

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"no endpoint", Config{AccessKey: "ava", SecretKey: "s"}, "endpoint"},
		{"no access key", Config{Endpoint: "minio:9000", SecretKey: "s"}, "access_key"},
		{"no secret key", Config{Endpoint: "minio:9000", AccessKey: "ava"}, "secret_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestTruncateStatement(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "PUT a/b", truncateStatement("PUT a/b"))

	long := make([]rune, maxStatementLen+10)
	for i := range long {
		long[i] = 'é'
	}
	got := []rune(truncateStatement(string(long)))
	assert.Len(t, got, maxStatementLen+3)
}
