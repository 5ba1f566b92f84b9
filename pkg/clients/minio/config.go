// Package minio wraps the MinIO S3 client with OpenTelemetry tracing and
// platform error codes. The auth service uses it to mirror its public JWKS
// document into a bucket that consumers outside the cluster can read.
package minio

import (
	"errors"
	"time"

	"github.com/ava-platform/ava-core/pkg/config"
)

const maxStatementLen = 100

const (
	DefaultEndpoint      = "minio:9000"
	DefaultRegion        = "us-east-1"
	DefaultBucket        = "ava-public"
	DefaultHealthTimeout = 5 * time.Second
)

// Config holds the object store settings. Env names are relative to the
// enclosing struct's prefix (AVA_JWKS_MIRROR_ENDPOINT in the auth service).
type Config struct {
	Endpoint  string        `json:"endpoint,omitempty" yaml:"endpoint" env:"ENDPOINT" envDefault:"minio:9000"`
	AccessKey string        `json:"access_key,omitempty" yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey config.Secret `json:"-" yaml:"secret_key" env:"SECRET_KEY" envFile:"true"`
	Region    string        `json:"region,omitempty" yaml:"region" env:"REGION" envDefault:"us-east-1"`
	UseSSL    bool          `json:"use_ssl,omitempty" yaml:"use_ssl" env:"USE_SSL"`
	Bucket    string        `json:"bucket,omitempty" yaml:"bucket" env:"BUCKET" envDefault:"ava-public"`
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() *Config {
	return &Config{
		Endpoint: DefaultEndpoint,
		Region:   DefaultRegion,
		Bucket:   DefaultBucket,
	}
}

// Validate fills the region and bucket defaults and reports the first
// missing setting.
func (c *Config) Validate() error {
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.Bucket == "" {
		c.Bucket = DefaultBucket
	}
	switch {
	case c.Endpoint == "":
		return errors.New("minio: config endpoint must not be empty")
	case c.AccessKey == "":
		return errors.New("minio: config access_key must not be empty")
	case !c.SecretKey.IsSet():
		return errors.New("minio: config secret_key must not be empty")
	}
	return nil
}

func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementLen {
		return s
	}
	return string(runes[:maxStatementLen]) + "..."
}
