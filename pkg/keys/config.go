// Package keys owns the issuer's RS256 signing key pair and derives the
// public JSON Web Key Set that downstream services verify tokens against.
//
// A [Manager] is constructed once at startup and injected wherever signing
// or publication is needed. On first use it loads key material from its
// configured [Source]; when none exists it generates a 2048-bit RSA pair and
// stores it back, under a lock so concurrent first requests cannot produce
// two different pairs.
//
//	mgr, err := keys.NewManager(cfg, keys.NewStaticSource())
//	pair, err := mgr.GetOrCreateKeyPair(ctx)
//	set, err := mgr.JWKS(ctx)
package keys

import (
	"strings"

	"github.com/ava-platform/ava-core/pkg/config"
	sserr "github.com/ava-platform/ava-core/pkg/errors"
)

const (
	// DefaultKeyID is the kid stamped on every token and published in the
	// key set.
	DefaultKeyID = "ava-auth-key-1"

	// DefaultBits is the RSA modulus size for generated keys.
	DefaultBits = 2048

	// PublicExponent is the RSA public exponent used for generated keys.
	PublicExponent = 65537

	// DefaultRedisKey is where RedisSource keeps the shared key material.
	DefaultRedisKey = "ava:auth:jwt-keypair"
)

// Store names accepted by Config.Store.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config is the key material configuration. When PrivateKeyPEM is set the
// manager uses it as-is and never consults its Source; PublicKeyPEM is then
// optional and, if present, must match the private key.
type Config struct {
	PrivateKeyPEM config.Secret `json:"-" yaml:"private_key" env:"PRIVATE_KEY" envFile:"true"`
	PublicKeyPEM  string        `json:"public_key,omitempty" yaml:"public_key" env:"PUBLIC_KEY" envFile:"true"`
	KeyID         string        `json:"key_id" yaml:"key_id" env:"KEY_ID" envDefault:"ava-auth-key-1"`
	Bits          int           `json:"bits" yaml:"bits" env:"KEY_BITS" envDefault:"2048"`

	// Store selects where generated material is kept: "memory" for the
	// process lifetime, or "redis" to share it between issuer replicas.
	Store    string `json:"store" yaml:"store" env:"KEY_STORE" envDefault:"memory"`
	RedisKey string `json:"redis_key" yaml:"redis_key" env:"KEY_REDIS_KEY" envDefault:"ava:auth:jwt-keypair"`
}

// Validate fills defaults and rejects unusable settings.
func (c *Config) Validate() error {
	if c.KeyID == "" {
		c.KeyID = DefaultKeyID
	}
	if c.Bits == 0 {
		c.Bits = DefaultBits
	}
	if c.Store == "" {
		c.Store = StoreMemory
	}
	if c.RedisKey == "" {
		c.RedisKey = DefaultRedisKey
	}

	switch {
	case c.Bits < 2048:
		return sserr.Newf(sserr.CodeValidation, "keys: key size must be at least 2048 bits, got %d", c.Bits)
	case c.Store != StoreMemory && c.Store != StoreRedis:
		return sserr.Newf(sserr.CodeValidation, "keys: unknown key store %q", c.Store)
	case c.PublicKeyPEM != "" && !c.PrivateKeyPEM.IsSet():
		return sserr.New(sserr.CodeValidation, "keys: a public key without its private key cannot sign tokens")
	case c.PrivateKeyPEM.IsSet() && !strings.Contains(c.PrivateKeyPEM.Value(), "PRIVATE KEY"):
		return sserr.New(sserr.CodeValidation, "keys: private key is not PEM encoded")
	}
	return nil
}

// configured returns the material supplied through configuration, or nil.
func (c *Config) configured() *Material {
	if !c.PrivateKeyPEM.IsSet() {
		return nil
	}
	return &Material{
		PrivateKeyPEM: c.PrivateKeyPEM,
		PublicKeyPEM:  c.PublicKeyPEM,
		KeyID:         c.KeyID,
	}
}
