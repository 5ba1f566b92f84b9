package keys

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
)

// JWK is an RSA JSON Web Key as published in the key set.
type JWK struct {
	Kty    string   `json:"kty"`
	Use    string   `json:"use"`
	KeyOps []string `json:"key_ops"`
	Alg    string   `json:"alg"`
	Kid    string   `json:"kid"`
	N      string   `json:"n"`
	E      string   `json:"e"`
}

// JWKSet is a JSON Web Key Set. It holds a slice so that a rotation can
// publish the outgoing and incoming keys side by side.
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// EncodeRSAPublicKey builds the JWK for pub. n and e are the minimal
// big-endian bytes of the modulus and exponent, base64url without padding.
//
// Example:
//
//	jwk := keys.EncodeRSAPublicKey(pair.KeyID(), pair.PublicKey())
//	pub, err := jwk.RSAPublicKey() // round-trips to the same key
func EncodeRSAPublicKey(kid string, pub *rsa.PublicKey) JWK {
	return JWK{
		Kty:    "RSA",
		Use:    "sig",
		KeyOps: []string{"verify"},
		Alg:    "RS256",
		Kid:    kid,
		N:      base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:      base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// RSAPublicKey decodes the key. It is the inverse of EncodeRSAPublicKey.
func (k JWK) RSAPublicKey() (*rsa.PublicKey, error) {
	if k.Kty != "RSA" {
		return nil, fmt.Errorf("jwk %q: unsupported key type %q", k.Kid, k.Kty)
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("jwk %q: decode modulus: %w", k.Kid, err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("jwk %q: decode exponent: %w", k.Kid, err)
	}
	if len(nBytes) == 0 || len(eBytes) == 0 {
		return nil, fmt.Errorf("jwk %q: empty modulus or exponent", k.Kid)
	}

	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() < 3 || e.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("jwk %q: exponent out of range", k.Kid)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(e.Int64())}, nil
}

// Key returns the JWK with the given kid.
func (s JWKSet) Key(kid string) (JWK, bool) {
	for _, k := range s.Keys {
		if k.Kid == kid {
			return k, true
		}
	}
	return JWK{}, false
}

// RSAPublicKeys decodes every usable RS256 signing key, by kid. Keys that do
// not decode are skipped; an error is returned only when none remain.
func (s JWKSet) RSAPublicKeys() (map[string]*rsa.PublicKey, error) {
	out := make(map[string]*rsa.PublicKey, len(s.Keys))
	var errs []error
	for _, k := range s.Keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		if k.Alg != "" && k.Alg != "RS256" {
			continue
		}
		pub, err := k.RSAPublicKey()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out[k.Kid] = pub
	}
	if len(out) == 0 {
		errs = append(errs, errors.New("jwks: no usable RS256 signing keys"))
		return nil, errors.Join(errs...)
	}
	return out, nil
}
