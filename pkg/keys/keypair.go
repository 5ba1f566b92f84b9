package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"

	"github.com/ava-platform/ava-core/pkg/config"
)

// Material is the serialized form of a key pair: an unencrypted PKCS8
// private key and a SubjectPublicKeyInfo public key, both PEM encoded.
type Material struct {
	PrivateKeyPEM config.Secret
	PublicKeyPEM  string
	KeyID         string
}

// KeyPair is parsed, ready-to-use signing material.
type KeyPair struct {
	Material
	private *rsa.PrivateKey
}

// PrivateKey returns the RSA signing key.
func (k *KeyPair) PrivateKey() *rsa.PrivateKey { return k.private }

// PublicKey returns the RSA verification key.
func (k *KeyPair) PublicKey() *rsa.PublicKey { return &k.private.PublicKey }

// KeyID returns the kid for tokens signed with this pair.
func (k *KeyPair) KeyID() string { return k.Material.KeyID }

// GenerateMaterial creates a new RSA key pair with public exponent 65537
// and encodes it. Go's rsa.GenerateKey always uses e=65537.
func GenerateMaterial(random io.Reader, bits int, kid string) (*Material, error) {
	if random == nil {
		random = rand.Reader
	}
	priv, err := rsa.GenerateKey(random, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	return EncodeMaterial(priv, kid)
}

// EncodeMaterial PEM-encodes priv and its public half.
func EncodeMaterial(priv *rsa.PrivateKey, kid string) (*Material, error) {
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	return &Material{
		PrivateKeyPEM: config.Secret(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})),
		PublicKeyPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
		KeyID:         kid,
	}, nil
}

// Parse decodes the material. When PublicKeyPEM is empty it is derived from
// the private key; when present it must match.
func (m Material) Parse() (*KeyPair, error) {
	priv, err := ParsePrivateKeyPEM(m.PrivateKeyPEM.Value())
	if err != nil {
		return nil, err
	}
	if m.PublicKeyPEM == "" {
		enc, err := EncodeMaterial(priv, m.KeyID)
		if err != nil {
			return nil, err
		}
		m.PublicKeyPEM = enc.PublicKeyPEM
	} else {
		pub, err := ParsePublicKeyPEM(m.PublicKeyPEM)
		if err != nil {
			return nil, err
		}
		if !pub.Equal(&priv.PublicKey) {
			return nil, errors.New("public key does not match private key")
		}
	}
	return &KeyPair{Material: m, private: priv}, nil
}

// ParsePrivateKeyPEM decodes an RSA private key in PKCS8 ("PRIVATE KEY") or
// PKCS1 ("RSA PRIVATE KEY") form.
func ParsePrivateKeyPEM(s string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, errors.New("private key: no PEM block found")
	}
	switch block.Type {
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("private key: %w", err)
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key: expected RSA, got %T", key)
		}
		return rsaKey, nil
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("private key: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("private key: unexpected PEM type %q", block.Type)
	}
}

// ParsePublicKeyPEM decodes an RSA public key in SubjectPublicKeyInfo
// ("PUBLIC KEY") or PKCS1 ("RSA PUBLIC KEY") form.
func ParsePublicKeyPEM(s string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(s))
	if block == nil {
		return nil, errors.New("public key: no PEM block found")
	}
	switch block.Type {
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("public key: %w", err)
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key: expected RSA, got %T", key)
		}
		return rsaKey, nil
	case "RSA PUBLIC KEY":
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("public key: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("public key: unexpected PEM type %q", block.Type)
	}
}
