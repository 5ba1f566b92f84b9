package keys

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ava-platform/ava-core/internal/testutil"
)

func TestEncodeRSAPublicKey_Fields(t *testing.T) {
	pub := &testutil.RSAKey(t).PublicKey
	jwk := EncodeRSAPublicKey(DefaultKeyID, pub)

	assert.Equal(t, "RSA", jwk.Kty)
	assert.Equal(t, "sig", jwk.Use)
	assert.Equal(t, []string{"verify"}, jwk.KeyOps)
	assert.Equal(t, "RS256", jwk.Alg)
	assert.Equal(t, DefaultKeyID, jwk.Kid)
	assert.Equal(t, "AQAB", jwk.E, "65537 is 0x010001")
	assert.NotContains(t, jwk.N, "=")
	assert.NotContains(t, jwk.N, "+")
	assert.NotContains(t, jwk.N, "/")
	assert.Len(t, jwk.N, base64.RawURLEncoding.EncodedLen(256), "2048-bit modulus is 256 bytes")
}

func TestEncodeRSAPublicKey_RoundTripIsBitExact(t *testing.T) {
	for _, key := range []*rsa.PrivateKey{testutil.RSAKey(t), testutil.NewRSAKey(t)} {
		jwk := EncodeRSAPublicKey("k", &key.PublicKey)
		got, err := jwk.RSAPublicKey()
		require.NoError(t, err)
		assert.Equal(t, 0, key.PublicKey.N.Cmp(got.N))
		assert.Equal(t, key.PublicKey.E, got.E)
		assert.True(t, key.PublicKey.Equal(got))
	}
}

func TestEncodeRSAPublicKey_MinimalBytes(t *testing.T) {
	pub := &rsa.PublicKey{N: big.NewInt(0x00ff01), E: 3}
	jwk := EncodeRSAPublicKey("k", pub)

	n, err := base64.RawURLEncoding.DecodeString(jwk.N)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0x01}, n, "no leading zero bytes")

	e, err := base64.RawURLEncoding.DecodeString(jwk.E)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03}, e)
}

func TestJWK_RSAPublicKey_Errors(t *testing.T) {
	good := EncodeRSAPublicKey("k", &testutil.RSAKey(t).PublicKey)
	tests := []struct {
		name   string
		mutate func(*JWK)
	}{
		{"wrong kty", func(k *JWK) { k.Kty = "EC" }},
		{"padded modulus", func(k *JWK) { k.N += "==" }},
		{"bad exponent", func(k *JWK) { k.E = "!!" }},
		{"empty exponent", func(k *JWK) { k.E = "" }},
		{"exponent too small", func(k *JWK) { k.E = base64.RawURLEncoding.EncodeToString([]byte{1}) }},
		{"exponent too large", func(k *JWK) { k.E = base64.RawURLEncoding.EncodeToString([]byte{1, 0, 0, 0, 0, 0}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := good
			tt.mutate(&k)
			_, err := k.RSAPublicKey()
			assert.Error(t, err)
		})
	}
}

func TestJWKSet_JSONShape(t *testing.T) {
	set := JWKSet{Keys: []JWK{EncodeRSAPublicKey(DefaultKeyID, &testutil.RSAKey(t).PublicKey)}}
	body, err := json.Marshal(set)
	require.NoError(t, err)

	var raw map[string][]map[string]any
	require.NoError(t, json.Unmarshal(body, &raw))
	require.Len(t, raw["keys"], 1)
	key := raw["keys"][0]
	assert.Equal(t, "RSA", key["kty"])
	assert.Equal(t, "sig", key["use"])
	assert.Equal(t, []any{"verify"}, key["key_ops"])
	assert.Equal(t, "RS256", key["alg"])
	assert.Equal(t, DefaultKeyID, key["kid"])
	assert.Equal(t, "AQAB", key["e"])
	assert.True(t, strings.HasPrefix(string(body), `{"keys":[`))
}

func TestJWKSet_KeyLookup(t *testing.T) {
	a := EncodeRSAPublicKey("a", &testutil.RSAKey(t).PublicKey)
	b := EncodeRSAPublicKey("b", &testutil.NewRSAKey(t).PublicKey)
	set := JWKSet{Keys: []JWK{a, b}}

	got, ok := set.Key("b")
	require.True(t, ok)
	assert.Equal(t, b, got)
	_, ok = set.Key("c")
	assert.False(t, ok)
}

func TestJWKSet_RSAPublicKeys(t *testing.T) {
	good := EncodeRSAPublicKey("good", &testutil.RSAKey(t).PublicKey)
	enc := good
	enc.Kid, enc.Use = "enc", "enc"
	hs := good
	hs.Kid, hs.Alg = "hs", "HS256"
	broken := good
	broken.Kid, broken.E = "broken", ""

	keys, err := JWKSet{Keys: []JWK{good, enc, hs, broken}}.RSAPublicKeys()
	require.NoError(t, err)
	assert.Len(t, keys, 1)
	assert.Contains(t, keys, "good")

	_, err = JWKSet{Keys: []JWK{broken}}.RSAPublicKeys()
	assert.Error(t, err)
	_, err = JWKSet{}.RSAPublicKeys()
	assert.Error(t, err)
}
