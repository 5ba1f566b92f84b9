package config

import "log/slog"

// Secret holds sensitive configuration such as PEM private keys, shared
// HMAC secrets, and database passwords. It redacts itself in fmt output,
// text and JSON marshaling, and slog attributes. Call Value for the
// plaintext.
type Secret string

const redacted = "[REDACTED]"

// Value returns the plaintext.
func (s Secret) Value() string { return string(s) }

// IsSet reports whether the secret is non-empty.
func (s Secret) IsSet() bool { return s != "" }

// String implements fmt.Stringer.
func (s Secret) String() string { return redacted }

// GoString implements fmt.GoStringer so %#v is redacted too.
func (s Secret) GoString() string { return redacted }

// MarshalText implements encoding.TextMarshaler.
func (s Secret) MarshalText() ([]byte, error) { return []byte(redacted), nil }

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value { return slog.StringValue(redacted) }
