package handoff

import (
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"
)

// SecretSize is the length in bytes of a migration secret.
const SecretSize = 32

// Secret is an opaque migration token. It marshals to base64 in JSON and
// never prints or logs its content.
type Secret []byte

// NewSecret reads SecretSize bytes from r.
func NewSecret(r io.Reader) (Secret, error) {
	s := make(Secret, SecretSize)
	if _, err := io.ReadFull(r, s); err != nil {
		return nil, fmt.Errorf("generating migration secret: %w", err)
	}
	return s, nil
}

// IsSet reports whether the secret holds a value.
func (s Secret) IsSet() bool { return len(s) > 0 }

// Equal compares in constant time. An unset secret equals nothing.
func (s Secret) Equal(other Secret) bool {
	if !s.IsSet() || !other.IsSet() {
		return false
	}
	return subtle.ConstantTimeCompare(s, other) == 1
}

func (s Secret) String() string {
	if !s.IsSet() {
		return "<unset>"
	}
	return "<redacted>"
}

func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}
