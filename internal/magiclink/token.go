package magiclink

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

const (
	tokenBytes = 32
	// TokenLength is the encoded length of a raw token.
	TokenLength = 43
	// HashLength is the encoded length of a token hash.
	HashLength = sha256.Size * 2
)

// Generate draws a fresh raw token from crypto/rand and returns it with its hash.
func Generate() (raw, hash string, err error) {
	return GenerateFrom(rand.Reader)
}

// GenerateFrom is Generate over an explicit entropy source. A short read is an
// error; there is no fallback source.
func GenerateFrom(r io.Reader) (raw, hash string, err error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", "", fmt.Errorf("magiclink: read entropy: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(buf)
	return raw, Hash(raw), nil
}

// Hash derives the lookup digest of a raw token. Tokens carry 256 bits of
// entropy, so a fast digest is sufficient; this is not password hashing.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ConstantTimeEqual compares two derived values without leaking timing.
func ConstantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// WellFormed reports whether raw has the shape of a generated token.
func WellFormed(raw string) bool {
	if len(raw) != TokenLength {
		return false
	}
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// MustCheckEntropy aborts the process if the system RNG cannot be read.
// Call it once during startup.
func MustCheckEntropy() {
	if _, _, err := Generate(); err != nil {
		panic(err)
	}
}
