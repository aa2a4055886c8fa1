package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// MinHMACKeyBytes is the minimum key size accepted when HMAC is required.
const MinHMACKeyBytes = 32

var (
	ErrHMACKeyMissing  = errors.New("token: HMAC key required but not configured")
	ErrHMACKeyTooShort = errors.New("token: HMAC key shorter than 32 bytes")
)

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// Hasher hashes secrets for server-side storage with an explicit key.
// The zero value hashes with plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher builds a Hasher from raw key material.
//
// Behavior:
// - Empty key and require=false: SHA-256 mode.
// - Empty key and require=true: ErrHMACKeyMissing.
// - Non-empty key shorter than MinHMACKeyBytes: ErrHMACKeyTooShort.
func NewHasher(key string, require bool) (Hasher, error) {
	raw := strings.TrimSpace(key)
	if raw == "" {
		if require {
			return Hasher{}, ErrHMACKeyMissing
		}
		return Hasher{}, nil
	}
	if len(raw) < MinHMACKeyBytes {
		return Hasher{}, ErrHMACKeyTooShort
	}
	return Hasher{key: []byte(raw)}, nil
}

// Keyed reports whether the Hasher runs in HMAC mode.
func (h Hasher) Keyed() bool { return len(h.key) > 0 }

// HashHex returns the 64-char hex digest of s.
func (h Hasher) HashHex(s string) string {
	if len(h.key) == 0 {
		return HashSHA256Hex(s)
	}
	return HashHMACSHA256Hex(s, h.key)
}

// EqualHex64 compares two 64-char hex digests in constant time.
// Either side having another length is a mismatch.
func EqualHex64(a, b string) bool {
	if len(a) != 64 || len(b) != 64 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
