package session

import (
	"crypto/rand"
	"encoding/base64"
)

// maxRefreshTokenLen bounds presented tokens before hashing.
const maxRefreshTokenLen = 512

func newOpaqueToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = 32
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	// URL-safe, no padding.
	return base64.RawURLEncoding.EncodeToString(b), nil
}
