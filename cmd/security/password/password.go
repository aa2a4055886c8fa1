package password

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Hash derives an argon2id hash of secret with c.Params. It does not apply the
// policy; callers registering a new credential run Validate first.
func (c Config) Hash(secret string) (string, error) {
	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password: salt: %w", err)
	}
	return phc{
		params: c.Params,
		salt:   salt,
		key:    derive(secret, salt, c.Params),
	}.String(), nil
}

// Verify reports whether secret matches the stored hash. A mismatch is
// (false, nil); ErrInvalidHash means the stored value itself is unusable.
// Legacy bcrypt hashes verify too and are flagged by NeedsRehash.
func (c Config) Verify(stored, secret string) (bool, error) {
	if isBcrypt(stored) {
		return verifyBcrypt(stored, secret)
	}

	h, err := parsePHC(stored)
	if err != nil {
		return false, err
	}
	// Stored parameters are untrusted: a tampered row must not buy an
	// attacker gigabytes of memory per login attempt.
	if !h.params.within(c.Params) {
		return false, ErrInvalidHash
	}

	got := derive(secret, h.salt, h.params)
	return subtle.ConstantTimeCompare(got, h.key) == 1, nil
}

// NeedsRehash reports whether a hash that just verified should be replaced:
// bcrypt, or argon2id with any cost parameter below c.Params.
func (c Config) NeedsRehash(stored string) bool {
	if isBcrypt(stored) {
		return true
	}
	h, err := parsePHC(stored)
	if err != nil {
		return false
	}
	return h.params.weakerThan(c.Params)
}

func derive(secret string, salt []byte, p Argon2idParams) []byte {
	return argon2.IDKey([]byte(secret), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)
}

// within allows hashes made with older, cheaper settings and up to twice the
// current cost, but nothing beyond.
func (p Argon2idParams) within(limit Argon2idParams) bool {
	return p.MemoryKiB <= limit.MemoryKiB*2 &&
		p.Iterations <= limit.Iterations*2 &&
		uint32(p.Parallelism) <= uint32(limit.Parallelism)*2 &&
		p.SaltLength >= 8 && p.SaltLength <= 64 &&
		p.KeyLength >= 16 && p.KeyLength <= 128
}

func (p Argon2idParams) weakerThan(want Argon2idParams) bool {
	return p.MemoryKiB < want.MemoryKiB ||
		p.Iterations < want.Iterations ||
		p.KeyLength < want.KeyLength
}
