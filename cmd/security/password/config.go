package password

import (
	"fmt"
	"runtime"
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int
	MaxLength int
	// If true, enable an extra, minimal weak-pattern rejection.
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns a strong baseline for interactive logins.
func DefaultConfig() Config {
	// Clamp parallelism to [1..4] to keep resource usage predictable in containers.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,      // 64 MiB
			Iterations:  3,              // reasonable default for interactive logins
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above; safe conversion.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      12,
			MaxLength:      256,
			RejectVeryWeak: false,
		},
	}
}

// Check validates the configured bounds.
//
// Accepted ranges:
// - Policy.MinLength 1..1024, Policy.MaxLength 1..4096, MinLength <= MaxLength
// - MemoryKiB 8 MiB..1 GiB
// - Iterations 1..20
// - Parallelism 1..64
// - SaltLength 8..64
// - KeyLength 16..64
func (c Config) Check() error {
	if err := inRange("password min_len", c.Policy.MinLength, 1, 1024); err != nil {
		return err
	}
	if err := inRange("password max_len", c.Policy.MaxLength, 1, 4096); err != nil {
		return err
	}
	if c.Policy.MinLength > c.Policy.MaxLength {
		return fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			c.Policy.MinLength,
			c.Policy.MaxLength,
		)
	}
	if err := inRange("argon2 memory_kib", int(c.Params.MemoryKiB), 8*1024, 1024*1024); err != nil {
		return err
	}
	if err := inRange("argon2 iterations", int(c.Params.Iterations), 1, 20); err != nil {
		return err
	}
	if err := inRange("argon2 parallelism", int(c.Params.Parallelism), 1, 64); err != nil {
		return err
	}
	if err := inRange("argon2 salt_len", int(c.Params.SaltLength), 8, 64); err != nil {
		return err
	}
	if err := inRange("argon2 key_len", int(c.Params.KeyLength), 16, 64); err != nil {
		return err
	}
	return nil
}

func inRange(name string, v, minVal, maxVal int) error {
	if v < minVal || v > maxVal {
		return fmt.Errorf("%s: out of range [%d..%d]", name, minVal, maxVal)
	}
	return nil
}
