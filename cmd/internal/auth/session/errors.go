package session

import "errors"

var (
	// ErrInvalidToken is returned when an access token fails verification or validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSessionNotFound is returned when no session (or retired hash) matches.
	ErrSessionNotFound = errors.New("session not found")

	// ErrHashMismatch is returned by Rotate when the session's current hash is no
	// longer the expected one: a concurrent rotation won.
	ErrHashMismatch = errors.New("refresh hash mismatch")

	// ErrInvalidRecord is returned for malformed Create/Rotate input.
	ErrInvalidRecord = errors.New("invalid session record")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")

	// ErrRedisUnavailable wraps transport failures of RedisStore.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
