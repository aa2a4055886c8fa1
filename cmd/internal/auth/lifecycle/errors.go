package lifecycle

import (
	"errors"

	"gatekeeper/cmd/identity"
	"gatekeeper/cmd/internal/auth/risk"
	"gatekeeper/cmd/internal/auth/session"
)

var (
	// ErrInvalidCredentials covers unknown identifiers and wrong secrets alike.
	ErrInvalidCredentials = identity.ErrInvalidCredentials

	// ErrAuthBlocked is returned when risk evaluation decides BLOCK.
	ErrAuthBlocked = errors.New("authentication blocked")

	// ErrChallengeRequired is wrapped by ChallengeError.
	ErrChallengeRequired = errors.New("challenge required")

	// ErrSessionInvalid is returned when no session matches the presented token.
	ErrSessionInvalid = errors.New("session invalid")

	// ErrSessionExpired is returned when the matched session is past expiry. The
	// session is deleted.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionRevoked is returned when a rotated-away token is replayed. The
	// session is deleted.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrTokenInvalid is returned for access tokens failing signature or expiry checks.
	ErrTokenInvalid = session.ErrInvalidToken

	// ErrConfig is returned for invalid controller configuration.
	ErrConfig = errors.New("invalid lifecycle config")
)

// ChallengeError reports that a refresh needs a stronger proof first. The
// session is left untouched.
type ChallengeError struct {
	Action risk.Action
}

func (e *ChallengeError) Error() string { return "challenge required: " + string(e.Action) }

func (e *ChallengeError) Unwrap() error { return ErrChallengeRequired }
