package lifecycle

import (
	"context"
	"time"
)

// Revocation reasons carried on events and metrics.
const (
	ReasonLogout    = "logout"
	ReasonBlocked   = "blocked"
	ReasonReuse     = "reuse_detected"
	ReasonRevoked   = "revoked"
	ReasonRevokeAll = "revoked_all"
)

// Revocation announces deleted sessions so connected clients can sign out.
type Revocation struct {
	PrincipalID string
	SessionIDs  []string
	Reason      string
	At          time.Time
}

// Publisher receives revocations. Implementations must not block.
type Publisher interface {
	PublishRevocation(ctx context.Context, r Revocation)
}

type nopPublisher struct{}

func (nopPublisher) PublishRevocation(context.Context, Revocation) {}
