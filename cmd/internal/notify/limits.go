package notify

import (
	"time"

	"golang.org/x/time/rate"
)

const (
	// Clients only send keepalive chatter; frames are tiny.
	maxFrameBytes = 4 << 10

	defaultSendQueueSize = 32
	minSendQueueSize     = 4

	defaultWriteTimeout      = 5 * time.Second
	defaultReadIdleTimeout   = 2 * time.Minute
	defaultHeartbeatInterval = 25 * time.Second
	defaultHeartbeatTimeout  = 5 * time.Second
	closeGrace               = time.Second
	maxPingFailures          = 3

	// Per-connection inbound limit (frames per window).
	defaultRateEvents = 30
	defaultRateWindow = 10 * time.Second
)

// newInboundLimiter spreads limit frames per window as a token bucket with
// burst limit. Invalid inputs fall back to defaults.
func newInboundLimiter(limit int, window time.Duration) *rate.Limiter {
	if limit <= 0 {
		limit = defaultRateEvents
	}
	if window <= 0 {
		window = defaultRateWindow
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
}
