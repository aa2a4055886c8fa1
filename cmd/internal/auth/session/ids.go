package session

import (
	"time"

	"gatekeeper/cmd/identity/ids"
)

func newSessionID(now time.Time) string { return ids.MustNew(now) }
