package notify

import (
	"slices"
	"time"
)

// Event types written to clients.
const (
	TypeHello          = "hello"
	TypeSessionRevoked = "session.revoked"
	TypeError          = "error"
)

// Event is the single JSON frame shape sent to clients.
type Event struct {
	Type         string    `json:"type"`
	ConnectionID string    `json:"connection_id,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	SessionIDs   []string  `json:"session_ids,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	Code         string    `json:"code,omitempty"`
	At           time.Time `json:"at"`
}

// revokes reports whether the event ends the given session.
func (e Event) revokes(sessionID string) bool {
	return e.Type == TypeSessionRevoked && sessionID != "" && slices.Contains(e.SessionIDs, sessionID)
}
