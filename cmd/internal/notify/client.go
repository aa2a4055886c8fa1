package notify

import (
	"sync"

	"github.com/google/uuid"
)

// Client is one websocket connection as seen by the hub.
//
// Send is never closed by the server; Done signals shutdown instead, so a
// publisher holding a stale pointer cannot panic.
type Client struct {
	ID          string
	PrincipalID string
	SessionID   string

	Send chan Event

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a client with a fresh connection id.
func NewClient(principalID, sessionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	return &Client{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		SessionID:   sessionID,
		Send:        make(chan Event, sendQueueSize),
		done:        make(chan struct{}),
	}
}

// Done is closed once the client is shutting down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Close is idempotent. It does not close Send.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// offer enqueues without blocking. It returns false when the client is
// closing or its queue is full.
func (c *Client) offer(ev Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- ev:
		return true
	default:
		return false
	}
}
