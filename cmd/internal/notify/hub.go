package notify

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"gatekeeper/cmd/internal/auth/lifecycle"
)

// Hub tracks connections per principal and fans out revocations.
// It satisfies lifecycle.Publisher; PublishRevocation never blocks.
type Hub struct {
	log     *slog.Logger
	metrics *Metrics

	mu      sync.RWMutex
	clients map[string]map[string]*Client // principal id -> connection id -> client
}

var _ lifecycle.Publisher = (*Hub)(nil)

// NewHub constructs an empty hub. A nil metrics gets unregistered collectors.
func NewHub(log *slog.Logger, metrics *Metrics) *Hub {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Hub{
		log:     log,
		metrics: metrics,
		clients: make(map[string]map[string]*Client),
	}
}

// Register adds a client under its principal.
func (h *Hub) Register(c *Client) {
	if c == nil || c.PrincipalID == "" {
		return
	}

	h.mu.Lock()
	set := h.clients[c.PrincipalID]
	if set == nil {
		set = make(map[string]*Client)
		h.clients[c.PrincipalID] = set
	}
	set[c.ID] = c
	h.mu.Unlock()

	h.metrics.connections.Inc()
	h.log.Info("notify.client.register", "connection_id", c.ID, "principal_id", c.PrincipalID, "session_id", c.SessionID)
}

// Unregister removes a client and then signals its shutdown.
func (h *Hub) Unregister(c *Client) {
	if c == nil {
		return
	}

	removed := false
	h.mu.Lock()
	if set := h.clients[c.PrincipalID]; set != nil {
		if _, ok := set[c.ID]; ok {
			delete(set, c.ID)
			removed = true
		}
		if len(set) == 0 {
			delete(h.clients, c.PrincipalID)
		}
	}
	h.mu.Unlock()

	// Close after removal so a concurrent publish never targets a torn-down client.
	c.Close()

	if removed {
		h.metrics.connections.Dec()
		h.log.Info("notify.client.unregister", "connection_id", c.ID, "principal_id", c.PrincipalID)
	}
}

// Connections returns how many clients the principal has open.
func (h *Hub) Connections(principalID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[principalID])
}

// PublishRevocation queues a session.revoked event to every connection of the
// principal. A connection bound to one of the revoked sessions that cannot
// take the event is closed directly.
func (h *Hub) PublishRevocation(_ context.Context, r lifecycle.Revocation) {
	if r.PrincipalID == "" || len(r.SessionIDs) == 0 {
		return
	}
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	ev := Event{
		Type:       TypeSessionRevoked,
		SessionIDs: append([]string(nil), r.SessionIDs...),
		Reason:     r.Reason,
		At:         at.UTC(),
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[r.PrincipalID]))
	for _, c := range h.clients[r.PrincipalID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if c.offer(ev) {
			h.metrics.delivered.Inc()
			continue
		}
		h.metrics.dropped.Inc()
		h.log.Info("notify.event.drop", "connection_id", c.ID, "principal_id", c.PrincipalID, "reason", r.Reason)
		if ev.revokes(c.SessionID) {
			c.Close()
		}
	}
}
