package notify

import (
	"context"
	"testing"
	"time"

	"gatekeeper/cmd/internal/auth/lifecycle"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"
)

func TestHub_PublishTargetsPrincipalOnly(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil, nil)
	alice1 := NewClient("alice", "s1", 4)
	alice2 := NewClient("alice", "s2", 4)
	bob := NewClient("bob", "s3", 4)
	for _, c := range []*Client{alice1, alice2, bob} {
		hub.Register(c)
	}
	if got := hub.Connections("alice"); got != 2 {
		t.Fatalf("expected 2 connections, got %d", got)
	}

	hub.PublishRevocation(context.Background(), lifecycle.Revocation{
		PrincipalID: "alice",
		SessionIDs:  []string{"s1"},
		Reason:      lifecycle.ReasonLogout,
		At:          time.Unix(1700000000, 0),
	})

	for _, c := range []*Client{alice1, alice2} {
		select {
		case ev := <-c.Send:
			if ev.Type != TypeSessionRevoked || ev.Reason != lifecycle.ReasonLogout {
				t.Fatalf("unexpected event %+v", ev)
			}
			if ev.revokes(c.SessionID) != (c == alice1) {
				t.Fatalf("revokes(%s) mismatch", c.SessionID)
			}
		default:
			t.Fatalf("client %s got no event", c.SessionID)
		}
	}
	select {
	case ev := <-bob.Send:
		t.Fatalf("bob should not receive %+v", ev)
	default:
	}
}

func TestHub_FullQueueClosesRevokedClient(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics(nil)
	hub := NewHub(nil, metrics)
	c := NewClient("alice", "s1", 1)
	hub.Register(c)

	rev := lifecycle.Revocation{PrincipalID: "alice", SessionIDs: []string{"other"}, Reason: lifecycle.ReasonRevoked}
	hub.PublishRevocation(context.Background(), rev)
	hub.PublishRevocation(context.Background(), rev)

	if got := testutil.ToFloat64(metrics.dropped); got != 1 {
		t.Fatalf("expected 1 drop, got %v", got)
	}
	select {
	case <-c.Done():
		t.Fatalf("client not bound to revoked session must stay open")
	default:
	}

	rev.SessionIDs = []string{"s1"}
	hub.PublishRevocation(context.Background(), rev)
	select {
	case <-c.Done():
	default:
		t.Fatalf("expected revoked client to be closed when its queue is full")
	}
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics(nil)
	hub := NewHub(nil, metrics)
	c := NewClient("alice", "s1", 4)
	hub.Register(c)
	hub.Unregister(c)
	hub.Unregister(c)

	if got := hub.Connections("alice"); got != 0 {
		t.Fatalf("expected 0 connections, got %d", got)
	}
	if got := testutil.ToFloat64(metrics.connections); got != 0 {
		t.Fatalf("expected gauge 0, got %v", got)
	}
	if c.offer(Event{Type: TypeHello}) {
		t.Fatalf("closed client must refuse events")
	}
}

func TestHub_IgnoresEmptyRevocation(t *testing.T) {
	t.Parallel()

	hub := NewHub(nil, nil)
	c := NewClient("alice", "s1", 4)
	hub.Register(c)
	hub.PublishRevocation(context.Background(), lifecycle.Revocation{PrincipalID: "alice"})

	if len(c.Send) != 0 {
		t.Fatalf("expected no event for empty session list")
	}
}

func TestInboundLimiter(t *testing.T) {
	t.Parallel()

	rl := newInboundLimiter(2, time.Second)
	base := time.Unix(1700000000, 0)
	if !rl.AllowN(base, 1) || !rl.AllowN(base.Add(100*time.Millisecond), 1) {
		t.Fatalf("burst of two must pass")
	}
	if rl.AllowN(base.Add(200*time.Millisecond), 1) {
		t.Fatalf("third frame inside the window must be refused")
	}
	if !rl.AllowN(base.Add(1100*time.Millisecond), 1) {
		t.Fatalf("frame after the bucket refilled must pass")
	}
}

func TestInboundLimiter_Defaults(t *testing.T) {
	t.Parallel()

	rl := newInboundLimiter(0, 0)
	if rl.Burst() != defaultRateEvents {
		t.Fatalf("burst = %d, want %d", rl.Burst(), defaultRateEvents)
	}
	if want := rate.Every(defaultRateWindow / defaultRateEvents); rl.Limit() != want {
		t.Fatalf("limit = %v, want %v", rl.Limit(), want)
	}
}
