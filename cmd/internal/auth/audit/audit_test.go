package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gatekeeper/cmd/internal/db/dbtest"
)

func runLogContract(t *testing.T, newLog func(t *testing.T) Log) {
	t.Helper()

	t.Run("append and list newest first", func(t *testing.T) {
		l := newLog(t)
		ctx := context.Background()
		base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		entries := []Entry{
			{PrincipalID: "p1", SessionID: "s1", Event: EventLogin, Score: 20, Action: "ALLOW", Factors: []string{"NEW_DEVICE", "NEW_COUNTRY"}, IP: "203.0.113.1", UserAgent: "ua", CreatedAt: base},
			{PrincipalID: "p1", SessionID: "s1", Event: EventRefreshSuccess, Score: 0, Action: "ALLOW", CreatedAt: base.Add(time.Minute)},
			{PrincipalID: "p1", Event: EventLoginBlock, Score: 100, Action: "BLOCK", CreatedAt: base.Add(2 * time.Minute)},
			{PrincipalID: "p2", SessionID: "s9", Event: EventTokenReuse, Score: 120, Action: "BLOCK", Factors: []string{"TOKEN_REUSE"}, CreatedAt: base.Add(3 * time.Minute)},
		}
		for _, e := range entries {
			if err := l.Append(ctx, e); err != nil {
				t.Fatalf("Append %s: %v", e.Event, err)
			}
		}

		got, err := l.List(ctx, Filter{PrincipalID: "p1"})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(got))
		}
		if got[0].Event != EventLoginBlock || got[0].SessionID != "" {
			t.Fatalf("expected blocked login first with empty session, got %+v", got[0])
		}
		last := got[2]
		if last.Event != EventLogin || last.Score != 20 || !last.CreatedAt.Equal(base) {
			t.Fatalf("unexpected oldest entry: %+v", last)
		}
		if len(last.Factors) != 2 || last.Factors[0] != "NEW_DEVICE" || last.Factors[1] != "NEW_COUNTRY" {
			t.Fatalf("factors not preserved in order: %v", last.Factors)
		}
		if last.ID == "" {
			t.Fatalf("expected generated id")
		}

		bySession, err := l.List(ctx, Filter{SessionID: "s1"})
		if err != nil || len(bySession) != 2 {
			t.Fatalf("List by session: %v len=%d", err, len(bySession))
		}

		limited, err := l.List(ctx, Filter{Limit: 1})
		if err != nil || len(limited) != 1 || limited[0].PrincipalID != "p2" {
			t.Fatalf("List limited: %v %+v", err, limited)
		}
	})

	t.Run("rejects invalid entries", func(t *testing.T) {
		l := newLog(t)
		if err := l.Append(context.Background(), Entry{Event: EventLogin}); !errors.Is(err, ErrInvalidEntry) {
			t.Fatalf("expected ErrInvalidEntry, got %v", err)
		}
		if err := l.Append(context.Background(), Entry{PrincipalID: "p"}); !errors.Is(err, ErrInvalidEntry) {
			t.Fatalf("expected ErrInvalidEntry, got %v", err)
		}
	})
}

func TestMemoryLog(t *testing.T) {
	runLogContract(t, func(*testing.T) Log { return NewMemoryLog() })
}

func TestMemoryLog_EntriesAreCopied(t *testing.T) {
	l := NewMemoryLog()
	ctx := context.Background()
	factors := []string{"NEW_DEVICE"}
	if err := l.Append(ctx, Entry{PrincipalID: "p", Event: EventLogin, Factors: factors}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	factors[0] = "MUTATED"

	got, _ := l.List(ctx, Filter{})
	got[0].Factors[0] = "ALSO_MUTATED"

	again, _ := l.List(ctx, Filter{})
	if again[0].Factors[0] != "NEW_DEVICE" {
		t.Fatalf("stored entry was mutated: %v", again[0].Factors)
	}
}

func TestSQLiteLog(t *testing.T) {
	runLogContract(t, func(t *testing.T) Log {
		l, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "audit.db"))
		if err != nil {
			t.Fatalf("OpenSQLite: %v", err)
		}
		t.Cleanup(func() { _ = l.Close() })
		return l
	})
}

func TestPostgresLog(t *testing.T) {
	runLogContract(t, func(t *testing.T) Log {
		pool, schema := dbtest.Open(t)
		l, err := NewPostgresLog(pool, schema)
		if err != nil {
			t.Fatalf("NewPostgresLog: %v", err)
		}
		return l
	})
}

func TestFilterLimit(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{0, DefaultListLimit},
		{-3, DefaultListLimit},
		{10, 10},
		{MaxListLimit + 1, MaxListLimit},
	}
	for _, tc := range cases {
		if got := (Filter{Limit: tc.in}).limit(); got != tc.want {
			t.Fatalf("limit(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
