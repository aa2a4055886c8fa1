package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"gatekeeper/cmd/security/token"
)

// storeHarness builds a fresh Store and a factory for principals it accepts.
type storeHarness func(t *testing.T) (Store, func(t *testing.T) string)

func hashOf(s string) string { return token.HashSHA256Hex(s) }

func newTestRecord(pid, plain string, now time.Time, ttl time.Duration) Record {
	return Record{
		PrincipalID:  pid,
		RefreshHash:  hashOf(plain),
		Fingerprint:  hashOf("fp:" + plain),
		Platform:     PlatformWeb,
		IP:           "203.0.113.7",
		UserAgent:    "Mozilla/5.0",
		Country:      "DE",
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(ttl),
	}
}

func rotation(id, from, to string, now time.Time) Rotation {
	return Rotation{
		SessionID:    id,
		ExpectedHash: hashOf(from),
		NewHash:      hashOf(to),
		Fingerprint:  hashOf("fp:" + to),
		IP:           "198.51.100.9",
		UserAgent:    "Mozilla/5.0 (rotated)",
		Country:      "FR",
		RiskScore:    20,
		Now:          now,
	}
}

func runStoreContract(t *testing.T, h storeHarness) {
	t.Helper()

	base := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("create and lookup", func(t *testing.T) {
		s, newPrincipal := h(t)
		ctx := context.Background()
		pid := newPrincipal(t)

		rec, err := s.Create(ctx, newTestRecord(pid, "r1", base, time.Hour))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if len(rec.ID) != 26 {
			t.Fatalf("expected ULID id, got %q", rec.ID)
		}

		got, err := s.Get(ctx, rec.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.PrincipalID != pid || got.RefreshHash != hashOf("r1") || got.Platform != PlatformWeb {
			t.Fatalf("unexpected record: %+v", got)
		}
		if !got.ExpiresAt.Equal(base.Add(time.Hour)) {
			t.Fatalf("expires_at mismatch: %v", got.ExpiresAt)
		}

		byHash, err := s.FindByRefreshHash(ctx, hashOf("r1"))
		if err != nil || byHash.ID != rec.ID {
			t.Fatalf("FindByRefreshHash: %v %+v", err, byHash)
		}

		if _, err := s.Get(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ"); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
		if _, err := s.FindByRefreshHash(ctx, hashOf("nope")); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}

		dup := newTestRecord(pid, "r1", base, time.Hour)
		if _, err := s.Create(ctx, dup); !errors.Is(err, ErrInvalidRecord) {
			t.Fatalf("expected ErrInvalidRecord for duplicate hash, got %v", err)
		}
	})

	t.Run("create rejects malformed records", func(t *testing.T) {
		s, newPrincipal := h(t)
		ctx := context.Background()
		pid := newPrincipal(t)

		cases := []struct {
			name string
			mut  func(*Record)
		}{
			{"no principal", func(r *Record) { r.PrincipalID = "" }},
			{"short hash", func(r *Record) { r.RefreshHash = "abc" }},
			{"expires before created", func(r *Record) { r.ExpiresAt = r.CreatedAt }},
		}
		for _, tc := range cases {
			rec := newTestRecord(pid, "bad-"+tc.name, base, time.Hour)
			tc.mut(&rec)
			if _, err := s.Create(ctx, rec); !errors.Is(err, ErrInvalidRecord) {
				t.Fatalf("%s: expected ErrInvalidRecord, got %v", tc.name, err)
			}
		}
	})

	t.Run("rotate swaps and retires", func(t *testing.T) {
		s, newPrincipal := h(t)
		ctx := context.Background()
		pid := newPrincipal(t)

		rec, err := s.Create(ctx, newTestRecord(pid, "a", base, time.Hour))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}

		later := base.Add(5 * time.Minute)
		next, err := s.Rotate(ctx, rotation(rec.ID, "a", "b", later))
		if err != nil {
			t.Fatalf("Rotate: %v", err)
		}
		if next.RefreshHash != hashOf("b") || next.Country != "FR" || next.RiskScore != 20 {
			t.Fatalf("rotated record not updated: %+v", next)
		}
		if !next.LastActiveAt.Equal(later) {
			t.Fatalf("last_active_at = %v, want %v", next.LastActiveAt, later)
		}
		if !next.ExpiresAt.Equal(rec.ExpiresAt) || !next.CreatedAt.Equal(rec.CreatedAt) {
			t.Fatalf("rotation must not move created/expires: %+v", next)
		}

		if _, err := s.FindByRefreshHash(ctx, hashOf("a")); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("old hash still current: %v", err)
		}
		r, err := s.FindRetired(ctx, hashOf("a"))
		if err != nil {
			t.Fatalf("FindRetired: %v", err)
		}
		if r.SessionID != rec.ID || r.PrincipalID != pid || !r.RetiredAt.Equal(later) {
			t.Fatalf("unexpected retired entry: %+v", r)
		}
		if _, err := s.FindRetired(ctx, hashOf("b")); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("current hash must not be retired: %v", err)
		}

		if _, err := s.Rotate(ctx, rotation(rec.ID, "a", "c", later)); !errors.Is(err, ErrHashMismatch) {
			t.Fatalf("expected ErrHashMismatch, got %v", err)
		}
		if _, err := s.Rotate(ctx, rotation("01HZZZZZZZZZZZZZZZZZZZZZZZ", "b", "c", later)); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("concurrent rotate has one winner", func(t *testing.T) {
		s, newPrincipal := h(t)
		ctx := context.Background()
		pid := newPrincipal(t)

		rec, err := s.Create(ctx, newTestRecord(pid, "race", base, time.Hour))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}

		const n = 16
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			wins     int
			mismatch int
		)
		start := make(chan struct{})
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				_, err := s.Rotate(ctx, rotation(rec.ID, "race", fmt.Sprintf("race-next-%d", i), base.Add(time.Second)))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, ErrHashMismatch):
					mismatch++
				default:
					t.Errorf("unexpected rotate error: %v", err)
				}
			}(i)
		}
		close(start)
		wg.Wait()

		if wins != 1 || mismatch != n-1 {
			t.Fatalf("wins=%d mismatch=%d, want 1/%d", wins, mismatch, n-1)
		}
	})

	t.Run("delete is idempotent and drops history", func(t *testing.T) {
		s, newPrincipal := h(t)
		ctx := context.Background()
		pid := newPrincipal(t)

		rec, err := s.Create(ctx, newTestRecord(pid, "d1", base, time.Hour))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if _, err := s.Rotate(ctx, rotation(rec.ID, "d1", "d2", base.Add(time.Second))); err != nil {
			t.Fatalf("Rotate: %v", err)
		}

		ok, err := s.Delete(ctx, rec.ID)
		if err != nil || !ok {
			t.Fatalf("first Delete: ok=%v err=%v", ok, err)
		}
		ok, err = s.Delete(ctx, rec.ID)
		if err != nil || ok {
			t.Fatalf("second Delete: ok=%v err=%v", ok, err)
		}
		if _, err := s.FindRetired(ctx, hashOf("d1")); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("retired hash outlived its session: %v", err)
		}
		if _, err := s.FindByRefreshHash(ctx, hashOf("d2")); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("current hash outlived its session: %v", err)
		}
	})

	t.Run("delete by refresh hash", func(t *testing.T) {
		s, newPrincipal := h(t)
		ctx := context.Background()
		pid := newPrincipal(t)

		rec, err := s.Create(ctx, newTestRecord(pid, "out", base, time.Hour))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := s.DeleteByRefreshHash(ctx, hashOf("out"))
		if err != nil || got.ID != rec.ID {
			t.Fatalf("DeleteByRefreshHash: %v %+v", err, got)
		}
		if _, err := s.DeleteByRefreshHash(ctx, hashOf("out")); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound on second delete, got %v", err)
		}
	})

	t.Run("principal listing and bulk delete", func(t *testing.T) {
		s, newPrincipal := h(t)
		ctx := context.Background()
		pid := newPrincipal(t)
		other := newPrincipal(t)

		var ids []string
		for i := 0; i < 3; i++ {
			rec, err := s.Create(ctx, newTestRecord(pid, fmt.Sprintf("p%d", i), base.Add(time.Duration(i)*time.Minute), time.Hour))
			if err != nil {
				t.Fatalf("Create %d: %v", i, err)
			}
			ids = append(ids, rec.ID)
		}
		if _, err := s.Create(ctx, newTestRecord(other, "o1", base, time.Hour)); err != nil {
			t.Fatalf("Create other: %v", err)
		}

		list, err := s.ListByPrincipal(ctx, pid)
		if err != nil {
			t.Fatalf("ListByPrincipal: %v", err)
		}
		if len(list) != 3 {
			t.Fatalf("expected 3 sessions, got %d", len(list))
		}
		if list[0].ID != ids[2] || list[2].ID != ids[0] {
			t.Fatalf("expected newest first, got %s,%s,%s", list[0].ID, list[1].ID, list[2].ID)
		}

		removed, err := s.DeleteByPrincipal(ctx, pid)
		if err != nil {
			t.Fatalf("DeleteByPrincipal: %v", err)
		}
		if len(removed) != 3 {
			t.Fatalf("expected 3 removed, got %v", removed)
		}
		list, _ = s.ListByPrincipal(ctx, pid)
		if len(list) != 0 {
			t.Fatalf("sessions survived bulk delete: %d", len(list))
		}
		list, _ = s.ListByPrincipal(ctx, other)
		if len(list) != 1 {
			t.Fatalf("other principal affected: %d", len(list))
		}
	})

	t.Run("delete expired is inclusive", func(t *testing.T) {
		s, newPrincipal := h(t)
		ctx := context.Background()
		pid := newPrincipal(t)

		short, err := s.Create(ctx, newTestRecord(pid, "short", base, time.Minute))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		long, err := s.Create(ctx, newTestRecord(pid, "long", base, time.Hour))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}

		if !short.Expired(base.Add(time.Minute)) || short.Expired(base.Add(time.Minute-time.Millisecond)) {
			t.Fatalf("Expired boundary is not inclusive")
		}

		n, err := s.DeleteExpired(ctx, base.Add(time.Minute))
		if err != nil {
			t.Fatalf("DeleteExpired: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected 1 expired, got %d", n)
		}
		if _, err := s.Get(ctx, short.ID); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expired session still present: %v", err)
		}
		if _, err := s.Get(ctx, long.ID); err != nil {
			t.Fatalf("live session removed: %v", err)
		}
	})
}
