package identity_test

import (
	"context"
	"testing"
	"time"

	"gatekeeper/cmd/identity"
	"gatekeeper/cmd/internal/db/dbtest"
)

func newPostgresStore(t *testing.T) *identity.PostgresStore {
	t.Helper()

	pool, schema := dbtest.Open(t)
	s, err := identity.NewPostgresStore(pool, identity.WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	return s
}

func TestPostgresStore_CreatePrincipal_ConflictsAreCaseInsensitive(t *testing.T) {
	t.Parallel()

	s := newPostgresStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, err := s.CreatePrincipal(ctx, identity.CreatePrincipalInput{
		Email:        "User@Example.com",
		Username:     "Navid",
		PasswordHash: "$argon2id$placeholder",
	})
	if err != nil {
		t.Fatalf("create principal 1: %v", err)
	}

	_, err = s.CreatePrincipal(ctx, identity.CreatePrincipalInput{
		Email:        "user@example.COM",
		PasswordHash: "$argon2id$placeholder",
	})
	if !identity.IsConflict(err) {
		t.Fatalf("expected email conflict, got: %v", err)
	}

	_, err = s.CreatePrincipal(ctx, identity.CreatePrincipalInput{
		Email:        "other@example.com",
		Username:     "nAvId",
		PasswordHash: "$argon2id$placeholder",
	})
	if !identity.IsConflict(err) {
		t.Fatalf("expected username conflict, got: %v", err)
	}
}

func TestPostgresStore_FindAndUpdate(t *testing.T) {
	t.Parallel()

	s := newPostgresStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	p, err := s.CreatePrincipal(ctx, identity.CreatePrincipalInput{
		Email:        "finder@example.com",
		Username:     "Finder",
		PasswordHash: "hash-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, ident := range []string{"FINDER@example.com", "finder"} {
		got, err := s.FindByIdentifier(ctx, ident)
		if err != nil {
			t.Fatalf("FindByIdentifier(%q): %v", ident, err)
		}
		if got.ID != p.ID || got.PasswordHash != "hash-1" || got.Role != identity.RoleUser {
			t.Fatalf("unexpected principal: %+v", got)
		}
	}

	if _, err := s.FindByIdentifier(ctx, "ghost"); !identity.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := s.SetRole(ctx, p.ID, identity.RoleAdmin, time.Time{}); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	if err := s.SetPasswordHash(ctx, p.ID, "hash-2", time.Time{}); err != nil {
		t.Fatalf("SetPasswordHash: %v", err)
	}
	if err := s.SetTOTPSecret(ctx, p.ID, "JBSWY3DPEHPK3PXP", time.Time{}); err != nil {
		t.Fatalf("SetTOTPSecret: %v", err)
	}

	got, err := s.GetPrincipal(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPrincipal: %v", err)
	}
	if got.Role != identity.RoleAdmin || got.PasswordHash != "hash-2" || !got.HasTOTP() {
		t.Fatalf("updates not persisted: %+v", got)
	}

	if err := s.SetRole(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ", identity.RoleAdmin, time.Time{}); !identity.IsNotFound(err) {
		t.Fatalf("expected not found for missing principal, got %v", err)
	}
}
