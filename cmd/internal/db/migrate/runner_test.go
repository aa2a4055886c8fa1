package migrate

import (
	"context"
	"strings"
	"testing"
)

func TestRun_EmptyDSN(t *testing.T) {
	err := Run(context.Background(), "", "gatekeeper", "up")
	if err == nil {
		t.Fatal("Run with empty DSN should return error")
	}
	if !strings.Contains(err.Error(), "GK_DATABASE_URL") {
		t.Fatalf("error should name the setting, got %q", err)
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	for _, dir := range []string{"", "invalid", "UP", "Down"} {
		t.Run(dir, func(t *testing.T) {
			if err := Run(context.Background(), "postgres://localhost/test", "gatekeeper", dir); err == nil {
				t.Fatalf("Run with direction %q should return error", dir)
			}
		})
	}
}

func TestRun_InvalidSchema(t *testing.T) {
	for _, schema := range []string{"", "1abc", `x"; drop`, "a-b"} {
		if err := Run(context.Background(), "postgres://localhost/test", schema, "up"); err == nil {
			t.Fatalf("schema %q should be rejected", schema)
		}
	}
}

func TestWithSearchPath(t *testing.T) {
	got, err := withSearchPath("postgres://u:p@localhost:5432/gk?sslmode=disable", "gk_it")
	if err != nil {
		t.Fatalf("withSearchPath: %v", err)
	}
	if !strings.Contains(got, "search_path=gk_it") || !strings.Contains(got, "sslmode=disable") {
		t.Fatalf("unexpected url %q", got)
	}

	if _, err := withSearchPath("host=localhost dbname=gk", "gk"); err == nil {
		t.Fatalf("key/value DSN should be rejected")
	}
}
