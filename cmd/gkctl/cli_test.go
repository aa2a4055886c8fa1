package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"gatekeeper/cmd/identity"
	"gatekeeper/cmd/internal/app"
	"gatekeeper/cmd/internal/auth/audit"
	"gatekeeper/cmd/internal/auth/lifecycle"
	"gatekeeper/cmd/internal/auth/session"
)

type harness struct {
	cli    *cli
	cfg    app.Config
	res    *app.Resources
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	migr   []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	t.Setenv("GK_PASSWORD_MEMORY_KIB", "8192")
	t.Setenv("GK_PASSWORD_ITERATIONS", "1")
	t.Setenv("GK_DECISION_TIMEOUT", "5s")
	cfg, err := app.LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	// Sessions need a key that outlives one command.
	cfg.PasetoSecretKeyHex = session.NewPasetoV4SecretKeyHex()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	res, err := app.Open(context.Background(), cfg, log)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = res.Close() })

	h := &harness{cfg: cfg, res: res, stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}}
	h.cli = newCLI(strings.NewReader(""), h.stdout, h.stderr)
	h.cli.loadConfig = func() (app.Config, error) { return h.cfg, nil }
	h.cli.open = func(context.Context, app.Config, *slog.Logger) (*app.Resources, error) { return h.res, nil }
	h.cli.migrate = func(_ context.Context, dsn, schema, direction string) error {
		h.migr = append(h.migr, schema+":"+direction)
		return nil
	}
	h.cli.readSecret = func(string) (string, error) { return "correct horse battery", nil }
	return h
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	h.stdout.Reset()
	err := h.cli.run(context.Background(), args)
	return h.stdout.String(), err
}

func (h *harness) controller(t *testing.T) *lifecycle.Controller {
	t.Helper()
	ctrl, err := app.BuildController(h.cfg, h.res, slog.New(slog.NewTextHandler(io.Discard, nil)), app.ControllerOptions{})
	if err != nil {
		t.Fatalf("BuildController: %v", err)
	}
	return ctrl
}

func (h *harness) login(t *testing.T, ua string) lifecycle.LoginResult {
	t.Helper()
	res, err := h.controller(t).Login(context.Background(), lifecycle.LoginInput{
		Identifier:    "ops@example.com",
		Secret:        "correct horse battery",
		NetworkOrigin: "203.0.113.7",
		UserAgent:     ua,
		Platform:      session.PlatformIOS,
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	return res
}

func TestCLI_UsageErrors(t *testing.T) {
	h := newHarness(t)

	for _, args := range [][]string{
		nil,
		{"sessions"},
		{"sessions", "explode"},
		{"principal", "create"},
		{"principal", "create", "-email", "x@example.com", "-role", "root"},
		{"keygen", "hmac", "-bytes", "8"},
		{"keygen", "paseto", "extra"},
	} {
		_, err := h.run(t, args...)
		if exitCode(err) != 2 {
			t.Fatalf("%v: expected usage error, got %v", args, err)
		}
	}
	if !strings.Contains(h.stderr.String(), "sessions revoke-all") {
		t.Fatalf("usage should list commands, got %q", h.stderr.String())
	}
}

func TestCLI_MigrateRequiresDatabase(t *testing.T) {
	h := newHarness(t)

	if _, err := h.run(t, "migrate", "up"); exitCode(err) != 2 {
		t.Fatalf("expected usage error without GK_DATABASE_URL, got %v", err)
	}

	h.cfg.DatabaseURL = "postgres://gk@localhost/gk"
	out, err := h.run(t, "migrate", "down")
	if err != nil {
		t.Fatalf("migrate down: %v", err)
	}
	if len(h.migr) != 1 || h.migr[0] != h.cfg.DBSchema+":down" || !strings.Contains(out, "ok") {
		t.Fatalf("migrate not invoked as expected: %v %q", h.migr, out)
	}
}

func TestCLI_PrincipalLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.run(t, "principal", "create", "-email", "ops@example.com", "-username", "ops", "-role", "creator")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.Contains(out, "ops@example.com") {
		t.Fatalf("unexpected create output %q", out)
	}

	p, err := h.res.Identity.Store().FindByIdentifier(ctx, "ops")
	if err != nil {
		t.Fatalf("FindByIdentifier: %v", err)
	}
	if p.Role != identity.RoleCreator {
		t.Fatalf("role=%q", p.Role)
	}

	if _, err := h.run(t, "principal", "promote", "-principal", "ops@example.com", "-role", "admin"); err != nil {
		t.Fatalf("promote: %v", err)
	}
	out, err = h.run(t, "principal", "enroll-totp", "-principal", p.ID)
	if err != nil {
		t.Fatalf("enroll-totp: %v", err)
	}
	if !strings.Contains(out, "otpauth://totp/") {
		t.Fatalf("expected provisioning url, got %q", out)
	}

	p, _ = h.res.Identity.Store().GetPrincipal(ctx, p.ID)
	if p.Role != identity.RoleAdmin || !p.HasTOTP() {
		t.Fatalf("principal not updated: role=%q totp=%v", p.Role, p.HasTOTP())
	}

	if _, err := h.run(t, "principal", "promote", "-principal", "nobody@example.com", "-role", "admin"); !identity.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCLI_SessionsAndAudit(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run(t, "principal", "create", "-email", "ops@example.com"); err != nil {
		t.Fatalf("create: %v", err)
	}

	first := h.login(t, "Mozilla/5.0 (iPhone) Mobile/15E148")
	second := h.login(t, "Mozilla/5.0 (iPhone) Mobile/15E148")

	out, err := h.run(t, "sessions", "list", "-principal", "ops@example.com", "-json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var rows []sessionRow
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("decode list: %v (%q)", err, out)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(rows))
	}

	if _, err := h.run(t, "sessions", "revoke", "-principal", "ops@example.com", "-session", first.Tokens.SessionID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := h.run(t, "sessions", "revoke", "-principal", "ops@example.com", "-session", first.Tokens.SessionID); err == nil {
		t.Fatalf("second revoke of the same session should fail")
	}

	out, err = h.run(t, "sessions", "list", "-principal", "ops@example.com")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Contains(out, first.Tokens.SessionID) || !strings.Contains(out, second.Tokens.SessionID) {
		t.Fatalf("table shows wrong sessions:\n%s", out)
	}

	out, err = h.run(t, "sessions", "revoke-all", "-principal", "ops@example.com")
	if err != nil {
		t.Fatalf("revoke-all: %v", err)
	}
	if !strings.Contains(out, "revoked 1 session") {
		t.Fatalf("unexpected revoke-all output %q", out)
	}

	out, err = h.run(t, "audit", "list", "-principal", "ops@example.com", "-json")
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	var entries []auditRow
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode audit: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 login entries, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Event != string(audit.EventLogin) {
			t.Fatalf("unexpected audit event %q", e.Event)
		}
	}
}

func TestCLI_SessionsSweep(t *testing.T) {
	h := newHarness(t)
	if _, err := h.run(t, "principal", "create", "-email", "ops@example.com"); err != nil {
		t.Fatalf("create: %v", err)
	}
	p, _ := h.res.Identity.Store().FindByIdentifier(context.Background(), "ops@example.com")

	past := time.Now().Add(-time.Hour)
	if _, err := h.res.Sessions.Create(context.Background(), session.Record{
		ID:           "01J00000000000000000000EXP",
		PrincipalID:  p.ID,
		RefreshHash:  strings.Repeat("a", 64),
		Platform:     session.PlatformWeb,
		CreatedAt:    past.Add(-time.Hour),
		LastActiveAt: past.Add(-time.Hour),
		ExpiresAt:    past,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	out, err := h.run(t, "sessions", "sweep")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !strings.Contains(out, "removed 1 expired") {
		t.Fatalf("unexpected sweep output %q", out)
	}
}

func TestCLI_Keygen(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "keygen", "paseto")
	if err != nil {
		t.Fatalf("keygen paseto: %v", err)
	}
	cfg := session.DefaultConfig()
	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(out)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("generated key rejected: %v", err)
	}

	out, err = h.run(t, "keygen", "hmac")
	if err != nil {
		t.Fatalf("keygen hmac: %v", err)
	}
	if len(strings.TrimSpace(out)) != 64 {
		t.Fatalf("expected 64 hex chars, got %q", out)
	}
}

func TestExitCode(t *testing.T) {
	if exitCode(usageErr("x")) != 2 || exitCode(errors.New("boom")) != 1 {
		t.Fatalf("exit codes wrong")
	}
}
