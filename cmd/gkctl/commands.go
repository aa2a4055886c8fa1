package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"gatekeeper/cmd/identity"
	"gatekeeper/cmd/identity/ids"
	"gatekeeper/cmd/internal/app"
	"gatekeeper/cmd/internal/auth/audit"
	"gatekeeper/cmd/internal/auth/challenge"
	"gatekeeper/cmd/internal/auth/lifecycle"
	"gatekeeper/cmd/internal/auth/session"
	"gatekeeper/cmd/internal/db/migrate"
	"gatekeeper/cmd/security/token"
)

func defaultLoadConfig() (app.Config, error) { return app.LoadConfig() }

func defaultOpen(ctx context.Context, cfg app.Config, log *slog.Logger) (*app.Resources, error) {
	return app.Open(ctx, cfg, log)
}

func defaultMigrate(ctx context.Context, dsn, schema, direction string) error {
	return migrate.Run(ctx, dsn, schema, direction)
}

func cmdMigrate(direction string) func(context.Context, *cli, []string) error {
	return func(ctx context.Context, c *cli, args []string) error {
		fs := c.flags("migrate " + direction)
		if err := c.parse(fs, args); err != nil {
			return err
		}
		cfg, err := c.loadConfig()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return usageErr("GK_DATABASE_URL is not set")
		}
		if err := c.migrate(ctx, cfg.DatabaseURL, cfg.DBSchema, direction); err != nil {
			return fmt.Errorf("migrate %s: %w", direction, err)
		}
		fmt.Fprintf(c.stdout, "migrate %s: ok (schema %s)\n", direction, cfg.DBSchema)
		return nil
	}
}

func cmdPrincipalCreate(ctx context.Context, c *cli, args []string) error {
	fs := c.flags("principal create")
	email := fs.String("email", "", "email address (required)")
	username := fs.String("username", "", "optional username")
	role := fs.String("role", string(identity.RoleUser), "user, creator or admin")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*email) == "" {
		return usageErr("-email is required")
	}
	r, err := identity.ParseRole(*role)
	if err != nil {
		return usageErr("%v", err)
	}

	pw, err := c.readSecret("Password")
	if err != nil {
		return err
	}

	e, err := c.env(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	p, err := e.res.Identity.Register(ctx, identity.RegisterInput{Email: *email, Username: *username, Password: pw})
	if err != nil {
		return err
	}
	if r != identity.RoleUser {
		if err := e.res.Identity.Promote(ctx, p.ID, r); err != nil {
			return err
		}
	}
	fmt.Fprintf(c.stdout, "created principal %s (%s, %s)\n", p.ID, p.Email, r)
	return nil
}

func cmdPrincipalPromote(ctx context.Context, c *cli, args []string) error {
	fs := c.flags("principal promote")
	id := fs.String("principal", "", "principal id or identifier (required)")
	role := fs.String("role", "", "user, creator or admin (required)")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	r, err := identity.ParseRole(*role)
	if err != nil {
		return usageErr("%v", err)
	}

	e, err := c.env(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	p, err := resolvePrincipal(ctx, e, *id)
	if err != nil {
		return err
	}
	if err := e.res.Identity.Promote(ctx, p.ID, r); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "principal %s is now %s\n", p.ID, r)
	return nil
}

func cmdPrincipalEnrollTOTP(ctx context.Context, c *cli, args []string) error {
	fs := c.flags("principal enroll-totp")
	id := fs.String("principal", "", "principal id or identifier (required)")
	if err := c.parse(fs, args); err != nil {
		return err
	}

	e, err := c.env(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	p, err := resolvePrincipal(ctx, e, *id)
	if err != nil {
		return err
	}
	enr, err := challenge.NewTOTP(e.cfg.TOTPIssuer).Enroll(p.Email)
	if err != nil {
		return err
	}
	if err := e.res.Identity.SetTOTPSecret(ctx, p.ID, enr.Secret); err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "secret: %s\nurl:    %s\n", enr.Secret, enr.URL)
	return nil
}

// resolvePrincipal accepts an id, an email or a username.
func resolvePrincipal(ctx context.Context, e *env, ref string) (identity.Principal, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return identity.Principal{}, usageErr("-principal is required")
	}
	store := e.res.Identity.Store()
	if ids.Valid(ref) {
		p, err := store.GetPrincipal(ctx, ref)
		if !identity.IsNotFound(err) {
			return p, err
		}
	}
	return store.FindByIdentifier(ctx, ref)
}

type sessionRow struct {
	ID           string    `json:"id"`
	Platform     string    `json:"platform"`
	IP           string    `json:"ip"`
	Country      string    `json:"country,omitempty"`
	RiskScore    int       `json:"risk_score"`
	UserAgent    string    `json:"user_agent"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func cmdSessionsList(ctx context.Context, c *cli, args []string) error {
	fs := c.flags("sessions list")
	id := fs.String("principal", "", "principal id or identifier (required)")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := c.parse(fs, args); err != nil {
		return err
	}

	e, err := c.env(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	p, err := resolvePrincipal(ctx, e, *id)
	if err != nil {
		return err
	}
	ctrl, err := e.controller()
	if err != nil {
		return err
	}
	list, err := ctrl.ListSessions(ctx, p.ID)
	if err != nil {
		return err
	}

	rows := make([]sessionRow, 0, len(list))
	for _, s := range list {
		rows = append(rows, sessionRow{
			ID:           s.ID,
			Platform:     string(s.Platform),
			IP:           s.IP,
			Country:      s.Country,
			RiskScore:    s.RiskScore,
			UserAgent:    s.UserAgent,
			CreatedAt:    s.CreatedAt,
			LastActiveAt: s.LastActiveAt,
			ExpiresAt:    s.ExpiresAt,
		})
	}
	if *asJSON {
		return writeJSON(c, rows)
	}

	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tPLATFORM\tIP\tCOUNTRY\tSCORE\tLAST ACTIVE\tEXPIRES")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.Platform, r.IP, dash(r.Country), r.RiskScore,
			r.LastActiveAt.Format(time.RFC3339), r.ExpiresAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func cmdSessionsRevoke(ctx context.Context, c *cli, args []string) error {
	fs := c.flags("sessions revoke")
	id := fs.String("principal", "", "principal id or identifier (required)")
	sid := fs.String("session", "", "session id (required)")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	if strings.TrimSpace(*sid) == "" {
		return usageErr("-session is required")
	}

	e, err := c.env(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	p, err := resolvePrincipal(ctx, e, *id)
	if err != nil {
		return err
	}
	ctrl, err := e.controller()
	if err != nil {
		return err
	}
	if err := ctrl.RevokeSession(ctx, p.ID, *sid); err != nil {
		if errors.Is(err, lifecycle.ErrSessionInvalid) {
			return fmt.Errorf("session %s not found for %s", *sid, p.ID)
		}
		return err
	}
	fmt.Fprintf(c.stdout, "revoked session %s\n", *sid)
	return nil
}

func cmdSessionsRevokeAll(ctx context.Context, c *cli, args []string) error {
	fs := c.flags("sessions revoke-all")
	id := fs.String("principal", "", "principal id or identifier (required)")
	if err := c.parse(fs, args); err != nil {
		return err
	}

	e, err := c.env(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	p, err := resolvePrincipal(ctx, e, *id)
	if err != nil {
		return err
	}
	ctrl, err := e.controller()
	if err != nil {
		return err
	}
	n, err := ctrl.RevokeAllForPrincipal(ctx, p.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "revoked %d session(s) for %s\n", n, p.ID)
	return nil
}

func cmdSessionsSweep(ctx context.Context, c *cli, args []string) error {
	fs := c.flags("sessions sweep")
	if err := c.parse(fs, args); err != nil {
		return err
	}

	e, err := c.env(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	ctrl, err := e.controller()
	if err != nil {
		return err
	}
	n, err := ctrl.SweepExpired(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.stdout, "removed %d expired session(s)\n", n)
	return nil
}

type auditRow struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	PrincipalID string    `json:"principal_id"`
	SessionID   string    `json:"session_id,omitempty"`
	Event       string    `json:"event"`
	Score       int       `json:"score"`
	Action      string    `json:"action"`
	Factors     []string  `json:"factors"`
	IP          string    `json:"ip"`
}

func cmdAuditList(ctx context.Context, c *cli, args []string) error {
	fs := c.flags("audit list")
	id := fs.String("principal", "", "principal id or identifier")
	sid := fs.String("session", "", "session id")
	limit := fs.Int("limit", audit.DefaultListLimit, "max entries")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := c.parse(fs, args); err != nil {
		return err
	}

	e, err := c.env(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	f := audit.Filter{SessionID: strings.TrimSpace(*sid), Limit: *limit}
	if strings.TrimSpace(*id) != "" {
		p, err := resolvePrincipal(ctx, e, *id)
		if err != nil {
			return err
		}
		f.PrincipalID = p.ID
	}
	entries, err := e.res.Audit.List(ctx, f)
	if err != nil {
		return err
	}

	rows := make([]auditRow, 0, len(entries))
	for _, en := range entries {
		rows = append(rows, auditRow{
			ID:          en.ID,
			CreatedAt:   en.CreatedAt,
			PrincipalID: en.PrincipalID,
			SessionID:   en.SessionID,
			Event:       string(en.Event),
			Score:       en.Score,
			Action:      en.Action,
			Factors:     en.Factors,
			IP:          en.IP,
		})
	}
	if *asJSON {
		return writeJSON(c, rows)
	}

	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tEVENT\tACTION\tSCORE\tPRINCIPAL\tSESSION\tFACTORS")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.CreatedAt.Format(time.RFC3339), r.Event, r.Action, r.Score,
			r.PrincipalID, dash(r.SessionID), dash(strings.Join(r.Factors, ",")))
	}
	return tw.Flush()
}

func cmdKeygenPaseto(_ context.Context, c *cli, args []string) error {
	if err := c.parse(c.flags("keygen paseto"), args); err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, session.NewPasetoV4SecretKeyHex())
	return nil
}

func cmdKeygenHMAC(_ context.Context, c *cli, args []string) error {
	fs := c.flags("keygen hmac")
	n := fs.Int("bytes", 32, "key length in bytes")
	if err := c.parse(fs, args); err != nil {
		return err
	}
	if *n < token.MinHMACKeyBytes {
		return usageErr("-bytes must be >= %d", token.MinHMACKeyBytes)
	}
	b := make([]byte, *n)
	if _, err := rand.Read(b); err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, hex.EncodeToString(b))
	return nil
}

func writeJSON(c *cli, v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
