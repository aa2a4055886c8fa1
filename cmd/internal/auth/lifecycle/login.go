package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"gatekeeper/cmd/internal/auth/audit"
	"gatekeeper/cmd/internal/auth/device"
	"gatekeeper/cmd/internal/auth/risk"
	"gatekeeper/cmd/internal/auth/session"

	"go.opentelemetry.io/otel/attribute"
)

// LoginInput is one password login attempt.
type LoginInput struct {
	Identifier    string
	Secret        string
	UserAgent     string
	NetworkOrigin string
	CountryHint   string
	Platform      session.Platform
	RememberMe    bool
}

// LoginResult carries the new session. Action is the risk decision; callers
// may still demand out-of-band step-up for challenge actions.
type LoginResult struct {
	Principal PrincipalSummary
	Tokens    Tokens
	Action    risk.Action
}

// Login verifies credentials, scores the attempt and opens a session unless
// the decision is BLOCK.
func (c *Controller) Login(ctx context.Context, in LoginInput) (res LoginResult, err error) {
	ctx, span, started := c.startSpan(ctx, "lifecycle.Login")
	defer func() { c.finish(span, "login", started, err) }()

	now := c.now()
	ip := device.CanonicalIP(in.NetworkOrigin)
	ua := device.NormalizeUserAgent(in.UserAgent)

	dctx, cancel := context.WithTimeout(ctx, c.cfg.DecisionTimeout)
	defer cancel()

	p, err := c.credentials.Verify(dctx, in.Identifier, in.Secret)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, fmt.Errorf("lifecycle: verify credentials: %w", err)
	}
	span.SetAttributes(attribute.String("auth.principal_id", p.ID))

	decision, err := c.evaluate(dctx, "login", risk.Input{
		PrincipalID: p.ID,
		IP:          ip,
		UserAgent:   ua,
		CountryHint: in.CountryHint,
	})
	if err != nil {
		return LoginResult{}, err
	}
	cancel()
	span.SetAttributes(attribute.String("auth.action", string(decision.Action)), attribute.Int("auth.risk_score", decision.Score))

	if decision.Action == risk.ActionBlock {
		c.record(ctx, audit.EventLoginBlock, "", p.ID, decision, ip, ua, now)
		c.log.Warn("auth.login.blocked", "principal_id", p.ID, "score", decision.Score, "factors", decision.Factors)
		return LoginResult{}, ErrAuthBlocked
	}

	platform := in.Platform
	if platform == "" {
		platform = session.PlatformUnknown
	}

	plain, hash, err := c.issuer.MintRefreshToken()
	if err != nil {
		return LoginResult{}, fmt.Errorf("lifecycle: mint refresh: %w", err)
	}

	rec, err := c.sessions.Create(ctx, session.Record{
		PrincipalID:  p.ID,
		RefreshHash:  hash,
		Fingerprint:  c.fp.Fingerprint(ua, ip),
		Platform:     platform,
		IP:           ip,
		UserAgent:    ua,
		Country:      decision.Country,
		RiskScore:    decision.Score,
		CreatedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(c.sessCfg.RefreshTTL(platform, in.RememberMe)),
	})
	if err != nil {
		return LoginResult{}, fmt.Errorf("lifecycle: create session: %w", err)
	}

	access, accessExp, err := c.issuer.MintAccessToken(subject(p), rec.ID, now)
	if err != nil {
		// Do not leave a session nobody holds a token for.
		_, _ = c.sessions.Delete(context.WithoutCancel(ctx), rec.ID)
		return LoginResult{}, fmt.Errorf("lifecycle: mint access: %w", err)
	}

	c.record(ctx, audit.EventLogin, rec.ID, p.ID, decision, ip, ua, now)
	c.log.Info("auth.login.ok", "principal_id", p.ID, "session_id", rec.ID, "action", string(decision.Action), "platform", string(platform))

	return LoginResult{
		Principal: summarize(p),
		Tokens: Tokens{
			SessionID:        rec.ID,
			AccessToken:      access,
			AccessExpiresAt:  accessExp,
			RefreshToken:     plain,
			RefreshExpiresAt: rec.ExpiresAt,
		},
		Action: decision.Action,
	}, nil
}
