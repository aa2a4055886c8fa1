package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatekeeper/cmd/identity"
	"gatekeeper/cmd/internal/auth/audit"
	"gatekeeper/cmd/internal/auth/device"
	"gatekeeper/cmd/internal/auth/risk"
	"gatekeeper/cmd/internal/auth/session"

	"go.opentelemetry.io/otel/attribute"
)

// RefreshInput presents a refresh token for rotation.
type RefreshInput struct {
	RefreshToken  string
	UserAgent     string
	NetworkOrigin string
	CountryHint   string

	// ChallengePassed is set by callers that verified a step-up out of band.
	ChallengePassed bool
	// OTP, when set, is checked against the principal's TOTP secret if the
	// risk decision asks for a challenge.
	OTP string
}

// RefreshResult carries the rotated token pair.
type RefreshResult struct {
	Principal PrincipalSummary
	Tokens    Tokens
	Action    risk.Action
}

// Refresh rotates a session's refresh token.
func (c *Controller) Refresh(ctx context.Context, in RefreshInput) (res RefreshResult, err error) {
	ctx, span, started := c.startSpan(ctx, "lifecycle.Refresh")
	defer func() { c.finish(span, "refresh", started, err) }()

	now := c.now()
	ip := device.CanonicalIP(in.NetworkOrigin)
	ua := device.NormalizeUserAgent(in.UserAgent)

	hash, err := c.issuer.HashRefreshToken(in.RefreshToken)
	if err != nil {
		return RefreshResult{}, ErrSessionInvalid
	}

	rec, err := c.sessions.FindByRefreshHash(ctx, hash)
	if errors.Is(err, session.ErrSessionNotFound) {
		return RefreshResult{}, c.checkReuse(ctx, hash, ip, ua, in.CountryHint, now)
	}
	if err != nil {
		return RefreshResult{}, fmt.Errorf("lifecycle: find session: %w", err)
	}
	span.SetAttributes(attribute.String("auth.session_id", rec.ID), attribute.String("auth.principal_id", rec.PrincipalID))

	if rec.Expired(now) {
		if _, err := c.sessions.Delete(ctx, rec.ID); err != nil {
			return RefreshResult{}, fmt.Errorf("lifecycle: delete expired: %w", err)
		}
		c.log.Info("auth.refresh.expired", "session_id", rec.ID, "principal_id", rec.PrincipalID)
		return RefreshResult{}, ErrSessionExpired
	}

	p, err := c.principals.GetPrincipal(ctx, rec.PrincipalID)
	if err != nil {
		if identity.IsNotFound(err) {
			_, _ = c.sessions.Delete(ctx, rec.ID)
			return RefreshResult{}, ErrSessionInvalid
		}
		return RefreshResult{}, fmt.Errorf("lifecycle: load principal: %w", err)
	}

	dctx, cancel := context.WithTimeout(ctx, c.cfg.DecisionTimeout)
	defer cancel()
	decision, err := c.evaluate(dctx, "refresh", risk.Input{
		PrincipalID: rec.PrincipalID,
		IP:          ip,
		UserAgent:   ua,
		CountryHint: in.CountryHint,
	})
	if err != nil {
		return RefreshResult{}, err
	}
	cancel()
	span.SetAttributes(attribute.String("auth.action", string(decision.Action)), attribute.Int("auth.risk_score", decision.Score))

	switch {
	case decision.Action == risk.ActionBlock:
		deleted, err := c.sessions.Delete(ctx, rec.ID)
		if err != nil {
			return RefreshResult{}, fmt.Errorf("lifecycle: revoke blocked: %w", err)
		}
		c.record(ctx, audit.EventRefreshBlock, rec.ID, rec.PrincipalID, decision, ip, ua, now)
		if deleted {
			c.revoked(ctx, rec.PrincipalID, []string{rec.ID}, ReasonBlocked, now)
		}
		c.log.Warn("auth.refresh.blocked", "session_id", rec.ID, "principal_id", rec.PrincipalID, "score", decision.Score, "factors", decision.Factors)
		return RefreshResult{}, ErrAuthBlocked

	case decision.Action.Challenge() && !c.challengeSatisfied(in, p, now):
		c.record(ctx, audit.EventRefreshChallenge, rec.ID, rec.PrincipalID, decision, ip, ua, now)
		c.log.Info("auth.refresh.challenge", "session_id", rec.ID, "principal_id", rec.PrincipalID, "action", string(decision.Action))
		return RefreshResult{}, &ChallengeError{Action: decision.Action}
	}

	// Mint everything before the swap; a committed rotation must hand out
	// its tokens.
	plain, newHash, err := c.issuer.MintRefreshToken()
	if err != nil {
		return RefreshResult{}, fmt.Errorf("lifecycle: mint refresh: %w", err)
	}
	access, accessExp, err := c.issuer.MintAccessToken(subject(p), rec.ID, now)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("lifecycle: mint access: %w", err)
	}

	next, err := c.sessions.Rotate(ctx, session.Rotation{
		SessionID:        rec.ID,
		ExpectedHash:     hash,
		NewHash:          newHash,
		Fingerprint:      c.fp.Fingerprint(ua, ip),
		IP:               ip,
		UserAgent:        ua,
		Country:          decision.Country,
		RiskScore:        decision.Score,
		Now:              now,
		HistoryRetention: c.sessCfg.HistoryRetention,
	})
	if err != nil {
		if errors.Is(err, session.ErrHashMismatch) || errors.Is(err, session.ErrSessionNotFound) {
			// A concurrent refresh won the swap.
			return RefreshResult{}, ErrSessionInvalid
		}
		return RefreshResult{}, fmt.Errorf("lifecycle: rotate: %w", err)
	}

	c.record(ctx, audit.EventRefreshSuccess, next.ID, next.PrincipalID, decision, ip, ua, now)

	return RefreshResult{
		Principal: summarize(p),
		Tokens: Tokens{
			SessionID:        next.ID,
			AccessToken:      access,
			AccessExpiresAt:  accessExp,
			RefreshToken:     plain,
			RefreshExpiresAt: next.ExpiresAt,
		},
		Action: decision.Action,
	}, nil
}

func (c *Controller) challengeSatisfied(in RefreshInput, p identity.Principal, now time.Time) bool {
	if in.ChallengePassed {
		return true
	}
	code := strings.TrimSpace(in.OTP)
	if code == "" || c.stepUp == nil || !p.HasTOTP() {
		return false
	}
	ok, err := c.stepUp.Verify(p.TOTPSecret, code, now)
	return err == nil && ok
}

// checkReuse handles a hash that is not current anywhere. A retired hash
// is theft or replay, and its session is revoked, unless it arrives within
// the grace period from the device that performed the rotation.
func (c *Controller) checkReuse(ctx context.Context, hash, ip, ua, countryHint string, now time.Time) error {
	retired, err := c.sessions.FindRetired(ctx, hash)
	if errors.Is(err, session.ErrSessionNotFound) {
		return ErrSessionInvalid
	}
	if err != nil {
		return fmt.Errorf("lifecycle: find retired: %w", err)
	}

	if now.Sub(retired.RetiredAt) <= c.cfg.ReuseGracePeriod {
		cur, err := c.sessions.Get(ctx, retired.SessionID)
		if errors.Is(err, session.ErrSessionNotFound) {
			return ErrSessionInvalid
		}
		if err != nil {
			return fmt.Errorf("lifecycle: load rotated session: %w", err)
		}
		if cur.Fingerprint == c.fp.Fingerprint(ua, ip) {
			// Lost a race with our own concurrent refresh; not theft.
			return ErrSessionInvalid
		}
	}

	deleted, err := c.sessions.Delete(ctx, retired.SessionID)
	if err != nil {
		return fmt.Errorf("lifecycle: revoke reused: %w", err)
	}
	c.metrics.reuseDetected.Inc()

	dctx, cancel := context.WithTimeout(ctx, c.cfg.DecisionTimeout)
	defer cancel()
	decision, err := c.evaluate(dctx, "reuse", risk.Input{
		PrincipalID:        retired.PrincipalID,
		IP:                 ip,
		UserAgent:          ua,
		CountryHint:        countryHint,
		TokenReuseDetected: true,
	})
	if err != nil {
		// The session is already gone; score the audit entry from the reuse signal alone.
		c.log.Error("auth.refresh.reuse.risk.fail", "err", err, "session_id", retired.SessionID)
		cfg := c.risk.Config()
		score, factors := risk.Score(cfg, risk.Signals{TokenReuse: true, Country: risk.CountryUnresolved})
		decision = risk.Result{Score: score, Action: cfg.Thresholds.Decide(score), Factors: factors}
	}

	c.record(ctx, audit.EventTokenReuse, retired.SessionID, retired.PrincipalID, decision, ip, ua, now)
	if deleted {
		c.revoked(ctx, retired.PrincipalID, []string{retired.SessionID}, ReasonReuse, now)
	}
	c.log.Warn("auth.refresh.reuse_detected",
		"session_id", retired.SessionID,
		"principal_id", retired.PrincipalID,
		"retired_at", retired.RetiredAt,
		"ip", ip,
	)
	return ErrSessionRevoked
}
