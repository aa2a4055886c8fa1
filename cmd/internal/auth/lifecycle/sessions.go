package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatekeeper/cmd/internal/auth/session"
)

// Logout deletes the session holding refreshToken. A missing token or an
// unknown session is a successful no-op.
func (c *Controller) Logout(ctx context.Context, refreshToken string) (err error) {
	ctx, span, started := c.startSpan(ctx, "lifecycle.Logout")
	defer func() { c.finish(span, "logout", started, err) }()

	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	hash, err := c.issuer.HashRefreshToken(refreshToken)
	if err != nil {
		return nil
	}

	rec, err := c.sessions.DeleteByRefreshHash(ctx, hash)
	if errors.Is(err, session.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lifecycle: logout: %w", err)
	}

	c.revoked(ctx, rec.PrincipalID, []string{rec.ID}, ReasonLogout, c.now())
	c.log.Info("auth.logout.ok", "session_id", rec.ID, "principal_id", rec.PrincipalID)
	return nil
}

// VerifyAccessToken checks an access token's signature and expiry. It never
// touches the session store.
func (c *Controller) VerifyAccessToken(tok string) (session.AccessClaims, error) {
	claims, err := c.issuer.VerifyAccessToken(tok, c.now())
	if err != nil {
		return session.AccessClaims{}, ErrTokenInvalid
	}
	return claims, nil
}

// SessionSummary is a session as shown to its owner or an operator.
type SessionSummary struct {
	ID           string
	PrincipalID  string
	Platform     session.Platform
	IP           string
	UserAgent    string
	Country      string
	RiskScore    int
	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
}

// ListSessions returns the principal's live sessions, newest first.
func (c *Controller) ListSessions(ctx context.Context, principalID string) ([]SessionSummary, error) {
	recs, err := c.sessions.ListByPrincipal(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: list sessions: %w", err)
	}
	now := c.now()
	out := make([]SessionSummary, 0, len(recs))
	for _, r := range recs {
		if r.Expired(now) {
			continue
		}
		out = append(out, SessionSummary{
			ID:           r.ID,
			PrincipalID:  r.PrincipalID,
			Platform:     r.Platform,
			IP:           r.IP,
			UserAgent:    r.UserAgent,
			Country:      r.Country,
			RiskScore:    r.RiskScore,
			CreatedAt:    r.CreatedAt,
			LastActiveAt: r.LastActiveAt,
			ExpiresAt:    r.ExpiresAt,
		})
	}
	return out, nil
}

// RevokeSession deletes one session. A non-empty principalID restricts the
// revocation to sessions that principal owns; others look like ErrSessionInvalid.
func (c *Controller) RevokeSession(ctx context.Context, principalID, sessionID string) error {
	rec, err := c.sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrSessionNotFound) {
		return ErrSessionInvalid
	}
	if err != nil {
		return fmt.Errorf("lifecycle: revoke: %w", err)
	}
	if principalID != "" && rec.PrincipalID != principalID {
		return ErrSessionInvalid
	}

	deleted, err := c.sessions.Delete(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("lifecycle: revoke: %w", err)
	}
	if !deleted {
		return ErrSessionInvalid
	}
	c.revoked(ctx, rec.PrincipalID, []string{rec.ID}, ReasonRevoked, c.now())
	c.log.Info("auth.session.revoked", "session_id", rec.ID, "principal_id", rec.PrincipalID)
	return nil
}

// RevokeAllForPrincipal deletes every session of the principal.
func (c *Controller) RevokeAllForPrincipal(ctx context.Context, principalID string) (int, error) {
	ids, err := c.sessions.DeleteByPrincipal(ctx, principalID)
	if err != nil {
		return 0, fmt.Errorf("lifecycle: revoke all: %w", err)
	}
	c.revoked(ctx, principalID, ids, ReasonRevokeAll, c.now())
	c.log.Info("auth.session.revoked_all", "principal_id", principalID, "count", len(ids))
	return len(ids), nil
}

// SweepExpired deletes sessions past their expiry.
func (c *Controller) SweepExpired(ctx context.Context) (int, error) {
	n, err := c.sessions.DeleteExpired(ctx, c.now())
	if err != nil {
		return 0, fmt.Errorf("lifecycle: sweep: %w", err)
	}
	if n > 0 {
		c.log.Info("auth.session.sweep", "deleted", n)
	}
	return n, nil
}
