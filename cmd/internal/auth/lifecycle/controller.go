package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gatekeeper/cmd/identity"
	"gatekeeper/cmd/internal/auth/audit"
	"gatekeeper/cmd/internal/auth/device"
	"gatekeeper/cmd/internal/auth/risk"
	"gatekeeper/cmd/internal/auth/session"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// CredentialVerifier checks an identifier/secret pair.
type CredentialVerifier interface {
	Verify(ctx context.Context, identifier, secret string) (identity.Principal, error)
}

// PrincipalSource loads principals by id.
type PrincipalSource interface {
	GetPrincipal(ctx context.Context, id string) (identity.Principal, error)
}

// StepUpVerifier validates a one-time code against a principal's secret.
type StepUpVerifier interface {
	Verify(secret, code string, now time.Time) (bool, error)
}

// TokenIssuer mints and checks the tokens a session hands out. *session.Issuer
// implements it.
type TokenIssuer interface {
	MintAccessToken(sub session.Subject, sessionID string, now time.Time) (string, time.Time, error)
	VerifyAccessToken(tok string, now time.Time) (session.AccessClaims, error)
	MintRefreshToken() (plain, hash string, err error)
	HashRefreshToken(plain string) (string, error)
}

// Deps are the collaborators of a Controller. Credentials, Principals,
// Sessions, Issuer and Audit are required.
type Deps struct {
	Config        Config
	SessionConfig session.Config
	RiskConfig    risk.Config

	Credentials CredentialVerifier
	Principals  PrincipalSource
	Sessions    session.Store
	Issuer      TokenIssuer
	Fingerprint device.Fingerprinter
	Geo         risk.GeoResolver
	Audit       audit.Log

	// Optional.
	StepUp    StepUpVerifier
	Publisher Publisher
	Metrics   *Metrics
	Logger    *slog.Logger
	Tracer    trace.Tracer
	Now       func() time.Time
}

// Controller orchestrates the session lifecycle. It is safe for concurrent use.
type Controller struct {
	cfg     Config
	sessCfg session.Config

	credentials CredentialVerifier
	principals  PrincipalSource
	sessions    session.Store
	issuer      TokenIssuer
	fp          device.Fingerprinter
	risk        *risk.Engine
	audit       audit.Log
	stepUp      StepUpVerifier
	publisher   Publisher
	metrics     *Metrics
	log         *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// New validates deps and builds a Controller.
func New(d Deps) (*Controller, error) {
	if err := d.Config.Validate(); err != nil {
		return nil, err
	}
	if d.Credentials == nil || d.Principals == nil || d.Sessions == nil || d.Issuer == nil || d.Audit == nil {
		return nil, fmt.Errorf("%w: missing dependency", ErrConfig)
	}

	engine, err := risk.NewEngine(d.RiskConfig, sessionHistory{store: d.Sessions}, d.Geo)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:         d.Config,
		sessCfg:     d.SessionConfig,
		credentials: d.Credentials,
		principals:  d.Principals,
		sessions:    d.Sessions,
		issuer:      d.Issuer,
		fp:          d.Fingerprint,
		risk:        engine,
		audit:       d.Audit,
		stepUp:      d.StepUp,
		publisher:   d.Publisher,
		metrics:     d.Metrics,
		log:         d.Logger,
		tracer:      d.Tracer,
		now:         d.Now,
	}
	if c.publisher == nil {
		c.publisher = nopPublisher{}
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("gatekeeper/lifecycle")
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// PrincipalSummary is the caller-facing view of a principal.
type PrincipalSummary struct {
	ID           string
	Email        string
	Username     string
	Role         identity.Role
	TOTPEnrolled bool
}

func summarize(p identity.Principal) PrincipalSummary {
	return PrincipalSummary{
		ID:           p.ID,
		Email:        p.Email,
		Username:     p.Username,
		Role:         p.Role,
		TOTPEnrolled: p.HasTOTP(),
	}
}

func subject(p identity.Principal) session.Subject {
	return session.Subject{ID: p.ID, Email: p.Email, Role: string(p.Role)}
}

// Tokens is a freshly minted token pair. RefreshToken is handed out exactly once.
type Tokens struct {
	SessionID        string
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

func (c *Controller) startSpan(ctx context.Context, name string) (context.Context, trace.Span, time.Time) {
	ctx, span := c.tracer.Start(ctx, name)
	return ctx, span, time.Now()
}

// finish records the outcome of op on span and metrics.
func (c *Controller) finish(span trace.Span, op string, started time.Time, err error) {
	outcome := outcomeOf(err)
	span.SetAttributes(attribute.String("auth.outcome", outcome))
	if err != nil && outcome == "error" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()

	c.metrics.decisions.WithLabelValues(op, outcome).Inc()
	c.metrics.duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func outcomeOf(err error) string {
	var ce *ChallengeError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrAuthBlocked):
		return "blocked"
	case errors.As(err, &ce):
		return "challenge"
	case errors.Is(err, ErrSessionInvalid):
		return "session_invalid"
	case errors.Is(err, ErrSessionExpired):
		return "session_expired"
	case errors.Is(err, ErrSessionRevoked):
		return "session_revoked"
	case errors.Is(err, ErrTokenInvalid):
		return "token_invalid"
	default:
		return "error"
	}
}

// evaluate runs the risk engine under the decision budget.
func (c *Controller) evaluate(ctx context.Context, op string, in risk.Input) (risk.Result, error) {
	res, err := c.risk.Evaluate(ctx, in)
	if err != nil {
		return risk.Result{}, fmt.Errorf("lifecycle: risk: %w", err)
	}
	c.metrics.riskScore.WithLabelValues(op).Observe(float64(res.Score))
	return res, nil
}

// record appends an audit entry. Failures are logged and counted, never returned.
func (c *Controller) record(ctx context.Context, ev audit.Event, sessionID, principalID string, res risk.Result, ip, ua string, at time.Time) {
	err := c.audit.Append(context.WithoutCancel(ctx), audit.Entry{
		SessionID:   sessionID,
		PrincipalID: principalID,
		Event:       ev,
		Score:       res.Score,
		Action:      string(res.Action),
		Factors:     res.Factors,
		IP:          ip,
		UserAgent:   ua,
		CreatedAt:   at,
	})
	if err != nil {
		c.metrics.auditFailures.Inc()
		c.log.Error("auth.audit.append.fail", "err", err, "event", string(ev), "principal_id", principalID)
	}
}

func (c *Controller) revoked(ctx context.Context, principalID string, ids []string, reason string, at time.Time) {
	if len(ids) == 0 {
		return
	}
	c.metrics.revocations.WithLabelValues(reason).Add(float64(len(ids)))
	c.publisher.PublishRevocation(context.WithoutCancel(ctx), Revocation{
		PrincipalID: principalID,
		SessionIDs:  ids,
		Reason:      reason,
		At:          at,
	})
}
