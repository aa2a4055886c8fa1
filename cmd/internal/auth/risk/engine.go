package risk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gatekeeper/cmd/internal/auth/device"
)

// SessionContext is the slice of a past session the engine compares against.
type SessionContext struct {
	UserAgent string
	Country   string
}

// HistorySource lists the contexts of a principal's existing sessions.
type HistorySource interface {
	SessionContexts(ctx context.Context, principalID string) ([]SessionContext, error)
}

// Input describes one authentication attempt.
type Input struct {
	PrincipalID string
	IP          string
	UserAgent   string
	// CountryHint comes from a trusted edge (for example a CDN country header)
	// and is used only when the resolver has no answer.
	CountryHint        string
	TokenReuseDetected bool
}

// Engine evaluates Inputs against history and geo data.
type Engine struct {
	cfg     Config
	history HistorySource
	geo     GeoResolver
}

// NewEngine validates cfg and builds an Engine. A nil geo resolver resolves nothing.
func NewEngine(cfg Config, history HistorySource, geo GeoResolver) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if history == nil {
		return nil, fmt.Errorf("%w: nil history source", ErrConfig)
	}
	if geo == nil {
		geo = NopResolver{}
	}
	return &Engine{cfg: cfg, history: history, geo: geo}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Evaluate scores in. Only context errors and history failures are returned;
// resolver failures degrade to an unresolved country.
func (e *Engine) Evaluate(ctx context.Context, in Input) (Result, error) {
	history, err := e.history.SessionContexts(ctx, in.PrincipalID)
	if err != nil {
		return Result{}, fmt.Errorf("risk: history: %w", err)
	}

	loc, err := e.geo.Resolve(ctx, device.CanonicalIP(in.IP))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Result{}, err
		}
		loc = Location{}
	}
	country := strings.ToUpper(strings.TrimSpace(loc.Country))
	if country == "" {
		country = normalizeHint(in.CountryHint)
	}

	signals := Signals{
		TokenReuse: in.TokenReuseDetected,
		Datacenter: loc.Datacenter,
		Country:    classifyCountry(country, history),
	}

	ua := device.NormalizeUserAgent(in.UserAgent)
	for _, h := range history {
		if ua != "" && device.NormalizeUserAgent(h.UserAgent) == ua {
			signals.KnownDevice = true
			break
		}
	}

	score, factors := Score(e.cfg, signals)
	return Result{
		Score:   score,
		Action:  e.cfg.Thresholds.Decide(score),
		Factors: factors,
		Country: country,
	}, nil
}

func classifyCountry(country string, history []SessionContext) CountryStatus {
	if country == "" {
		return CountryUnresolved
	}
	seen := false
	for _, h := range history {
		if h.Country == "" {
			continue
		}
		seen = true
		if strings.EqualFold(h.Country, country) {
			return CountryKnown
		}
	}
	if !seen {
		return CountryFirstSeen
	}
	return CountryChanged
}

// normalizeHint accepts two-letter codes only; CDN placeholders such as "XX" or "T1" are dropped.
func normalizeHint(h string) string {
	h = strings.ToUpper(strings.TrimSpace(h))
	if len(h) != 2 || h == "XX" {
		return ""
	}
	for _, r := range h {
		if r < 'A' || r > 'Z' {
			return ""
		}
	}
	return h
}
