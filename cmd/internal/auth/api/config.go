package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrConfig is returned for invalid API configuration.
var ErrConfig = errors.New("api config invalid")

// Config controls request limits, client-IP trust and the web cookie transport.
type Config struct {
	TrustProxy bool
	// CountryHeader names an edge-provided country header (e.g. CF-IPCountry).
	// It is only read when TrustProxy is set.
	CountryHeader string
	MaxBodyBytes  int64

	// Per-IP token buckets (requests per second, burst).
	LoginRate    float64
	LoginBurst   int
	RefreshRate  float64
	RefreshBurst int
	// Idle limiters are forgotten after LimiterTTL.
	LimiterTTL time.Duration

	WebRefreshCookieEnabled bool
	RefreshCookieName       string
	CSRFCookieName          string
	CSRFHeaderName          string
	CookiePath              string
	CookieDomain            string
	CookieSecure            bool
	CookieSameSite          http.SameSite
}

// DefaultConfig returns secure defaults.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes: 1 << 20,

		LoginRate:    0.2, // one every 5s sustained
		LoginBurst:   10,
		RefreshRate:  1,
		RefreshBurst: 20,
		LimiterTTL:   15 * time.Minute,

		WebRefreshCookieEnabled: true,
		RefreshCookieName:       "gk_refresh_token",
		CSRFCookieName:          "gk_csrf_token",
		CSRFHeaderName:          "X-CSRF-Token",
		CookiePath:              "/auth",
		CookieSecure:            true,
		CookieSameSite:          http.SameSiteLaxMode,
	}
}

// Validate rejects configurations that would disable core protections.
func (c Config) Validate() error {
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("%w: max body bytes must be > 0", ErrConfig)
	}
	if c.LoginRate <= 0 || c.LoginBurst <= 0 || c.RefreshRate <= 0 || c.RefreshBurst <= 0 {
		return fmt.Errorf("%w: rate limits must be > 0", ErrConfig)
	}
	if c.LimiterTTL <= 0 {
		return fmt.Errorf("%w: limiter ttl must be > 0", ErrConfig)
	}
	if c.WebRefreshCookieEnabled {
		if strings.TrimSpace(c.RefreshCookieName) == "" || strings.TrimSpace(c.CSRFCookieName) == "" || strings.TrimSpace(c.CSRFHeaderName) == "" {
			return fmt.Errorf("%w: cookie and csrf names are required", ErrConfig)
		}
		if c.CookieSameSite == http.SameSiteNoneMode && !c.CookieSecure {
			return fmt.Errorf("%w: SameSite=None requires Secure cookies", ErrConfig)
		}
	}
	return nil
}

// ParseSameSite maps lax|strict|none to http.SameSite.
func ParseSameSite(s string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("%w: unknown SameSite %q", ErrConfig, s)
	}
}
