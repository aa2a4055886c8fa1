package session

import (
	"fmt"
	"strings"
	"time"
)

// Signer selects the access-token format.
type Signer string

const (
	SignerPasetoV4 Signer = "paseto"
	SignerJWTHS256 Signer = "jwt"
)

// MaxSessionTTL caps every trust tier.
const MaxSessionTTL = 365 * 24 * time.Hour

// Config defines all runtime configuration for the session subsystem.
//
// It controls access-token TTL and format, refresh-token lifetimes per trust
// tier, clock skew tolerance, refresh entropy size and retired-hash retention.
// It is built once at startup by the app config loader.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string

	// AccessTokenTTL defines the lifetime of access tokens.
	AccessTokenTTL time.Duration

	// Refresh token TTL policies per trust tier (platform + remember-me).
	RefreshTTLWeb         time.Duration
	RefreshTTLWebRemember time.Duration
	RefreshTTLNative      time.Duration
	RefreshTTLNativeShort time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// RefreshTokenBytes defines the number of random bytes used
	// to generate opaque refresh tokens.
	RefreshTokenBytes int

	// HistoryRetention bounds how long retired refresh hashes are kept for
	// reuse detection. Zero keeps them for the whole session lifetime.
	HistoryRetention time.Duration

	Signer Signer

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key
	// used to sign PASETO v4.public access tokens.
	PasetoV4SecretKeyHex string

	// JWTSecret is the HS256 key when Signer is SignerJWTHS256.
	JWTSecret string
}

// DefaultConfig returns a secure default configuration without signing keys.
func DefaultConfig() Config {
	return Config{
		Issuer:                "gatekeeper",
		AccessTokenTTL:        15 * time.Minute,
		RefreshTTLWeb:         7 * 24 * time.Hour,
		RefreshTTLWebRemember: 30 * 24 * time.Hour,
		RefreshTTLNative:      60 * 24 * time.Hour,
		RefreshTTLNativeShort: 14 * 24 * time.Hour,
		ClockSkew:             30 * time.Second,
		RefreshTokenBytes:     32,
		HistoryRetention:      30 * 24 * time.Hour,
		Signer:                SignerPasetoV4,
	}
}

// Validate reports ErrConfig (wrapped with the offending field) for invalid values.
func (c Config) Validate() error {
	bad := func(field string) error { return fmt.Errorf("%w: %s", ErrConfig, field) }

	if strings.TrimSpace(c.Issuer) == "" {
		return bad("issuer")
	}
	if c.AccessTokenTTL <= 0 || c.AccessTokenTTL > 24*time.Hour {
		return bad("access_ttl")
	}
	for name, d := range map[string]time.Duration{
		"refresh_ttl_web":          c.RefreshTTLWeb,
		"refresh_ttl_web_remember": c.RefreshTTLWebRemember,
		"refresh_ttl_native":       c.RefreshTTLNative,
		"refresh_ttl_native_short": c.RefreshTTLNativeShort,
	} {
		if d <= 0 || d > MaxSessionTTL {
			return bad(name)
		}
	}
	// Invariants: "short" tiers must not exceed their "long" counterparts.
	if c.RefreshTTLNative < c.RefreshTTLNativeShort || c.RefreshTTLWebRemember < c.RefreshTTLWeb {
		return bad("refresh ttl order")
	}
	if c.ClockSkew < 0 || c.ClockSkew > 5*time.Minute {
		return bad("clock_skew")
	}
	if c.RefreshTokenBytes < 32 || c.RefreshTokenBytes > 64 {
		return bad("refresh_token_bytes")
	}
	if c.HistoryRetention < 0 {
		return bad("history_retention")
	}

	switch c.Signer {
	case SignerPasetoV4:
		if strings.TrimSpace(c.PasetoV4SecretKeyHex) == "" {
			return bad("paseto_v4_secret_key_hex")
		}
	case SignerJWTHS256:
		if len(strings.TrimSpace(c.JWTSecret)) < 32 {
			return bad("jwt_secret")
		}
	default:
		return bad("signer")
	}
	return nil
}

// RefreshTTL returns the session lifetime for a trust tier.
func (c Config) RefreshTTL(platform Platform, rememberMe bool) time.Duration {
	var ttl time.Duration
	switch platform {
	case PlatformWeb:
		ttl = c.RefreshTTLWeb
		if rememberMe {
			ttl = c.RefreshTTLWebRemember
		}
	case PlatformIOS, PlatformAndroid, PlatformDesktop:
		ttl = c.RefreshTTLNativeShort
		if rememberMe {
			ttl = c.RefreshTTLNative
		}
	default:
		// Conservative default.
		ttl = c.RefreshTTLWeb
	}
	if ttl <= 0 || ttl > MaxSessionTTL {
		ttl = MaxSessionTTL
	}
	return ttl
}
