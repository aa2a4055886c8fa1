package api

import (
	"errors"
	"net/http"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero body", func(c *Config) { c.MaxBodyBytes = 0 }, false},
		{"zero login rate", func(c *Config) { c.LoginRate = 0 }, false},
		{"zero refresh burst", func(c *Config) { c.RefreshBurst = 0 }, false},
		{"zero limiter ttl", func(c *Config) { c.LimiterTTL = 0 }, false},
		{"missing csrf header", func(c *Config) { c.CSRFHeaderName = " " }, false},
		{"cookies off ignores names", func(c *Config) { c.WebRefreshCookieEnabled = false; c.CSRFHeaderName = "" }, true},
		{"samesite none insecure", func(c *Config) { c.CookieSameSite = http.SameSiteNoneMode; c.CookieSecure = false }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func TestParseSameSite(t *testing.T) {
	cases := map[string]http.SameSite{
		"":       http.SameSiteLaxMode,
		"Lax":    http.SameSiteLaxMode,
		"strict": http.SameSiteStrictMode,
		" NONE ": http.SameSiteNoneMode,
	}
	for in, want := range cases {
		got, err := ParseSameSite(in)
		if err != nil || got != want {
			t.Fatalf("ParseSameSite(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseSameSite("sometimes"); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}
