package app

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"gatekeeper/cmd/internal/auth/risk"
	"gatekeeper/cmd/internal/auth/session"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.SessionStore != BackendMemory || cfg.AuditStore != BackendMemory {
		t.Fatalf("expected memory backends without a database, got sessions=%q audit=%q", cfg.SessionStore, cfg.AuditStore)
	}
	if cfg.SweepInterval != 10*time.Minute {
		t.Fatalf("sweep interval=%v", cfg.SweepInterval)
	}
	if got, want := cfg.SessionConfig().AccessTokenTTL, session.DefaultConfig().AccessTokenTTL; got != want {
		t.Fatalf("access ttl=%v want %v", got, want)
	}
	if !reflect.DeepEqual(cfg.RiskConfig(), risk.DefaultConfig()) {
		t.Fatalf("risk config drifted from defaults: %+v", cfg.RiskConfig())
	}
	if len(cfg.GatewayConfig().AllowedOrigins) == 0 {
		t.Fatalf("expected default websocket origins")
	}
}

func TestLoadConfig_DotEnv(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"valid", "GK_ACCESS_TTL=4m\n# comment\n", false},
		{"malformed", "GK_ACCESS_TTL=4m\nthis line has no assignment\n", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(tc.content), 0o600); err != nil {
				t.Fatalf("write .env: %v", err)
			}
			t.Chdir(dir)

			cfg, err := LoadConfig()
			if tc.wantErr {
				if !errors.Is(err, ErrConfig) {
					t.Fatalf("expected ErrConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadConfig: %v", err)
			}
			if cfg.SessionConfig().AccessTokenTTL != 4*time.Minute {
				t.Fatalf("access ttl=%v, want 4m from .env", cfg.SessionConfig().AccessTokenTTL)
			}
		})
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("GK_ACCESS_TTL", "2m")
	t.Setenv("GK_REUSE_GRACE_PERIOD", "3s")
	t.Setenv("GK_RISK_BLOCK_THRESHOLD", "90")
	t.Setenv("GK_LOGIN_RATE", "0.5")
	t.Setenv("GK_WS_ALLOWED_ORIGINS", "app.example.com, admin.example.com")
	t.Setenv("GK_COOKIE_SAMESITE", "strict")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.AccessTTL != 2*time.Minute {
		t.Fatalf("access ttl=%v", cfg.AccessTTL)
	}
	if cfg.LifecycleConfig().ReuseGracePeriod != 3*time.Second {
		t.Fatalf("grace=%v", cfg.LifecycleConfig().ReuseGracePeriod)
	}
	if cfg.RiskConfig().Thresholds.Block != 90 {
		t.Fatalf("block threshold=%d", cfg.RiskConfig().Thresholds.Block)
	}
	want := []string{"app.example.com", "admin.example.com"}
	if got := cfg.GatewayConfig().AllowedOrigins; !reflect.DeepEqual(got, want) {
		t.Fatalf("origins=%v want %v", got, want)
	}

	apiCfg, err := cfg.APIConfig()
	if err != nil {
		t.Fatalf("APIConfig: %v", err)
	}
	if apiCfg.LoginRate != 0.5 || apiCfg.CookieSameSite != http.SameSiteStrictMode {
		t.Fatalf("api config not derived: rate=%v samesite=%v", apiCfg.LoginRate, apiCfg.CookieSameSite)
	}
}

func TestLoadConfig_DatabaseSelectsPostgres(t *testing.T) {
	t.Setenv("GK_DATABASE_URL", "postgres://gk:gk@localhost:5432/gk?sslmode=disable")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.SessionStore != BackendPostgres || cfg.AuditStore != BackendPostgres {
		t.Fatalf("sessions=%q audit=%q", cfg.SessionStore, cfg.AuditStore)
	}
}

func TestConfig_Validate(t *testing.T) {
	base, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"postgres sessions without db", func(c *Config) { c.SessionStore = BackendPostgres }},
		{"redis without addr", func(c *Config) { c.SessionStore = BackendRedis }},
		{"unknown session store", func(c *Config) { c.SessionStore = "etcd" }},
		{"sqlite without path", func(c *Config) { c.AuditStore = BackendSQLite; c.AuditSQLitePath = " " }},
		{"postgres audit without db", func(c *Config) { c.AuditStore = BackendPostgres }},
		{"zero sweep interval", func(c *Config) { c.SweepInterval = 0 }},
		{"production memory store", func(c *Config) { c.Env = "production" }},
		{"half bootstrap", func(c *Config) { c.BootstrapEmail = "root@example.com" }},
		{"wildcard cors with credentials", func(c *Config) {
			c.CORSAllowedOrigins = []string{"*"}
			c.CORSAllowCredentials = true
		}},
	}

	if err := base.Validate(); err != nil {
		t.Fatalf("base config invalid: %v", err)
	}
	for _, tc := range cases {
		cfg := base
		tc.mutate(&cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrConfig) {
			t.Fatalf("%s: expected ErrConfig, got %v", tc.name, err)
		}
	}
}

func TestConfig_ProductionRequiresHMACAndKey(t *testing.T) {
	t.Setenv("GK_ENV", "production")
	t.Setenv("GK_SESSION_STORE", "redis")
	t.Setenv("GK_REDIS_ADDR", "localhost:6379")

	if _, err := LoadConfig(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected missing paseto key to fail, got %v", err)
	}

	t.Setenv("GK_PASETO_SECRET_KEY_HEX", session.NewPasetoV4SecretKeyHex())
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.RequireTokenHMAC {
		t.Fatalf("production must require a token HMAC key")
	}
}
