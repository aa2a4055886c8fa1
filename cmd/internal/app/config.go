package app

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	"gatekeeper/cmd/internal/auth/api"
	"gatekeeper/cmd/internal/auth/lifecycle"
	"gatekeeper/cmd/internal/auth/risk"
	"gatekeeper/cmd/internal/auth/session"
	"gatekeeper/cmd/internal/notify"
	"gatekeeper/cmd/security/password"

	"github.com/spf13/viper"
)

// ErrConfig is returned for invalid runtime configuration.
var ErrConfig = errors.New("app config invalid")

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
)

// Config is the runtime configuration, read from GK_* environment variables
// and an optional .env file.
type Config struct {
	Env       string `mapstructure:"GK_ENV"`
	HTTPAddr  string `mapstructure:"GK_HTTP_ADDR"`
	LogLevel  string `mapstructure:"GK_LOG_LEVEL"`
	LogFormat string `mapstructure:"GK_LOG_FORMAT"`

	ReadHeaderTimeout time.Duration `mapstructure:"GK_HTTP_READ_HEADER_TIMEOUT"`
	ReadTimeout       time.Duration `mapstructure:"GK_HTTP_READ_TIMEOUT"`
	WriteTimeout      time.Duration `mapstructure:"GK_HTTP_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `mapstructure:"GK_HTTP_IDLE_TIMEOUT"`
	MaxHeaderBytes    int           `mapstructure:"GK_HTTP_MAX_HEADER_BYTES"`

	DatabaseURL        string `mapstructure:"GK_DATABASE_URL"`
	DBSchema           string `mapstructure:"GK_DB_SCHEMA"`
	DBMaxConns         int32  `mapstructure:"GK_DB_MAX_CONNS"`
	DBMinConns         int32  `mapstructure:"GK_DB_MIN_CONNS"`
	MigrateOnStart     bool   `mapstructure:"GK_MIGRATE_ON_START"`
	ReadinessRequireDB bool   `mapstructure:"GK_READINESS_REQUIRE_DB"`

	// SessionStore is memory, postgres or redis. Empty picks postgres when a
	// database is configured and memory otherwise.
	SessionStore  string `mapstructure:"GK_SESSION_STORE"`
	RedisAddr     string `mapstructure:"GK_REDIS_ADDR"`
	RedisPassword string `mapstructure:"GK_REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"GK_REDIS_DB"`
	RedisPrefix   string `mapstructure:"GK_REDIS_PREFIX"`

	// AuditStore is memory, postgres or sqlite; empty follows the database.
	AuditStore      string `mapstructure:"GK_AUDIT_STORE"`
	AuditSQLitePath string `mapstructure:"GK_AUDIT_SQLITE_PATH"`

	TokenHMACKey     string `mapstructure:"GK_TOKEN_HMAC_KEY"`
	RequireTokenHMAC bool   `mapstructure:"GK_REQUIRE_TOKEN_HMAC"`

	TokenSigner          string        `mapstructure:"GK_TOKEN_SIGNER"`
	TokenIssuer          string        `mapstructure:"GK_TOKEN_ISSUER"`
	PasetoSecretKeyHex   string        `mapstructure:"GK_PASETO_SECRET_KEY_HEX"`
	JWTSecret            string        `mapstructure:"GK_JWT_SECRET"`
	AccessTTL            time.Duration `mapstructure:"GK_ACCESS_TTL"`
	RefreshTTLWeb        time.Duration `mapstructure:"GK_REFRESH_TTL_WEB"`
	RefreshTTLWebLong    time.Duration `mapstructure:"GK_REFRESH_TTL_WEB_REMEMBER"`
	RefreshTTLNative     time.Duration `mapstructure:"GK_REFRESH_TTL_NATIVE"`
	RefreshTTLNativeShrt time.Duration `mapstructure:"GK_REFRESH_TTL_NATIVE_SHORT"`
	ClockSkew            time.Duration `mapstructure:"GK_CLOCK_SKEW"`
	RefreshRetention     time.Duration `mapstructure:"GK_REFRESH_HISTORY_RETENTION"`

	DecisionTimeout  time.Duration `mapstructure:"GK_DECISION_TIMEOUT"`
	ReuseGracePeriod time.Duration `mapstructure:"GK_REUSE_GRACE_PERIOD"`
	SweepInterval    time.Duration `mapstructure:"GK_SWEEP_INTERVAL"`

	RiskTokenReuse        int    `mapstructure:"GK_RISK_TOKEN_REUSE_PENALTY"`
	RiskKnownDevice       int    `mapstructure:"GK_RISK_KNOWN_DEVICE_BONUS"`
	RiskNewDevice         int    `mapstructure:"GK_RISK_NEW_DEVICE_PENALTY"`
	RiskNewCountry        int    `mapstructure:"GK_RISK_NEW_COUNTRY_PENALTY"`
	RiskUnresolvedCountry int    `mapstructure:"GK_RISK_UNRESOLVED_COUNTRY_PENALTY"`
	RiskDatacenter        int    `mapstructure:"GK_RISK_DATACENTER_PENALTY"`
	RiskSoftChallenge     int    `mapstructure:"GK_RISK_SOFT_CHALLENGE_THRESHOLD"`
	RiskStepUp            int    `mapstructure:"GK_RISK_STEP_UP_THRESHOLD"`
	RiskBlock             int    `mapstructure:"GK_RISK_BLOCK_THRESHOLD"`
	GeoTable              string `mapstructure:"GK_GEO_TABLE"`

	TOTPIssuer string `mapstructure:"GK_TOTP_ISSUER"`

	PasswordMinLength  int    `mapstructure:"GK_PASSWORD_MIN_LENGTH"`
	PasswordMemoryKiB  uint32 `mapstructure:"GK_PASSWORD_MEMORY_KIB"`
	PasswordIterations uint32 `mapstructure:"GK_PASSWORD_ITERATIONS"`

	TrustProxy    bool    `mapstructure:"GK_TRUST_PROXY"`
	CountryHeader string  `mapstructure:"GK_COUNTRY_HEADER"`
	MaxBodyBytes  int64   `mapstructure:"GK_MAX_BODY_BYTES"`
	LoginRate     float64 `mapstructure:"GK_LOGIN_RATE"`
	LoginBurst    int     `mapstructure:"GK_LOGIN_BURST"`
	RefreshRate   float64 `mapstructure:"GK_REFRESH_RATE"`
	RefreshBurst  int     `mapstructure:"GK_REFRESH_BURST"`
	WebCookies    bool    `mapstructure:"GK_WEB_COOKIES"`
	CookieSecure  bool    `mapstructure:"GK_COOKIE_SECURE"`
	CookieDomain  string  `mapstructure:"GK_COOKIE_DOMAIN"`
	CookieSite    string  `mapstructure:"GK_COOKIE_SAMESITE"`

	WSAllowedOrigins []string `mapstructure:"GK_WS_ALLOWED_ORIGINS"`
	WSOriginRequired bool     `mapstructure:"GK_WS_ORIGIN_REQUIRED"`

	// Browser origins allowed to call the API. Entries may end in ":*" to
	// match any port.
	CORSAllowedOrigins   []string `mapstructure:"GK_CORS_ALLOWED_ORIGINS"`
	CORSAllowCredentials bool     `mapstructure:"GK_CORS_ALLOW_CREDENTIALS"`
	CORSMaxAgeSeconds    int      `mapstructure:"GK_CORS_MAX_AGE_SECONDS"`

	// Optional first principal, created as admin when missing.
	BootstrapEmail    string `mapstructure:"GK_BOOTSTRAP_EMAIL"`
	BootstrapPassword string `mapstructure:"GK_BOOTSTRAP_PASSWORD"`
}

func setDefaults(v *viper.Viper) {
	sess := session.DefaultConfig()
	lc := lifecycle.DefaultConfig()
	rk := risk.DefaultConfig()
	ac := api.DefaultConfig()
	gw := notify.DefaultGatewayConfig()

	v.SetDefault("GK_ENV", "development")
	v.SetDefault("GK_HTTP_ADDR", "0.0.0.0:8080")
	v.SetDefault("GK_LOG_LEVEL", "info")
	v.SetDefault("GK_LOG_FORMAT", "json")
	v.SetDefault("GK_HTTP_READ_HEADER_TIMEOUT", 5*time.Second)
	v.SetDefault("GK_HTTP_READ_TIMEOUT", 15*time.Second)
	v.SetDefault("GK_HTTP_WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("GK_HTTP_IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("GK_HTTP_MAX_HEADER_BYTES", 1<<20)

	v.SetDefault("GK_DATABASE_URL", "")
	v.SetDefault("GK_DB_SCHEMA", "gatekeeper")
	v.SetDefault("GK_DB_MAX_CONNS", 10)
	v.SetDefault("GK_DB_MIN_CONNS", 0)
	v.SetDefault("GK_MIGRATE_ON_START", false)
	v.SetDefault("GK_READINESS_REQUIRE_DB", false)

	v.SetDefault("GK_SESSION_STORE", "")
	v.SetDefault("GK_REDIS_ADDR", "")
	v.SetDefault("GK_REDIS_PASSWORD", "")
	v.SetDefault("GK_REDIS_DB", 0)
	v.SetDefault("GK_REDIS_PREFIX", "gk")

	v.SetDefault("GK_AUDIT_STORE", "")
	v.SetDefault("GK_AUDIT_SQLITE_PATH", "gatekeeper-audit.db")

	v.SetDefault("GK_TOKEN_HMAC_KEY", "")
	v.SetDefault("GK_REQUIRE_TOKEN_HMAC", false)
	v.SetDefault("GK_TOKEN_SIGNER", string(sess.Signer))
	v.SetDefault("GK_TOKEN_ISSUER", sess.Issuer)
	v.SetDefault("GK_PASETO_SECRET_KEY_HEX", "")
	v.SetDefault("GK_JWT_SECRET", "")
	v.SetDefault("GK_ACCESS_TTL", sess.AccessTokenTTL)
	v.SetDefault("GK_REFRESH_TTL_WEB", sess.RefreshTTLWeb)
	v.SetDefault("GK_REFRESH_TTL_WEB_REMEMBER", sess.RefreshTTLWebRemember)
	v.SetDefault("GK_REFRESH_TTL_NATIVE", sess.RefreshTTLNative)
	v.SetDefault("GK_REFRESH_TTL_NATIVE_SHORT", sess.RefreshTTLNativeShort)
	v.SetDefault("GK_CLOCK_SKEW", sess.ClockSkew)
	v.SetDefault("GK_REFRESH_HISTORY_RETENTION", sess.HistoryRetention)

	v.SetDefault("GK_DECISION_TIMEOUT", lc.DecisionTimeout)
	v.SetDefault("GK_REUSE_GRACE_PERIOD", lc.ReuseGracePeriod)
	v.SetDefault("GK_SWEEP_INTERVAL", 10*time.Minute)

	v.SetDefault("GK_RISK_TOKEN_REUSE_PENALTY", rk.Weights.TokenReusePenalty)
	v.SetDefault("GK_RISK_KNOWN_DEVICE_BONUS", rk.Weights.KnownDeviceBonus)
	v.SetDefault("GK_RISK_NEW_DEVICE_PENALTY", rk.Weights.NewDevicePenalty)
	v.SetDefault("GK_RISK_NEW_COUNTRY_PENALTY", rk.Weights.NewCountryPenalty)
	v.SetDefault("GK_RISK_UNRESOLVED_COUNTRY_PENALTY", rk.Weights.UnresolvedCountryPenalty)
	v.SetDefault("GK_RISK_DATACENTER_PENALTY", rk.Weights.DatacenterPenalty)
	v.SetDefault("GK_RISK_SOFT_CHALLENGE_THRESHOLD", rk.Thresholds.SoftChallenge)
	v.SetDefault("GK_RISK_STEP_UP_THRESHOLD", rk.Thresholds.StepUp)
	v.SetDefault("GK_RISK_BLOCK_THRESHOLD", rk.Thresholds.Block)
	v.SetDefault("GK_GEO_TABLE", "")

	v.SetDefault("GK_TOTP_ISSUER", "gatekeeper")
	pw := password.DefaultConfig()
	v.SetDefault("GK_PASSWORD_MIN_LENGTH", pw.Policy.MinLength)
	v.SetDefault("GK_PASSWORD_MEMORY_KIB", pw.Params.MemoryKiB)
	v.SetDefault("GK_PASSWORD_ITERATIONS", pw.Params.Iterations)

	v.SetDefault("GK_TRUST_PROXY", ac.TrustProxy)
	v.SetDefault("GK_COUNTRY_HEADER", "")
	v.SetDefault("GK_MAX_BODY_BYTES", ac.MaxBodyBytes)
	v.SetDefault("GK_LOGIN_RATE", ac.LoginRate)
	v.SetDefault("GK_LOGIN_BURST", ac.LoginBurst)
	v.SetDefault("GK_REFRESH_RATE", ac.RefreshRate)
	v.SetDefault("GK_REFRESH_BURST", ac.RefreshBurst)
	v.SetDefault("GK_WEB_COOKIES", ac.WebRefreshCookieEnabled)
	v.SetDefault("GK_COOKIE_SECURE", ac.CookieSecure)
	v.SetDefault("GK_COOKIE_DOMAIN", "")
	v.SetDefault("GK_COOKIE_SAMESITE", "lax")

	v.SetDefault("GK_WS_ALLOWED_ORIGINS", gw.AllowedOrigins)
	v.SetDefault("GK_WS_ORIGIN_REQUIRED", gw.OriginRequired)
	v.SetDefault("GK_CORS_ALLOWED_ORIGINS", []string{})
	v.SetDefault("GK_CORS_ALLOW_CREDENTIALS", true)
	v.SetDefault("GK_CORS_MAX_AGE_SECONDS", 600)

	v.SetDefault("GK_BOOTSTRAP_EMAIL", "")
	v.SetDefault("GK_BOOTSTRAP_PASSWORD", "")
}

func missingConfigFile(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

// LoadConfig reads .env (if present) and the environment, then validates.
// Environment variables override .env.
func LoadConfig() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil && !missingConfigFile(err) {
		return Config{}, fmt.Errorf("%w: .env: %v", ErrConfig, err)
	}

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.SessionStore = strings.ToLower(strings.TrimSpace(c.SessionStore))
	c.AuditStore = strings.ToLower(strings.TrimSpace(c.AuditStore))
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)

	if c.SessionStore == "" {
		c.SessionStore = BackendMemory
		if c.DatabaseURL != "" {
			c.SessionStore = BackendPostgres
		}
	}
	if c.AuditStore == "" {
		c.AuditStore = BackendMemory
		if c.DatabaseURL != "" {
			c.AuditStore = BackendPostgres
		}
	}
	c.WSAllowedOrigins = trimAll(c.WSAllowedOrigins)
	c.CORSAllowedOrigins = trimAll(c.CORSAllowedOrigins)
	if c.Production() {
		c.RequireTokenHMAC = true
	}
}

// Production reports whether GK_ENV=production.
func (c Config) Production() bool { return c.Env == "production" }

// Validate checks cross-field rules; per-package rules are checked when the
// derived configs are built.
func (c Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrConfig}, args...)...)
	}

	if strings.TrimSpace(c.HTTPAddr) == "" {
		return bad("GK_HTTP_ADDR must be set")
	}
	switch c.SessionStore {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return bad("GK_SESSION_STORE=postgres requires GK_DATABASE_URL")
		}
	case BackendRedis:
		if strings.TrimSpace(c.RedisAddr) == "" {
			return bad("GK_SESSION_STORE=redis requires GK_REDIS_ADDR")
		}
	default:
		return bad("unknown GK_SESSION_STORE %q", c.SessionStore)
	}
	switch c.AuditStore {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return bad("GK_AUDIT_STORE=postgres requires GK_DATABASE_URL")
		}
	case BackendSQLite:
		if strings.TrimSpace(c.AuditSQLitePath) == "" {
			return bad("GK_AUDIT_STORE=sqlite requires GK_AUDIT_SQLITE_PATH")
		}
	default:
		return bad("unknown GK_AUDIT_STORE %q", c.AuditStore)
	}
	if c.SweepInterval <= 0 {
		return bad("GK_SWEEP_INTERVAL must be > 0")
	}
	if c.Production() {
		if c.SessionStore == BackendMemory {
			return bad("production requires a persistent session store")
		}
		if session.Signer(c.TokenSigner) == session.SignerPasetoV4 && strings.TrimSpace(c.PasetoSecretKeyHex) == "" {
			return bad("production requires GK_PASETO_SECRET_KEY_HEX")
		}
	}
	if c.CORSAllowCredentials && slices.Contains(c.CORSAllowedOrigins, "*") {
		return bad("GK_CORS_ALLOWED_ORIGINS cannot contain * when credentials are allowed")
	}
	if (c.BootstrapEmail == "") != (c.BootstrapPassword == "") {
		return bad("GK_BOOTSTRAP_EMAIL and GK_BOOTSTRAP_PASSWORD must be set together")
	}
	return nil
}

// SessionConfig derives the session package configuration.
func (c Config) SessionConfig() session.Config {
	s := session.DefaultConfig()
	s.Issuer = c.TokenIssuer
	s.Signer = session.Signer(strings.ToLower(strings.TrimSpace(c.TokenSigner)))
	s.PasetoV4SecretKeyHex = strings.TrimSpace(c.PasetoSecretKeyHex)
	s.JWTSecret = c.JWTSecret
	s.AccessTokenTTL = c.AccessTTL
	s.RefreshTTLWeb = c.RefreshTTLWeb
	s.RefreshTTLWebRemember = c.RefreshTTLWebLong
	s.RefreshTTLNative = c.RefreshTTLNative
	s.RefreshTTLNativeShort = c.RefreshTTLNativeShrt
	s.ClockSkew = c.ClockSkew
	s.HistoryRetention = c.RefreshRetention
	return s
}

// LifecycleConfig derives the controller configuration.
func (c Config) LifecycleConfig() lifecycle.Config {
	return lifecycle.Config{
		DecisionTimeout:  c.DecisionTimeout,
		ReuseGracePeriod: c.ReuseGracePeriod,
	}
}

// RiskConfig derives the risk engine configuration.
func (c Config) RiskConfig() risk.Config {
	return risk.Config{
		Weights: risk.Weights{
			TokenReusePenalty:        c.RiskTokenReuse,
			KnownDeviceBonus:         c.RiskKnownDevice,
			NewDevicePenalty:         c.RiskNewDevice,
			NewCountryPenalty:        c.RiskNewCountry,
			UnresolvedCountryPenalty: c.RiskUnresolvedCountry,
			DatacenterPenalty:        c.RiskDatacenter,
		},
		Thresholds: risk.Thresholds{
			SoftChallenge: c.RiskSoftChallenge,
			StepUp:        c.RiskStepUp,
			Block:         c.RiskBlock,
		},
	}
}

// PasswordConfig derives the password hashing configuration.
func (c Config) PasswordConfig() password.Config {
	p := password.DefaultConfig()
	if c.PasswordMinLength > 0 {
		p.Policy.MinLength = c.PasswordMinLength
	}
	if c.PasswordMemoryKiB > 0 {
		p.Params.MemoryKiB = c.PasswordMemoryKiB
	}
	if c.PasswordIterations > 0 {
		p.Params.Iterations = c.PasswordIterations
	}
	return p
}

// APIConfig derives the HTTP API configuration.
func (c Config) APIConfig() (api.Config, error) {
	a := api.DefaultConfig()
	a.TrustProxy = c.TrustProxy
	a.CountryHeader = strings.TrimSpace(c.CountryHeader)
	a.MaxBodyBytes = c.MaxBodyBytes
	a.LoginRate = c.LoginRate
	a.LoginBurst = c.LoginBurst
	a.RefreshRate = c.RefreshRate
	a.RefreshBurst = c.RefreshBurst
	a.WebRefreshCookieEnabled = c.WebCookies
	a.CookieSecure = c.CookieSecure
	a.CookieDomain = strings.TrimSpace(c.CookieDomain)

	site, err := api.ParseSameSite(c.CookieSite)
	if err != nil {
		return api.Config{}, err
	}
	a.CookieSameSite = site
	return a, a.Validate()
}

// GatewayConfig derives the websocket notification gateway configuration.
func (c Config) GatewayConfig() notify.GatewayConfig {
	g := notify.DefaultGatewayConfig()
	g.OriginRequired = c.WSOriginRequired
	g.AllowedOrigins = c.WSAllowedOrigins
	return g
}

// trimAll drops blanks; env lists arrive as "a, b" and split on commas only.
func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
