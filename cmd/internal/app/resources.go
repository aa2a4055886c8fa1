package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gatekeeper/cmd/identity"
	"gatekeeper/cmd/internal/auth/audit"
	"gatekeeper/cmd/internal/auth/challenge"
	"gatekeeper/cmd/internal/auth/device"
	"gatekeeper/cmd/internal/auth/lifecycle"
	"gatekeeper/cmd/internal/auth/risk"
	"gatekeeper/cmd/internal/auth/session"
	"gatekeeper/cmd/internal/db/migrate"
	"gatekeeper/cmd/security/token"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// Resources are the stores and connections a process owns. Both the server
// and gkctl build them through Open.
type Resources struct {
	Pool  *pgxpool.Pool
	Redis redis.UniversalClient

	Identity *identity.Service
	Sessions session.Store
	Audit    audit.Log

	closers []func() error
}

// Open connects the configured backends. On error everything opened so far
// is closed.
func Open(ctx context.Context, cfg Config, log *slog.Logger) (*Resources, error) {
	res := &Resources{}
	ok := false
	defer func() {
		if !ok {
			_ = res.Close()
		}
	}()

	if cfg.DatabaseURL != "" {
		if cfg.MigrateOnStart {
			if err := migrate.Run(ctx, cfg.DatabaseURL, cfg.DBSchema, "up"); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
			log.Info("db.migrate.done", "schema", cfg.DBSchema)
		}
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		res.Pool = pool
		res.closers = append(res.closers, func() error { pool.Close(); return nil })
		log.Info("db.enabled", "schema", cfg.DBSchema)
	} else {
		log.Info("db.disabled.inmemory_principals")
	}

	var (
		principals identity.Store = identity.NewMemoryStore()
		err        error
	)
	if res.Pool != nil {
		principals, err = identity.NewPostgresStore(res.Pool, identity.WithSchema(cfg.DBSchema))
		if err != nil {
			return nil, err
		}
	}
	res.Identity, err = identity.NewService(principals, cfg.PasswordConfig())
	if err != nil {
		return nil, err
	}

	if res.Sessions, err = openSessions(ctx, cfg, res); err != nil {
		return nil, err
	}
	if res.Audit, err = openAudit(ctx, cfg, res); err != nil {
		return nil, err
	}

	log.Info("stores.ready", "sessions", cfg.SessionStore, "audit", cfg.AuditStore)
	ok = true
	return res, nil
}

func openSessions(ctx context.Context, cfg Config, res *Resources) (session.Store, error) {
	switch cfg.SessionStore {
	case BackendPostgres:
		return session.NewPostgresStore(res.Pool, cfg.DBSchema)
	case BackendRedis:
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    strings.Split(cfg.RedisAddr, ","),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		res.Redis = rdb
		res.closers = append(res.closers, rdb.Close)
		if err := PingRedis(ctx, rdb, 3*time.Second); err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		return session.NewRedisStore(rdb, cfg.RedisPrefix), nil
	default:
		return session.NewMemoryStore(), nil
	}
}

func openAudit(ctx context.Context, cfg Config, res *Resources) (audit.Log, error) {
	switch cfg.AuditStore {
	case BackendPostgres:
		return audit.NewPostgresLog(res.Pool, cfg.DBSchema)
	case BackendSQLite:
		l, err := audit.OpenSQLite(ctx, cfg.AuditSQLitePath)
		if err != nil {
			return nil, fmt.Errorf("audit sqlite: %w", err)
		}
		res.closers = append(res.closers, l.Close)
		return l, nil
	default:
		return audit.NewMemoryLog(), nil
	}
}

// Close releases connections in reverse open order.
func (r *Resources) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// PingRedis checks the session backend within timeout.
func PingRedis(parent context.Context, rdb redis.UniversalClient, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return rdb.Ping(ctx).Err()
}

// ControllerOptions are the process-specific parts of a controller.
type ControllerOptions struct {
	Publisher lifecycle.Publisher
	Registry  prometheus.Registerer
}

// BuildController assembles the lifecycle controller over res. A PASETO
// signer without a configured key gets an ephemeral one outside production;
// tokens then do not survive a restart.
func BuildController(cfg Config, res *Resources, log *slog.Logger, opts ControllerOptions) (*lifecycle.Controller, error) {
	hasher, err := token.NewHasher(cfg.TokenHMACKey, cfg.RequireTokenHMAC)
	if err != nil {
		return nil, err
	}

	sessCfg := cfg.SessionConfig()
	if sessCfg.Signer == session.SignerPasetoV4 && sessCfg.PasetoV4SecretKeyHex == "" {
		if cfg.Production() {
			return nil, fmt.Errorf("%w: GK_PASETO_SECRET_KEY_HEX is required in production", ErrConfig)
		}
		sessCfg.PasetoV4SecretKeyHex = session.NewPasetoV4SecretKeyHex()
		log.Warn("tokens.ephemeral_key", "signer", string(sessCfg.Signer))
	}
	if !hasher.Keyed() {
		log.Warn("tokens.unkeyed_hash", "hint", "set GK_TOKEN_HMAC_KEY")
	}

	issuer, err := session.NewIssuer(sessCfg, hasher)
	if err != nil {
		return nil, err
	}

	var geo risk.GeoResolver = risk.NopResolver{}
	if strings.TrimSpace(cfg.GeoTable) != "" {
		table, err := risk.ParseStaticTable(cfg.GeoTable)
		if err != nil {
			return nil, err
		}
		log.Info("geo.static_table", "entries", table.Len())
		geo = table
	}

	return lifecycle.New(lifecycle.Deps{
		Config:        cfg.LifecycleConfig(),
		SessionConfig: sessCfg,
		RiskConfig:    cfg.RiskConfig(),
		Credentials:   res.Identity,
		Principals:    res.Identity.Store(),
		Sessions:      res.Sessions,
		Issuer:        issuer,
		Fingerprint:   device.NewFingerprinter(hasher),
		Geo:           geo,
		Audit:         res.Audit,
		StepUp:        challenge.NewTOTP(cfg.TOTPIssuer),
		Publisher:     opts.Publisher,
		Metrics:       lifecycle.NewMetrics(opts.Registry),
		Logger:        log,
	})
}

// Bootstrap creates the configured admin principal when it does not exist.
func Bootstrap(ctx context.Context, cfg Config, res *Resources, log *slog.Logger) error {
	if cfg.BootstrapEmail == "" {
		return nil
	}
	p, err := res.Identity.Register(ctx, identity.RegisterInput{
		Email:    cfg.BootstrapEmail,
		Password: cfg.BootstrapPassword,
	})
	switch {
	case identity.IsConflict(err):
		log.Info("bootstrap.skip", "reason", "exists")
		return nil
	case err != nil:
		return fmt.Errorf("bootstrap: %w", err)
	}
	if err := res.Identity.Promote(ctx, p.ID, identity.RoleAdmin); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	log.Info("bootstrap.admin_created", "principal_id", p.ID)
	return nil
}
