// Package app wires the gatekeeper server runtime: config, logging, stores,
// the session controller, HTTP routes and the revocation gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"gatekeeper/cmd/internal/auth/api"
	"gatekeeper/cmd/internal/auth/lifecycle"
	"gatekeeper/cmd/internal/notify"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App is the server runtime: it owns the stores, the controller and the
// HTTP server wiring.
type App struct {
	cfg Config
	log Logger

	res      *Resources
	registry *prometheus.Registry
	ctrl     *lifecycle.Controller
	hub      *notify.Hub
	auth     *api.Handler
	ws       *notify.Gateway
}

// New constructs a fully wired App from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	res, err := Open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	a, err := wire(ctx, cfg, log, res, reg)
	if err != nil {
		_ = res.Close()
		return nil, err
	}
	return a, nil
}

func wire(ctx context.Context, cfg Config, log Logger, res *Resources, reg *prometheus.Registry) (*App, error) {
	hub := notify.NewHub(log.With("component", "notify"), notify.NewMetrics(reg))

	ctrl, err := BuildController(cfg, res, log.With("component", "lifecycle"), ControllerOptions{
		Publisher: hub,
		Registry:  reg,
	})
	if err != nil {
		return nil, err
	}

	if err := Bootstrap(ctx, cfg, res, log); err != nil {
		return nil, err
	}

	apiCfg, err := cfg.APIConfig()
	if err != nil {
		return nil, err
	}
	authHandler, err := api.NewHandler(log.With("component", "api"), ctrl, apiCfg)
	if err != nil {
		return nil, err
	}

	ws, err := notify.NewGateway(log.With("component", "ws"), hub, ctrl, cfg.GatewayConfig())
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		log:      log,
		res:      res,
		registry: reg,
		ctrl:     ctrl,
		hub:      hub,
		auth:     authHandler,
		ws:       ws,
	}, nil
}

func (a *App) routes() routes {
	return routes{
		log:      a.log,
		cfg:      a.cfg,
		res:      a.res,
		registry: a.registry,
		auth:     a.auth,
		ws:       a.ws,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	rt := a.routes()
	mux := http.NewServeMux()
	registerHTTP(mux, rt)
	return rt.handler(mux)
}

// Run starts the HTTP server and the expiry sweeper and blocks until ctx is
// cancelled or the server fails. Resources are closed on return.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		if err := a.res.Close(); err != nil {
			a.log.Error("store.close.fail", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"env", a.cfg.Env,
		"sessions", a.cfg.SessionStore,
		"audit", a.cfg.AuditStore,
		"db_enabled", a.res.Pool != nil,
	)

	bgCtx, stopBg := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runSweeper(bgCtx, a.log, a.ctrl, a.cfg.SweepInterval)
	}()
	defer func() {
		stopBg()
		wg.Wait()
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
