package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"gatekeeper/cmd/internal/app"
	"gatekeeper/cmd/internal/auth/lifecycle"
)

// errUsage marks bad invocations; they exit with status 2.
var errUsage = errors.New("usage")

func usageErr(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errUsage}, args...)...)
}

func exitCode(err error) int {
	if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
		return 2
	}
	return 1
}

type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// Overridable in tests.
	loadConfig func() (app.Config, error)
	open       func(ctx context.Context, cfg app.Config, log *slog.Logger) (*app.Resources, error)
	migrate    func(ctx context.Context, dsn, schema, direction string) error
	readSecret func(prompt string) (string, error)
}

type command struct {
	summary string
	run     func(ctx context.Context, c *cli, args []string) error
}

// commands maps "group verb" to its handler.
var commands = map[string]command{
	"migrate up":            {"apply all pending migrations", cmdMigrate("up")},
	"migrate down":          {"roll back all migrations", cmdMigrate("down")},
	"principal create":      {"create a principal", cmdPrincipalCreate},
	"principal promote":     {"change a principal's role", cmdPrincipalPromote},
	"principal enroll-totp": {"generate a TOTP secret for step-up", cmdPrincipalEnrollTOTP},
	"sessions list":         {"list a principal's live sessions", cmdSessionsList},
	"sessions revoke":       {"revoke one session", cmdSessionsRevoke},
	"sessions revoke-all":   {"revoke every session of a principal", cmdSessionsRevokeAll},
	"sessions sweep":        {"delete expired sessions", cmdSessionsSweep},
	"audit list":            {"show risk decisions, newest first", cmdAuditList},
	"keygen paseto":         {"print a new PASETO v4 secret key (hex)", cmdKeygenPaseto},
	"keygen hmac":           {"print a new refresh-token HMAC key", cmdKeygenHMAC},
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		c.usage()
		return usageErr("expected <group> <command>")
	}
	name := args[0] + " " + args[1]
	cmd, ok := commands[name]
	if !ok {
		c.usage()
		return usageErr("unknown command %q", name)
	}
	return cmd.run(ctx, c, args[2:])
}

func (c *cli) usage() {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)

	fmt.Fprintln(c.stderr, "usage: gkctl <group> <command> [flags]")
	fmt.Fprintln(c.stderr)
	for _, n := range names {
		fmt.Fprintf(c.stderr, "  %-24s %s\n", n, commands[n].summary)
	}
	fmt.Fprintln(c.stderr)
	fmt.Fprintln(c.stderr, "Configuration is read from GK_* environment variables and .env.")
}

func (c *cli) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("gkctl "+name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func (c *cli) parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return usageErr("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	return nil
}

// env is an opened process environment: config, logger and stores.
type env struct {
	cfg app.Config
	log *slog.Logger
	res *app.Resources
}

func (c *cli) env(ctx context.Context) (*env, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	log := app.NewLoggerTo(c.stderr, cfg.LogLevel, "text")
	if cfg.SessionStore == app.BackendMemory {
		log.Warn("gkctl.memory_sessions", "hint", "GK_SESSION_STORE is memory; session commands see only this process")
	}
	res, err := c.open(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: log, res: res}, nil
}

func (e *env) controller() (*lifecycle.Controller, error) {
	return app.BuildController(e.cfg, e.res, e.log, app.ControllerOptions{})
}

func (e *env) close() { _ = e.res.Close() }
