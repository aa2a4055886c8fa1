// Command gkctl is the operator CLI for gatekeeper: schema migrations,
// principal management, session revocation and audit inspection.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := newCLI(os.Stdin, os.Stdout, os.Stderr)
	if err := c.run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "gkctl: %v\n", err)
		cancel()
		os.Exit(exitCode(err))
	}
}
