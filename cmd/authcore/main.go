// Package main is the entrypoint for the phone-number authentication core.
// authcore owns send_code, verify_code, refresh, select_role, and logout;
// it exposes no transport of its own — callers embed this module, or an
// operator invokes the composition root's plain methods directly.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ridewise/authcore/internal/server"
)

// currentService holds the most recently constructed composition root, set
// by setup(). Operational tooling (a REPL, a cron invocation, a test) can
// reach rotateCipherKey/healthy through it without an HTTP route.
var currentService *service

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	return server.Run(ctx, server.Params{
		Name:  "authcore",
		Setup: setup,
	})
}
