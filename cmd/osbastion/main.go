// Package main is the entry point for the osbastion CLI.
//
// osbastion provisions a transient SSH bastion on OpenStack (or Hetzner
// Cloud) for a CI workflow and tears it down again, recording every
// resource in a ledger so nothing is leaked.
//
// Commands: setup-bastion, teardown-bastion, run, status,
// render-cloud-init, validate, version.
//
// For detailed usage information, run:
//
//	osbastion --help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/imamik/osbastion/cmd/osbastion/commands"
	"github.com/imamik/osbastion/cmd/osbastion/handlers"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	// A cancelled run still tears down what it created.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := commands.Root().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(handlers.ExitCode(err))
}
