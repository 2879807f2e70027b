package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"
	"github.com/systmms/kvexport/cmd/kvexport/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Wipe protected memory however we exit.
	defer memguard.Purge()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return commands.Execute(ctx, commands.BuildInfo{
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}, os.Args[1:], os.Stdout, os.Stderr)
}
