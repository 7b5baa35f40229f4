// Package main is the entry point for the sshexec CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/darshan-rambhia/sshexec/internal/cli"
)

// Version information (set by goreleaser)
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, version, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
