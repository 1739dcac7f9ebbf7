// File: cmd/mimic/main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/undetectlabs/mimic/cmd"
	"github.com/undetectlabs/mimic/internal/observability"
)

func main() {
	// Cancelled on SIGINT/SIGTERM so sessions stop at the next step boundary.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)

	observability.Sync()

	if err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}
