package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Graceful shutdown on SIGINT/SIGTERM: the relay drains connections and a
// transfer in progress is abandoned cleanly.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
