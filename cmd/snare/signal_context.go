package main

import (
	"context"
	"os/signal"
	"syscall"
)

// contextWithSignal cancels the returned context on SIGINT or SIGTERM.
func contextWithSignal(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}
