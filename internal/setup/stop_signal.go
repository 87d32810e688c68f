package setup

import (
	"context"
	"os/signal"
	"syscall"
)

// ListenStopSignal returns a context cancelled on SIGINT or SIGTERM.
func ListenStopSignal(parentCtx context.Context) context.Context {
	ctx, _ := signal.NotifyContext(parentCtx, syscall.SIGINT, syscall.SIGTERM) //nolint:govet // lives until exit
	return ctx
}
