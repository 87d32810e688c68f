package util

import (
	"context"
	"time"
)

// RunPeriodically calls fn every interval until ctx is done.
// With immediate set the first call happens right away instead of after the first tick.
func RunPeriodically(ctx context.Context, interval time.Duration, immediate bool, fn func(context.Context)) {
	if immediate {
		fn(ctx)
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(ctx)
		}
	}
}
