package projection

import (
	"context"
	"errors"
)

var ErrLoopStopped = errors.New("projection: loop stopped")

// Loop runs posted tasks one at a time, in posting order, on a single goroutine.
type Loop struct {
	ctx   context.Context //nolint:containedctx // base context of every watch started on the loop
	tasks chan func()
	done  chan struct{}
}

func NewLoop(queueSize int) *Loop {
	return &Loop{
		ctx:   context.Background(),
		tasks: make(chan func(), max(1, queueSize)),
		done:  make(chan struct{}),
	}
}

// Run executes tasks until ctx is done. Watches started by tasks are cancelled with ctx.
func (l *Loop) Run(ctx context.Context) {
	l.ctx = ctx
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-l.tasks:
			task()
		}
	}
}

// Post queues fn, blocking while the queue is full. It reports false when fn was dropped
// because ctx is done or the loop stopped.
func (l *Loop) Post(ctx context.Context, fn func()) bool {
	select {
	case <-ctx.Done():
		return false
	case <-l.done:
		return false
	case l.tasks <- fn:
		return true
	}
}

// Do runs fn on the loop and waits for it to return. Calling Do from a loop task deadlocks.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(ctx, func() {
		defer close(finished)
		fn()
	}) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrLoopStopped
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrLoopStopped
		}
	case <-finished:
		return nil
	}
}

func (l *Loop) baseContext() context.Context {
	return l.ctx
}
