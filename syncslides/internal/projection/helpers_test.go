package projection

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/mikhailv/syncslides/syncslides/internal/feed"
)

type item struct {
	key string
	val int
}

func compareItems(a, b item) int {
	return cmp.Compare(a.key, b.key)
}

// fakeSource replays snapshot on every watch and then forwards whatever is sent to events.
// A value sent to errs ends the watch with that value.
type fakeSource[E any] struct {
	compare  func(a, b E) int
	snapshot []E
	events   chan feed.Event[E]
	errs     chan error
	watches  atomic.Int32
	started  atomic.Int32
}

func newFakeSource[E any](compare func(a, b E) int, snapshot ...E) *fakeSource[E] {
	return &fakeSource[E]{
		compare:  compare,
		snapshot: snapshot,
		events:   make(chan feed.Event[E]),
		errs:     make(chan error),
	}
}

func (s *fakeSource[E]) Watch(ctx context.Context, emit func(feed.Event[E])) error {
	s.watches.Add(1)
	s.started.Add(1)
	defer s.watches.Add(-1)
	for _, e := range s.snapshot {
		emit(feed.PutEvent(e))
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.events:
			emit(ev)
		case err := <-s.errs:
			return err
		}
	}
}

func (s *fakeSource[E]) Compare(a, b E) int {
	return s.compare(a, b)
}

type recorder struct {
	events []string
}

func (r *recorder) DataSetChanged()        { r.events = append(r.events, "reset") }
func (r *recorder) ItemChanged(index int)  { r.events = append(r.events, fmt.Sprintf("changed@%d", index)) }
func (r *recorder) ItemInserted(index int) { r.events = append(r.events, fmt.Sprintf("inserted@%d", index)) }
func (r *recorder) ItemRemoved(index int)  { r.events = append(r.events, fmt.Sprintf("removed@%d", index)) }
func (r *recorder) OnError(err error)      { r.events = append(r.events, "error:"+err.Error()) }

type scalarRecorder[T any] struct {
	values []T
	errs   []error
}

func (r *scalarRecorder[T]) OnChange(value T) { r.values = append(r.values, value) }
func (r *scalarRecorder[T]) OnError(err error) { r.errs = append(r.errs, err) }

func startLoop(t *testing.T) *Loop {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	loop := NewLoop(16)
	go loop.Run(ctx)
	return loop
}

func onLoop(t *testing.T, loop *Loop, fn func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Equal(t, loop.Do(ctx, fn), nil)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// waitEvents waits until rec has seen at least n events and returns a copy of them.
func waitEvents(t *testing.T, loop *Loop, rec *recorder, n int) []string {
	t.Helper()
	var events []string
	eventually(t, func() bool {
		onLoop(t, loop, func() { events = slices.Clone(rec.events) })
		return len(events) >= n
	})
	return events
}
