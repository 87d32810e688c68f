// Package feed defines the contract between remote change feeds and the projections built on them.
//
// A Source first emits a Put for every element that exists when the watch starts, then one
// event per subsequent change, resuming from the exact point the initial snapshot was taken.
// A Source reports a feed it cannot continue by returning an error from Watch; elements that
// fail to decode are skipped and never end the watch.
package feed

import "context"

type Kind uint8

const (
	Put Kind = iota + 1
	Delete
)

func (k Kind) String() string {
	switch k {
	case Put:
		return "put"
	case Delete:
		return "delete"
	default:
		return "unknown"
	}
}

// Event is a single change of a feed. For Delete only the identity fields of Elem are set.
type Event[E any] struct {
	Kind Kind
	Elem E
}

func PutEvent[E any](elem E) Event[E] {
	return Event[E]{Kind: Put, Elem: elem}
}

func DeleteEvent[E any](elem E) Event[E] {
	return Event[E]{Kind: Delete, Elem: elem}
}

// Source is one remote feed of elements of type E.
type Source[E any] interface {
	// Watch emits the snapshot and then every change until ctx is done or the feed fails.
	// emit is safe for concurrent use; events of one goroutine are applied in emit order.
	// The returned error is terminal; a return caused by ctx cancellation is not a failure.
	Watch(ctx context.Context, emit func(Event[E])) error

	// Compare defines the display order of elements; 0 means the same element.
	Compare(a, b E) int
}

var _ Source[int] = SourceFunc[int]{}

// SourceFunc adapts a watch function and a comparator to Source.
type SourceFunc[E any] struct {
	WatchFunc   func(ctx context.Context, emit func(Event[E])) error
	CompareFunc func(a, b E) int
}

func (s SourceFunc[E]) Watch(ctx context.Context, emit func(Event[E])) error {
	return s.WatchFunc(ctx, emit)
}

func (s SourceFunc[E]) Compare(a, b E) int {
	if s.CompareFunc == nil {
		return 0
	}
	return s.CompareFunc(a, b)
}
