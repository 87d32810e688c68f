package projection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"

	"github.com/mikhailv/syncslides/syncslides/internal/feed"
	"github.com/mikhailv/syncslides/syncslides/internal/metrics"
)

// ErrFeedClosed is reported to listeners when a source stops without an error while still watched.
var ErrFeedClosed = errors.New("projection: feed closed")

type Option func(*options)

type options struct {
	name    string
	logger  *slog.Logger
	arrival bool
}

// WithName labels the list in logs and metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithArrivalOrder keeps elements in the order they were first put instead of sorting them.
// The source comparator is then only used to match identities.
func WithArrivalOrder() Option {
	return func(o *options) { o.arrival = true }
}

func newOptions(name string, opts []Option) options {
	o := options{name: name, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// List is the local copy of a feed.Source, kept sorted by the source comparator.
type List[E any] struct {
	loop      *Loop
	src       feed.Source[E]
	opts      options
	elems     []E
	listeners []Listener
	cancel    context.CancelFunc
	gen       uint64
}

func New[E any](loop *Loop, src feed.Source[E], opts ...Option) *List[E] {
	return &List[E]{
		loop: loop,
		src:  src,
		opts: newOptions("list", opts),
	}
}

func (l *List[E]) Size() int {
	return len(l.elems)
}

func (l *List[E]) Get(i int) E {
	return l.elems[i]
}

// Items returns a copy of the current elements.
func (l *List[E]) Items() []E {
	return slices.Clone(l.elems)
}

// Watching reports whether the background watch is active.
func (l *List[E]) Watching() bool {
	return l.cancel != nil
}

// AddListener registers listener and immediately reports the current content to it.
// The first listener starts the watch.
func (l *List[E]) AddListener(listener Listener) {
	if !slices.Contains(l.listeners, listener) {
		l.listeners = append(l.listeners, listener)
		metrics.SetListeners(l.opts.name, len(l.listeners))
		if len(l.listeners) == 1 {
			l.start()
		}
	}
	listener.DataSetChanged()
}

// RemoveListener unregisters listener. Removing the last listener stops the watch and drops
// the local copy; the next AddListener starts over from a fresh snapshot.
func (l *List[E]) RemoveListener(listener Listener) {
	i := slices.Index(l.listeners, listener)
	if i < 0 {
		return
	}
	l.listeners = slices.Delete(l.listeners, i, i+1)
	metrics.SetListeners(l.opts.name, len(l.listeners))
	if len(l.listeners) == 0 {
		l.stop()
	}
}

func (l *List[E]) start() {
	l.gen++
	ctx, cancel := context.WithCancel(l.loop.baseContext())
	l.cancel = cancel
	l.opts.logger.Debug("watch started", "list", l.opts.name)
	go l.watch(ctx, l.gen)
}

func (l *List[E]) stop() {
	l.cancel()
	l.cancel = nil
	l.gen++ // drop events already queued on the loop
	l.elems = nil
	l.opts.logger.Debug("watch stopped", "list", l.opts.name)
}

// watch runs on its own goroutine and only talks to the list through the loop.
func (l *List[E]) watch(ctx context.Context, gen uint64) {
	defer metrics.TrackWatch(l.opts.name)()

	err := l.src.Watch(ctx, func(ev feed.Event[E]) {
		l.loop.Post(ctx, func() {
			if l.gen == gen {
				l.apply(ev)
			}
		})
	})
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = ErrFeedClosed
	}
	l.opts.logger.Error("watch failed", "list", l.opts.name, "err", err)
	l.loop.Post(ctx, func() {
		if l.gen == gen {
			l.notify(func(listener Listener) { listener.OnError(err) })
		}
	})
}

func (l *List[E]) apply(ev feed.Event[E]) {
	metrics.TrackFeedEvent(l.opts.name, ev.Kind.String())
	switch ev.Kind {
	case feed.Put:
		if l.opts.arrival {
			l.putArrival(ev.Elem)
		} else {
			l.putSorted(ev.Elem)
		}
	case feed.Delete:
		l.delete(ev.Elem)
	default:
		l.opts.logger.Warn("unknown event kind", "list", l.opts.name, "kind", ev.Kind)
	}
}

func (l *List[E]) putSorted(elem E) {
	i, found := slices.BinarySearchFunc(l.elems, elem, l.src.Compare)
	if found {
		l.elems[i] = elem
		l.notify(func(listener Listener) { listener.ItemChanged(i) })
		return
	}
	l.elems = slices.Insert(l.elems, i, elem)
	l.notify(func(listener Listener) { listener.ItemInserted(i) })
}

func (l *List[E]) putArrival(elem E) {
	i := slices.IndexFunc(l.elems, func(e E) bool { return l.src.Compare(e, elem) == 0 })
	if i >= 0 {
		l.elems[i] = elem
		l.notify(func(listener Listener) { listener.ItemChanged(i) })
		return
	}
	l.elems = append(l.elems, elem)
	i = len(l.elems) - 1
	l.notify(func(listener Listener) { listener.ItemInserted(i) })
}

func (l *List[E]) delete(elem E) {
	for i := len(l.elems) - 1; i >= 0; i-- {
		if l.src.Compare(l.elems[i], elem) == 0 {
			l.elems = slices.Delete(l.elems, i, i+1)
			l.notify(func(listener Listener) { listener.ItemRemoved(i) })
		}
	}
}

func (l *List[E]) notify(fn func(Listener)) {
	for _, listener := range slices.Clone(l.listeners) {
		fn(listener)
	}
}
