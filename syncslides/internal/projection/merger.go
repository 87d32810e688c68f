package projection

import (
	"context"
	"slices"

	"github.com/mikhailv/syncslides/syncslides/internal/feed"
	"github.com/mikhailv/syncslides/syncslides/internal/metrics"
)

// Merger combines two scalar feeds. The override value wins whenever it is set (differs from
// unset); otherwise the driver value is used, falling back to unset.
//
// Every applied event notifies the listeners, even when the effective value did not change.
type Merger[T comparable] struct {
	loop      *Loop
	override  feed.Source[T]
	driver    feed.Source[T]
	unset     T
	opts      options
	listeners []ScalarListener[T]
	cancel    context.CancelFunc
	gen       uint64

	overrideVal T
	driverVal   T
	driverKnown bool
}

func NewMerger[T comparable](loop *Loop, override, driver feed.Source[T], unset T, opts ...Option) *Merger[T] {
	return &Merger[T]{
		loop:        loop,
		override:    override,
		driver:      driver,
		unset:       unset,
		opts:        newOptions("merger", opts),
		overrideVal: unset,
	}
}

func (m *Merger[T]) Value() T {
	if m.overrideVal != m.unset {
		return m.overrideVal
	}
	if m.driverKnown {
		return m.driverVal
	}
	return m.unset
}

// AddListener registers listener and reports the current value to it right away.
func (m *Merger[T]) AddListener(listener ScalarListener[T]) {
	if !slices.Contains(m.listeners, listener) {
		m.listeners = append(m.listeners, listener)
		metrics.SetListeners(m.opts.name, len(m.listeners))
		if len(m.listeners) == 1 {
			m.start()
		}
	}
	listener.OnChange(m.Value())
}

func (m *Merger[T]) RemoveListener(listener ScalarListener[T]) {
	i := slices.Index(m.listeners, listener)
	if i < 0 {
		return
	}
	m.listeners = slices.Delete(m.listeners, i, i+1)
	metrics.SetListeners(m.opts.name, len(m.listeners))
	if len(m.listeners) == 0 {
		m.stop()
	}
}

func (m *Merger[T]) start() {
	m.gen++
	ctx, cancel := context.WithCancel(m.loop.baseContext())
	m.cancel = cancel
	go m.watch(ctx, m.gen, m.override, "override", func(ev feed.Event[T]) {
		if ev.Kind == feed.Delete {
			m.overrideVal = m.unset
		} else {
			m.overrideVal = ev.Elem
		}
	})
	if m.driver == nil {
		return
	}
	go m.watch(ctx, m.gen, m.driver, "driver", func(ev feed.Event[T]) {
		if ev.Kind == feed.Delete {
			m.driverVal, m.driverKnown = m.unset, false
		} else {
			m.driverVal, m.driverKnown = ev.Elem, true
		}
	})
}

func (m *Merger[T]) stop() {
	m.cancel()
	m.cancel = nil
	m.gen++
	m.overrideVal = m.unset
	m.driverVal, m.driverKnown = m.unset, false
}

// watch runs one leg. A failing leg is reported to the listeners, the other leg keeps running.
func (m *Merger[T]) watch(ctx context.Context, gen uint64, src feed.Source[T], leg string, apply func(feed.Event[T])) {
	name := m.opts.name + "/" + leg
	defer metrics.TrackWatch(name)()

	err := src.Watch(ctx, func(ev feed.Event[T]) {
		m.loop.Post(ctx, func() {
			if m.gen != gen {
				return
			}
			metrics.TrackFeedEvent(name, ev.Kind.String())
			apply(ev)
			value := m.Value()
			m.notify(func(listener ScalarListener[T]) { listener.OnChange(value) })
		})
	})
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = ErrFeedClosed
	}
	m.opts.logger.Error("watch failed", "merger", m.opts.name, "leg", leg, "err", err)
	m.loop.Post(ctx, func() {
		if m.gen == gen {
			m.notify(func(listener ScalarListener[T]) { listener.OnError(err) })
		}
	})
}

func (m *Merger[T]) notify(fn func(ScalarListener[T])) {
	for _, listener := range slices.Clone(m.listeners) {
		fn(listener)
	}
}
