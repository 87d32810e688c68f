package util

import "iter"

func NewRingBuf[T any](capacity int) *RingBuf[T] {
	return &RingBuf[T]{
		end: -1,
		buf: make([]T, max(1, capacity)),
	}
}

// RingBuf keeps the last cap(buf) added items, the oldest one is evicted first.
type RingBuf[T any] struct {
	start int
	end   int
	size  int
	buf   []T
}

// Add appends the item and reports whether the oldest item was evicted to make room.
func (s *RingBuf[T]) Add(item T) (evicted bool) {
	capacity := cap(s.buf)
	if s.size == capacity {
		s.start = (s.start + 1) % capacity
		evicted = true
	} else {
		s.size++
	}
	s.end = (s.end + 1) % capacity
	s.buf[s.end] = item
	return evicted
}

func (s *RingBuf[T]) Get(i int) T {
	return s.buf[(s.start+i)%cap(s.buf)]
}

func (s *RingBuf[T]) Size() int {
	return s.size
}

func (s *RingBuf[T]) Capacity() int {
	return cap(s.buf)
}

func (s *RingBuf[T]) Slice(from, count int) []T {
	if s.size == 0 || from < 0 || count <= 0 || from >= s.size {
		return nil
	}
	count = min(count, s.size-from)
	capacity := cap(s.buf)
	res := make([]T, count)
	for i := 0; i < count; i++ {
		res[i] = s.buf[(s.start+from+i)%capacity]
	}
	return res
}

func (s *RingBuf[T]) Values() []T {
	return s.Slice(0, s.size)
}

func (s *RingBuf[T]) Iterator(from, step int) iter.Seq[T] {
	if step == 0 {
		step = 1
	}
	return func(yield func(T) bool) {
		capacity := cap(s.buf)
		for i := from; i >= 0 && i < s.size; i += step {
			if !yield(s.buf[(s.start+i)%capacity]) {
				break
			}
		}
	}
}
