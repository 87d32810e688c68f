package util

import (
	"slices"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestRingBuf(t *testing.T) {
	buf := NewRingBuf[int](3)
	assert.Equal(t, 0, buf.Size())
	assert.Equal(t, 0, len(buf.Values()))

	assert.Equal(t, false, buf.Add(1))
	assert.Equal(t, false, buf.Add(2))
	assert.Equal(t, false, buf.Add(3))
	assert.Equal(t, []int{1, 2, 3}, buf.Values())

	assert.Equal(t, true, buf.Add(4))
	assert.Equal(t, 3, buf.Size())
	assert.Equal(t, 2, buf.Get(0))
	assert.Equal(t, []int{2, 3, 4}, buf.Values())
	assert.Equal(t, []int{3, 4}, buf.Slice(1, 10))
	assert.Equal(t, 0, len(buf.Slice(3, 1)))

	assert.Equal(t, []int{4, 3, 2}, slices.Collect(buf.Iterator(2, -1)))
	assert.Equal(t, []int{3, 4}, slices.Collect(buf.Iterator(1, 0)))
}

func TestRingBufZeroCapacity(t *testing.T) {
	buf := NewRingBuf[string](0)
	assert.Equal(t, 1, buf.Capacity())
	buf.Add("a")
	assert.Equal(t, true, buf.Add("b"))
	assert.Equal(t, []string{"b"}, buf.Values())
}
