package stream

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

type entry struct {
	Cursor Cursor
	Val    int
}

func (e *entry) SetCursor(cursor Cursor) { e.Cursor = cursor }

func TestBufferedQuery(t *testing.T) {
	st := NewBufferedStream[int](10)
	var cursors []Cursor
	for i := range 5 {
		cursors = append(cursors, st.Append(i))
	}
	for i := 1; i < len(cursors); i++ {
		assert.Equal(t, true, cursors[i] > cursors[i-1])
	}
	assert.Equal(t, cursors[4], st.Last())

	res := st.Query(cursors[1], 2, nil)
	assert.Equal(t, []int{2, 3}, res.Items)
	assert.Equal(t, cursors[2], res.FirstCursor)
	assert.Equal(t, cursors[3], res.LastCursor)
	assert.Equal(t, true, res.HasMore)

	res = st.QueryBackward(cursors[3], 10, nil)
	assert.Equal(t, []int{2, 1, 0}, res.Items)
	assert.Equal(t, false, res.HasMore)

	res = st.Query(0, 10, func(v int) bool { return v%2 == 0 })
	assert.Equal(t, []int{0, 2, 4}, res.Items)

	res = st.Query(cursors[4], 10, nil)
	assert.Equal(t, 0, len(res.Items))
	assert.Equal(t, cursors[4], res.LastCursor)
}

func TestBufferedRetained(t *testing.T) {
	st := NewBufferedStream[int](2)
	first := st.Append(1)
	assert.Equal(t, true, st.Retained(0))

	second := st.Append(2)
	st.Append(3) // evicts first
	assert.Equal(t, false, st.Retained(0))
	assert.Equal(t, true, st.Retained(first))
	assert.Equal(t, true, st.Retained(second))

	st.Append(4) // evicts second
	assert.Equal(t, false, st.Retained(first))
}

func TestBufferedSetsCursor(t *testing.T) {
	st := NewBufferedStream[entry](10)
	cursor := st.Append(entry{Val: 1})
	res := st.Query(0, 1, nil)
	assert.Equal(t, cursor, res.Items[0].Cursor)
}

func TestBufferedListen(t *testing.T) {
	st := NewBufferedStream[int](10)
	var got []int
	stop := st.Listen(func(_ Cursor, v int) { got = append(got, v) })
	st.Append(1)
	st.Append(2)
	stop()
	st.Append(3)
	assert.Equal(t, []int{1, 2}, got)
}

func TestCursorText(t *testing.T) {
	c := Cursor(0xabc)
	text, err := c.MarshalText()
	assert.Equal(t, err, nil)
	assert.Equal(t, "0000000000000abc", string(text))

	var parsed Cursor
	assert.Equal(t, parsed.UnmarshalText(text), nil)
	assert.Equal(t, c, parsed)
	assert.NotEqual(t, parsed.UnmarshalText([]byte("zz")), nil)
}
