package stream

import (
	"fmt"
	"strconv"
)

// Cursor addresses an entry of a Buffered stream and grows strictly within it. The text form
// is fixed-width hex, so log history and memory store cursors also sort as strings.
type Cursor uint64

// CursorAware values learn the cursor they were appended at.
type CursorAware interface {
	SetCursor(cursor Cursor)
}

func (c Cursor) String() string {
	return fmt.Sprintf("%016x", uint64(c))
}

func (c Cursor) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Cursor) UnmarshalText(b []byte) error {
	cur, err := ParseCursor(string(b))
	if err == nil {
		*c = cur
	}
	return err
}

func ParseCursor(s string) (Cursor, error) {
	if n, err := strconv.ParseUint(s, 16, 64); err != nil {
		return 0, err
	} else {
		return Cursor(n), nil
	}
}
