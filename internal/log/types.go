package log

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mikhailv/syncslides/internal/stream"
)

var _ stream.CursorAware = (*Entry)(nil)

// Entry is a log record kept in the history stream served to the UI.
type Entry struct {
	Cursor stream.Cursor     `json:"cursor,omitempty"`
	Time   time.Time         `json:"time"`
	Level  string            `json:"level"`
	Prefix string            `json:"prefix,omitempty"`
	Msg    string            `json:"msg"`
	Attrs  map[string]string `json:"attrs,omitempty"`
}

func NewEntry(rec slog.Record, loggerAttrs []slog.Attr) Entry {
	entry := Entry{
		Time:  rec.Time.UTC(),
		Level: rec.Level.String(),
		Msg:   rec.Message,
	}
	if n := rec.NumAttrs() + len(loggerAttrs); n > 0 {
		entry.Attrs = make(map[string]string, n)
		entry.addAttrs(loggerAttrs)
		rec.Attrs(entry.addAttr)
	}
	if len(entry.Attrs) == 0 {
		entry.Attrs = nil
	}
	return entry
}

func (s *Entry) SetCursor(cursor stream.Cursor) {
	s.Cursor = cursor
}

func (s *Entry) addAttrs(attrs []slog.Attr) {
	for _, attr := range attrs {
		s.addAttr(attr)
	}
}

func (s *Entry) addAttr(attr slog.Attr) bool {
	if attr.Key == prefixKey {
		if s.Prefix != "" {
			s.Prefix += "."
		}
		s.Prefix += attr.Value.String()
		return true
	}
	val := attr.Value.Resolve().Any()
	if attrs, ok := val.([]slog.Attr); ok {
		s.addAttrs(attrs)
	} else {
		s.Attrs[attr.Key] = fmt.Sprint(val)
	}
	return true
}
