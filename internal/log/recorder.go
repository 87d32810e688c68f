package log

import (
	"context"
	"log/slog"
	"slices"

	"github.com/mikhailv/syncslides/internal/stream"
)

var _ slog.Handler = Recorder{}

// Recorder appends every handled record to a bounded history stream before passing it on.
type Recorder struct {
	handler slog.Handler
	stream  *stream.Buffered[Entry]
	attrs   []slog.Attr
}

func NewRecorder(handler slog.Handler, bufferSize int) Recorder {
	return Recorder{
		handler: handler,
		stream:  stream.NewBufferedStream[Entry](bufferSize),
	}
}

func (s Recorder) Stream() *stream.Buffered[Entry] {
	return s.stream
}

func (s Recorder) Enabled(ctx context.Context, level slog.Level) bool {
	return s.handler.Enabled(ctx, level)
}

func (s Recorder) Handle(ctx context.Context, record slog.Record) error {
	s.stream.Append(NewEntry(record, s.attrs))
	return s.handler.Handle(ctx, record)
}

func (s Recorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Recorder{s.handler.WithAttrs(attrs), s.stream, append(slices.Clip(s.attrs), attrs...)}
}

func (s Recorder) WithGroup(name string) slog.Handler {
	return Recorder{s.handler.WithGroup(name), s.stream, s.attrs}
}
