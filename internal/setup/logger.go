package setup

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mikhailv/syncslides/internal/log"
)

// Logger builds the process logger: text records on stdout and, when file is set,
// JSON records appended to that file. close flushes nothing but releases the file.
func Logger(debug bool, file string, wrapHandler func(slog.Handler) slog.Handler) (logger *slog.Logger, closeFn func(), err error) {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	handler = slog.NewTextHandler(os.Stdout, opts)
	closeFn = func() {}

	if file != "" {
		f, err := os.OpenFile(file, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		handler = log.TeeHandler{handler, slog.NewJSONHandler(f, opts)}
		closeFn = func() { _ = f.Close() }
	}

	handler = log.NewPrefixHandler(handler)
	if wrapHandler != nil {
		handler = wrapHandler(handler)
	}
	return slog.New(handler), closeFn, nil
}
