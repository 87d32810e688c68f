package log

import (
	"log/slog"
	"time"
)

// Profile logs msg at debug level and returns a func logging the elapsed time once the work is done.
func Profile(logger *slog.Logger, msg string, args ...any) func() {
	st := time.Now()
	logger.Debug(msg, args...)
	return func() {
		logger.Debug(msg+" completed", append(args, slog.Duration("elapsed", time.Since(st)))...)
	}
}
