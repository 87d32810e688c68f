package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestRecorderWithPrefix(t *testing.T) {
	var out bytes.Buffer
	recorder := NewRecorder(NewPrefixHandler(slog.NewTextHandler(&out, nil)), 10)
	logger := WithPrefix(WithPrefix(slog.New(recorder), "db"), "slides")

	logger.With("deck", "d1").Warn("skip malformed slide", "key", "d1/slides/001")

	res := recorder.Stream().Query(0, 10, nil)
	assert.Equal(t, 1, len(res.Items))
	entry := res.Items[0]
	assert.Equal(t, "WARN", entry.Level)
	assert.Equal(t, "db.slides", entry.Prefix)
	assert.Equal(t, "skip malformed slide", entry.Msg)
	assert.Equal(t, map[string]string{"deck": "d1", "key": "d1/slides/001"}, entry.Attrs)
	assert.NotEqual(t, 0, uint64(entry.Cursor))

	assert.Equal(t, true, strings.Contains(out.String(), "db.slides: skip malformed slide"))
	assert.Equal(t, false, strings.Contains(out.String(), prefixKey))
}

func TestTeeHandler(t *testing.T) {
	var a, b bytes.Buffer
	logger := slog.New(TeeHandler{
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelWarn}),
		slog.NewJSONHandler(&b, nil),
	})
	logger.Info("hello")
	assert.Equal(t, "", a.String())
	assert.Equal(t, true, strings.Contains(b.String(), `"msg":"hello"`))
}
