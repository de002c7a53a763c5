package util

import (
	"io"
	"strings"
	"testing"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Logger is a nop global logger
var Logger = log.NewNopLogger()

// NewLogger returns a logfmt logger writing to w, filtered at the given level.
// Unknown levels fall back to info.
func NewLogger(w io.Writer, lvl string) log.Logger {
	l := log.NewLogfmtLogger(log.NewSyncWriter(w))
	l = log.With(l, "ts", log.DefaultTimestampUTC)
	return level.NewFilter(l, levelOption(lvl))
}

func levelOption(lvl string) level.Option {
	switch strings.ToLower(lvl) {
	case "debug":
		return level.AllowDebug()
	case "warn":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// TestLogger routes log lines to t.Log so they show up only for failing tests.
func TestLogger(t testing.TB) log.Logger {
	return log.With(log.NewLogfmtLogger(testWriter{t: t}), "test", t.Name())
}
