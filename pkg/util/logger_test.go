package util

import (
	"bytes"
	"testing"

	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "warn")
	_ = level.Info(l).Log("msg", "dropped")
	_ = level.Warn(l).Log("msg", "kept")
	require.NotContains(t, buf.String(), "dropped")
	require.Contains(t, buf.String(), "msg=kept")
	require.Contains(t, buf.String(), "level=warn")
}

func TestNewLogger_UnknownLevelIsInfo(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, "chatty")
	_ = level.Debug(l).Log("msg", "debug")
	_ = level.Info(l).Log("msg", "info")
	require.NotContains(t, buf.String(), "msg=debug")
	require.Contains(t, buf.String(), "msg=info")
}
