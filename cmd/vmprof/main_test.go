package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grafana/vmprof/pkg/profiler"
	"github.com/grafana/vmprof/pkg/util"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	require.Equal(t, defaultConfig(), cfg)

	path := filepath.Join(t.TempDir(), "vmprof.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
profiler:
  interval: 2ms
  lines: true
  interp_name: cpython
simulator:
  threads: 2
  seed: 7
`), 0o644))
	cfg, err = loadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 2*time.Millisecond, cfg.Profiler.Interval)
	require.True(t, cfg.Profiler.Lines)
	require.True(t, cfg.Profiler.Native)
	require.Equal(t, "cpython", cfg.Profiler.InterpName)
	require.Equal(t, 256, cfg.Profiler.MaxDepth)
	require.Equal(t, 2, cfg.Simulator.Threads)
	require.Equal(t, int64(7), cfg.Simulator.Seed)
	require.NoError(t, cfg.Validate())

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestSimulateParamsOverride(t *testing.T) {
	params := &simulateParams{interval: time.Millisecond, threads: 3, lines: true, virtualOnly: true}
	cfg, err := params.config()
	require.NoError(t, err)
	require.Equal(t, time.Millisecond, cfg.Profiler.Interval)
	require.Equal(t, 3, cfg.Simulator.Threads)
	require.True(t, cfg.Profiler.Lines)
	require.False(t, cfg.Profiler.Native)

	params = &simulateParams{interval: time.Nanosecond}
	_, err = params.config()
	require.ErrorIs(t, err, profiler.ErrInvalidConfig)
}

func TestSimulateAndInspect(t *testing.T) {
	logger = util.TestLogger(t)
	output := filepath.Join(t.TempDir(), "out.pprof")
	params := &simulateParams{
		output:   output,
		duration: 200 * time.Millisecond,
		slots:    64,
		interval: time.Millisecond,
		threads:  2,
		lines:    true,
	}
	require.NoError(t, simulate(context.Background(), params))

	var out bytes.Buffer
	require.NoError(t, inspect(&out, &inspectParams{path: output, limit: 5, frames: 4}))
	text := out.String()
	require.Contains(t, text, "Period:   1ms")
	require.Contains(t, text, "Comment:  interpreter: pypy")
	require.Contains(t, text, "STACK")
	require.Contains(t, text, "...")
	require.LessOrEqual(t, strings.Count(text, "pypy_g_"), 5*4)
}
