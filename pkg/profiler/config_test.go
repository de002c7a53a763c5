package profiler

import (
	"flag"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, Config{
		Interval:   10 * time.Millisecond,
		MaxDepth:   256,
		Native:     true,
		InterpName: "pypy",
	}, cfg)
	require.NoError(t, cfg.Validate())
}

func TestConfigFlags(t *testing.T) {
	var cfg Config
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"-vmprof.interval=1ms", "-vmprof.max-depth=64", "-vmprof.lines", "-vmprof.native=false", "-vmprof.interp-name=cpython"}))
	require.Equal(t, time.Millisecond, cfg.Interval)
	require.Equal(t, 64, cfg.MaxDepth)
	require.True(t, cfg.Lines)
	require.False(t, cfg.Native)
	require.Equal(t, "cpython", cfg.InterpName)
}

func TestConfigYAML(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, yaml.Unmarshal([]byte("interval: 5ms\nmemory: true\n"), &cfg))
	require.Equal(t, 5*time.Millisecond, cfg.Interval)
	require.True(t, cfg.Memory)
	require.Equal(t, 256, cfg.MaxDepth)
}

func TestConfigValidate(t *testing.T) {
	testcases := []struct {
		name   string
		modify func(*Config)
		valid  bool
	}{
		{"defaults", func(*Config) {}, true},
		{"min interval", func(c *Config) { c.Interval = MinInterval }, true},
		{"max interval", func(c *Config) { c.Interval = MaxInterval }, true},
		{"interval too small", func(c *Config) { c.Interval = MinInterval - 1 }, false},
		{"interval too large", func(c *Config) { c.Interval = MaxInterval + 1 }, false},
		{"zero depth", func(c *Config) { c.MaxDepth = 0 }, false},
		{"depth 1", func(c *Config) { c.MaxDepth = 1 }, true},
		{"max depth", func(c *Config) { c.MaxDepth = MaxMaxDepth }, true},
		{"depth too large", func(c *Config) { c.MaxDepth = MaxMaxDepth + 1 }, false},
		{"empty interp", func(c *Config) { c.InterpName = "" }, false},
		{"long interp", func(c *Config) { c.InterpName = strings.Repeat("x", 256) }, false},
		{"interp 255", func(c *Config) { c.InterpName = strings.Repeat("x", 255) }, true},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(&cfg)
			err := cfg.Validate()
			if tc.valid {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrInvalidConfig)
			}
		})
	}
}
