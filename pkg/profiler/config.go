package profiler

import (
	"errors"
	"flag"
	"fmt"
	"time"
)

var ErrInvalidConfig = errors.New("invalid profiler config")

const (
	MinInterval = 100 * time.Microsecond
	MaxInterval = 10 * time.Second
	MaxMaxDepth = 4096

	maxInterpNameLen = 255
)

type Config struct {
	Interval   time.Duration `yaml:"interval"`
	MaxDepth   int           `yaml:"max_depth"`
	Memory     bool          `yaml:"memory"`
	Lines      bool          `yaml:"lines"`
	Native     bool          `yaml:"native"`
	InterpName string        `yaml:"interp_name"`
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.DurationVar(&cfg.Interval, "vmprof.interval", 10*time.Millisecond, "Sampling interval.")
	f.IntVar(&cfg.MaxDepth, "vmprof.max-depth", 256, "Maximum number of frames recorded per sample.")
	f.BoolVar(&cfg.Memory, "vmprof.memory", false, "Record the resident set size with every sample.")
	f.BoolVar(&cfg.Lines, "vmprof.lines", false, "Record the current line of interpreter frames.")
	f.BoolVar(&cfg.Native, "vmprof.native", true, "Include native frames in samples.")
	f.StringVar(&cfg.InterpName, "vmprof.interp-name", "pypy", "Name of the profiled interpreter, stored in the profile.")
}

// DefaultConfig returns the flag defaults.
func DefaultConfig() Config {
	var cfg Config
	cfg.RegisterFlags(flag.NewFlagSet("", flag.PanicOnError))
	return cfg
}

func (cfg *Config) Validate() error {
	if cfg.Interval < MinInterval || cfg.Interval > MaxInterval {
		return fmt.Errorf("%w: interval %s is out of range [%s, %s]", ErrInvalidConfig, cfg.Interval, MinInterval, MaxInterval)
	}
	if cfg.MaxDepth < 1 || cfg.MaxDepth > MaxMaxDepth {
		return fmt.Errorf("%w: max_depth %d is out of range [1, %d]", ErrInvalidConfig, cfg.MaxDepth, MaxMaxDepth)
	}
	if cfg.InterpName == "" {
		return fmt.Errorf("%w: interp_name is empty", ErrInvalidConfig)
	}
	if len(cfg.InterpName) > maxInterpNameLen {
		return fmt.Errorf("%w: interp_name is longer than %d bytes", ErrInvalidConfig, maxInterpNameLen)
	}
	return nil
}
