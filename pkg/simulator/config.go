package simulator

import (
	"errors"
	"flag"
	"fmt"
	"time"
)

var ErrInvalidConfig = errors.New("invalid simulator config")

type Config struct {
	Threads       int           `yaml:"threads"`
	Functions     int           `yaml:"functions"`
	MaxStackDepth int           `yaml:"max_stack_depth"`
	Greenlets     int           `yaml:"greenlets"`
	Step          time.Duration `yaml:"step"`
	Seed          int64         `yaml:"seed"`
}

func (cfg *Config) RegisterFlags(f *flag.FlagSet) {
	f.IntVar(&cfg.Threads, "simulator.threads", 4, "Number of simulated interpreter threads.")
	f.IntVar(&cfg.Functions, "simulator.functions", 32, "Number of distinct interpreted functions.")
	f.IntVar(&cfg.MaxStackDepth, "simulator.max-stack-depth", 24, "Maximum depth of the simulated interpreter stacks.")
	f.IntVar(&cfg.Greenlets, "simulator.greenlets", 0, "Number of additional stacks each thread switches between.")
	f.DurationVar(&cfg.Step, "simulator.step", 50*time.Microsecond, "Pause between two interpreter steps.")
	f.Int64Var(&cfg.Seed, "simulator.seed", 1, "Seed of the simulated workload.")
}

func DefaultConfig() Config {
	var cfg Config
	cfg.RegisterFlags(flag.NewFlagSet("", flag.PanicOnError))
	return cfg
}

func (cfg *Config) Validate() error {
	if cfg.Threads < 1 {
		return fmt.Errorf("%w: threads must be positive", ErrInvalidConfig)
	}
	if cfg.Functions < 1 {
		return fmt.Errorf("%w: functions must be positive", ErrInvalidConfig)
	}
	if cfg.MaxStackDepth < 1 {
		return fmt.Errorf("%w: max_stack_depth must be positive", ErrInvalidConfig)
	}
	if cfg.Greenlets < 0 {
		return fmt.Errorf("%w: greenlets must not be negative", ErrInvalidConfig)
	}
	if cfg.Step < 0 {
		return fmt.Errorf("%w: step must not be negative", ErrInvalidConfig)
	}
	return nil
}
