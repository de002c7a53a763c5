package main

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/grafana/vmprof/pkg/profiler"
	"github.com/grafana/vmprof/pkg/simulator"
)

type config struct {
	Profiler  profiler.Config  `yaml:"profiler"`
	Simulator simulator.Config `yaml:"simulator"`
}

func defaultConfig() config {
	return config{
		Profiler:  profiler.DefaultConfig(),
		Simulator: simulator.DefaultConfig(),
	}
}

// loadConfig reads path over the flag defaults. An empty path yields the
// defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "reading config file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config file %s", path)
	}
	return cfg, nil
}

func (c *config) Validate() error {
	if err := c.Profiler.Validate(); err != nil {
		return err
	}
	return c.Simulator.Validate()
}
