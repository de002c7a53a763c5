package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/grafana/vmprof/pkg/evalreg"
	"github.com/grafana/vmprof/pkg/metrics"
	"github.com/grafana/vmprof/pkg/profiler"
	"github.com/grafana/vmprof/pkg/simulator"
	"github.com/grafana/vmprof/pkg/sink"
)

type simulateParams struct {
	configFile  string
	output      string
	duration    time.Duration
	slots       int
	metricsAddr string

	interval    time.Duration
	threads     int
	memory      bool
	lines       bool
	virtualOnly bool
}

func addSimulateParams(cmd *kingpin.CmdClause) *simulateParams {
	params := &simulateParams{}
	cmd.Flag("config.file", "YAML file with profiler and simulator settings.").StringVar(&params.configFile)
	cmd.Flag("output", "Path of the pprof file to write.").Default("vmprof.pprof").StringVar(&params.output)
	cmd.Flag("duration", "How long to profile.").Default("5s").DurationVar(&params.duration)
	cmd.Flag("slots", "Number of sample records buffered between the sampler and the writer.").Default("64").IntVar(&params.slots)
	cmd.Flag("metrics.listen-address", "Address to expose Prometheus metrics on, disabled when empty.").StringVar(&params.metricsAddr)
	cmd.Flag("interval", "Sampling interval, overrides the config file.").DurationVar(&params.interval)
	cmd.Flag("threads", "Number of simulated threads, overrides the config file.").IntVar(&params.threads)
	cmd.Flag("memory", "Record the resident set size with every sample.").BoolVar(&params.memory)
	cmd.Flag("lines", "Record interpreter line numbers.").BoolVar(&params.lines)
	cmd.Flag("virtual-only", "Record interpreter frames only.").BoolVar(&params.virtualOnly)
	return params
}

func (p *simulateParams) config() (config, error) {
	cfg, err := loadConfig(p.configFile)
	if err != nil {
		return cfg, err
	}
	if p.interval > 0 {
		cfg.Profiler.Interval = p.interval
	}
	if p.threads > 0 {
		cfg.Simulator.Threads = p.threads
	}
	cfg.Profiler.Memory = cfg.Profiler.Memory || p.memory
	cfg.Profiler.Lines = cfg.Profiler.Lines || p.lines
	if p.virtualOnly {
		cfg.Profiler.Native = false
	}
	return cfg, cfg.Validate()
}

func simulate(ctx context.Context, params *simulateParams) error {
	cfg, err := params.config()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	image := simulator.NewImage()
	registry := evalreg.New(logger, image.Symbols, m.Registry)
	p := profiler.New(logger, registry, image.Unwinder(), image.Symbols, nil, m)
	if err := p.RegisterEval(simulator.EvalFunction); err != nil {
		return err
	}

	file, err := sink.NewPprofFile(params.output, sink.PprofOptions{
		Period:     cfg.Profiler.Interval,
		Symbols:    image.Symbols,
		Memory:     cfg.Profiler.Memory,
		InterpName: cfg.Profiler.InterpName,
	})
	if err != nil {
		return err
	}
	if err := p.Init(cfg.Profiler, sink.NewBuffered(logger, file, params.slots, cfg.Profiler.MaxDepth, m.Sink)); err != nil {
		return err
	}
	sim, err := simulator.New(logger, cfg.Simulator, image, p)
	if err != nil {
		return err
	}
	if err := sim.RegisterFunctions(); err != nil {
		return err
	}
	if err := p.Enable(); err != nil {
		return err
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, params.duration)
	defer cancel()

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	g.Add(func() error {
		return sim.Run(ctx)
	}, func(error) {
		cancel()
	})
	if params.metricsAddr != "" {
		srv := &http.Server{
			Addr:              params.metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Add(func() error {
			_ = level.Info(logger).Log("msg", "serving metrics", "addr", params.metricsAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			_ = srv.Close()
		})
	}
	runErr := g.Run()
	var sigErr run.SignalError
	if errors.As(runErr, &sigErr) || errors.Is(runErr, context.DeadlineExceeded) {
		runErr = nil
	}

	if err := p.Close(); err != nil {
		return err
	}
	var size uint64
	if fi, err := os.Stat(params.output); err == nil {
		size = uint64(fi.Size())
	}
	_ = level.Info(logger).Log(
		"msg", "profile written",
		"path", params.output,
		"samples", file.Len(),
		"lost", counterValue(m.Sink.LostSamples),
		"size", humanize.Bytes(size),
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return runErr
}

func counterValue(c prometheus.Counter) float64 {
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		return 0
	}
	return out.GetCounter().GetValue()
}
