// Package profiler drives sampling: it owns the lifecycle, the registered
// interpreter threads and the hand-off of captured samples to the sink.
package profiler

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"

	"github.com/grafana/vmprof/pkg/evalreg"
	"github.com/grafana/vmprof/pkg/metrics"
	"github.com/grafana/vmprof/pkg/sink"
	"github.com/grafana/vmprof/pkg/traceback"
	"github.com/grafana/vmprof/pkg/vstack"
)

var (
	ErrAlreadyEnabled = errors.New("profiler already enabled")
	ErrNotConfigured  = errors.New("profiler not configured")
)

type Profiler struct {
	logger   log.Logger
	metrics  *metrics.Metrics
	registry *evalreg.Registry
	unwinder traceback.Unwinder
	procs    traceback.ProcResolver
	ticker   Ticker
	rss      *rssSampler

	threads *xsync.MapOf[ThreadID, *Thread]
	ignore  atomic.Int32

	mutex   sync.Mutex
	state   State
	cfg     Config
	sink    sink.Sink
	builder *traceback.Builder

	// owned by the sampling goroutine while enabled
	buf    []traceback.Frame
	sample sink.Sample
	mc     traceback.MachineContext
}

// New creates an idle profiler. A nil m creates unregistered metrics, a nil
// registry an empty one without symbol resolution.
func New(logger log.Logger, registry *evalreg.Registry, unwinder traceback.Unwinder, procs traceback.ProcResolver, ticker Ticker, m *metrics.Metrics) *Profiler {
	if m == nil {
		m = metrics.New(nil)
	}
	if registry == nil {
		registry = evalreg.New(logger, nil, m.Registry)
	}
	logger = log.With(logger, "component", "profiler")
	if ticker == nil {
		ticker = NewTicker(logger, WithPanicCounter(m.UnexpectedErrors))
	}
	return &Profiler{
		logger:   logger,
		metrics:  m,
		registry: registry,
		unwinder: unwinder,
		procs:    procs,
		ticker:   ticker,
		rss:      newRSSSampler(logger),
		threads:  xsync.NewMapOf[ThreadID, *Thread](),
		state:    StateIdle,
	}
}

func (p *Profiler) State() State {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.state
}

func (p *Profiler) Config() Config {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.cfg
}

// Init validates cfg and binds the sink. It may be called again while not
// enabled to reconfigure.
func (p *Profiler) Init(cfg Config, s sink.Sink) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.state == StateEnabled {
		return ErrAlreadyEnabled
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("%w: sink is nil", ErrInvalidConfig)
	}
	p.cfg = cfg
	p.sink = s
	p.builder = traceback.NewBuilder(p.registry, p.unwinder, p.procs, traceback.Options{
		Native: cfg.Native,
		Lines:  cfg.Lines,
	})
	p.buf = make([]traceback.Frame, cfg.MaxDepth)
	p.state = StateConfigured
	_ = level.Debug(p.logger).Log("msg", "profiler configured", "interval", cfg.Interval, "max_depth", cfg.MaxDepth,
		"native", cfg.Native, "lines", cfg.Lines, "memory", cfg.Memory, "interp", cfg.InterpName)
	return nil
}

func (p *Profiler) Enable() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	switch p.state {
	case StateIdle:
		return ErrNotConfigured
	case StateEnabled:
		return ErrAlreadyEnabled
	}
	if p.cfg.Memory {
		if err := p.rss.start(p.cfg.Interval); err != nil {
			return fmt.Errorf("starting rss sampler: %w", err)
		}
	}
	if err := p.ticker.Arm(p.cfg.Interval, p.tick); err != nil {
		p.rss.stop()
		return fmt.Errorf("arming ticker: %w", err)
	}
	p.state = StateEnabled
	p.metrics.Sampler.Enables.Inc()
	_ = level.Info(p.logger).Log("msg", "profiling enabled", "interval", p.cfg.Interval, "eval_functions", p.registry.Len())
	return nil
}

// Disable stops sampling and flushes the sink. It returns after the last
// sample was handed to the sink. Disabling a profiler that is not enabled
// is a no-op.
func (p *Profiler) Disable() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.disableLocked()
}

func (p *Profiler) disableLocked() error {
	if p.state != StateEnabled {
		return nil
	}
	p.ticker.Disarm()
	p.rss.stop()
	p.state = StateDisabled
	_ = level.Info(p.logger).Log("msg", "profiling disabled")
	if err := p.sink.Flush(); err != nil {
		return fmt.Errorf("flushing sink: %w", err)
	}
	return nil
}

// Close disables the profiler, closes the sink and returns to idle.
func (p *Profiler) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	var result *multierror.Error
	if err := p.disableLocked(); err != nil {
		result = multierror.Append(result, err)
	}
	if p.sink != nil {
		if err := p.sink.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing sink: %w", err))
		}
	}
	p.sink = nil
	p.builder = nil
	p.state = StateIdle
	return result.ErrorOrNil()
}

// RegisterEval registers a dispatch-loop function by symbol name. An empty
// name clears the registry.
func (p *Profiler) RegisterEval(name string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.state == StateEnabled {
		return ErrAlreadyEnabled
	}
	return p.registry.Register(name)
}

// RegisterVirtualFunction names the interpreter code object id in the output.
func (p *Profiler) RegisterVirtualFunction(id vstack.FrameID, name string) error {
	p.mutex.Lock()
	s := p.sink
	p.mutex.Unlock()
	if s == nil {
		return ErrNotConfigured
	}
	return s.RegisterVirtualFunction(id, name)
}

// IgnoreSamples suppresses sampling while at least one IgnoreSamples(true)
// is not matched by an IgnoreSamples(false).
func (p *Profiler) IgnoreSamples(ignore bool) {
	if ignore {
		p.ignore.Inc()
		return
	}
	for {
		n := p.ignore.Load()
		if n == 0 || p.ignore.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// Traceback captures the traceback of mc and stack into buf with the
// configured options, or native defaults before Init.
func (p *Profiler) Traceback(mc traceback.MachineContext, stack *vstack.Stack, buf []traceback.Frame) traceback.Result {
	p.mutex.Lock()
	b := p.builder
	p.mutex.Unlock()
	if b == nil {
		b = traceback.NewBuilder(p.registry, p.unwinder, p.procs, traceback.Options{Native: true})
	}
	return b.Build(mc, stack.Snapshot(), buf)
}

func (p *Profiler) tick(now time.Time) {
	if p.ignore.Load() > 0 {
		p.metrics.Sampler.IgnoredSamples.Inc()
		return
	}
	ts := now.UnixNano()
	p.threads.Range(func(id ThreadID, t *Thread) bool {
		p.sampleThread(ts, t)
		return true
	})
}

func (p *Profiler) sampleThread(ts int64, t *Thread) {
	if !t.src.CaptureContext(&p.mc) {
		p.metrics.Sampler.NoContext.Inc()
		return
	}
	res := p.builder.Build(p.mc, t.Stack().Snapshot(), p.buf)
	p.metrics.Sampler.Samples.Inc()
	switch res.Status {
	case traceback.StackStatusTruncated:
		p.metrics.Sampler.TruncatedSamples.Inc()
	case traceback.StackStatusError:
		p.metrics.Sampler.ErrorSamples.Inc()
	}
	p.sample = sink.Sample{
		Time:   ts,
		Thread: uint64(t.id),
		RSS:    p.rss.Load(),
		Status: res.Status,
		Frames: p.buf[:res.Written],
	}
	p.sink.WriteSample(&p.sample)
}
