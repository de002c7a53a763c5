// Package simulator runs a synthetic interpreter under the profiler: threads
// push and pop interpreted frames while their native state moves between
// the dispatch loop and a few leaf functions.
package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/grafana/vmprof/pkg/profiler"
	"github.com/grafana/vmprof/pkg/traceback"
	"github.com/grafana/vmprof/pkg/vstack"
)

const functionIDBase = 0x7f0000000000

type Simulator struct {
	logger   log.Logger
	cfg      Config
	image    *Image
	profiler *profiler.Profiler
	threadID func() profiler.ThreadID

	threads []*thread
}

// New lays out the native frames of every thread in image. It must be
// called before the profiler is enabled.
func New(logger log.Logger, cfg Config, image *Image, p *profiler.Profiler) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Simulator{
		logger:   log.With(logger, "component", "simulator"),
		cfg:      cfg,
		image:    image,
		profiler: p,
		threadID: profiler.CurrentThreadID,
	}
	for i := 0; i < cfg.Threads; i++ {
		direct, viaBuiltin := image.layoutThread(i)
		s.threads = append(s.threads, &thread{
			sim:        s,
			n:          i,
			rnd:        rand.New(rand.NewSource(cfg.Seed + int64(i))),
			direct:     direct,
			viaBuiltin: viaBuiltin,
		})
	}
	return s, nil
}

// FunctionID returns the code object id of interpreted function i.
func FunctionID(i int) vstack.FrameID {
	return vstack.FrameID(functionIDBase + uint64(i)*0x40)
}

// FunctionName returns the registered name of interpreted function i.
func FunctionName(i int) string {
	return fmt.Sprintf("py:func_%d:%d:module_%d.py", i, 10+i, i%4)
}

// RegisterFunctions names every interpreted function in the profiler sink.
func (s *Simulator) RegisterFunctions() error {
	for i := 0; i < s.cfg.Functions; i++ {
		if err := s.profiler.RegisterVirtualFunction(FunctionID(i), FunctionName(i)); err != nil {
			return fmt.Errorf("registering %s: %w", FunctionName(i), err)
		}
	}
	return nil
}

// Run executes the workload until ctx is done. The first failing thread
// stops the others and its error is returned.
func (s *Simulator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, t := range s.threads {
		t := t
		g.Go(func() error {
			return t.run(ctx)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	_ = level.Info(s.logger).Log("msg", "simulation finished", "threads", len(s.threads))
	return nil
}

// native state of a thread, packed into one word so that the sampler never
// observes a torn update: bit 16 selects the builtin chain, the low bits
// the leaf function.
type nativeState = uint32

const viaBuiltinBit = 1 << 16

type thread struct {
	sim *Simulator
	n   int
	rnd *rand.Rand

	direct     uint64
	viaBuiltin uint64
	state      atomic.Uint32
}

func (t *thread) CaptureContext(mc *traceback.MachineContext) bool {
	st := t.state.Load()
	leaf := leafFunctions[int(st&0xffff)%len(leafFunctions)]
	mc.PC = t.sim.image.Addr(leaf, 0x10)
	mc.FP = t.direct
	if st&viaBuiltinBit != 0 {
		mc.FP = t.viaBuiltin
	}
	mc.SP = mc.FP - 0x20
	return true
}

func (t *thread) run(ctx context.Context) error {
	pt, err := t.sim.profiler.NewThread(t.sim.threadID(), t)
	if err != nil {
		return fmt.Errorf("thread %d: %w", t.n, err)
	}
	defer t.sim.profiler.ReleaseThread(pt)

	stacks := []*vstack.Stack{pt.Stack()}
	for i := 0; i < t.sim.cfg.Greenlets; i++ {
		stacks = append(stacks, vstack.New(vstack.WithMaxDepth(t.sim.cfg.MaxStackDepth)))
	}
	defer func() {
		pt.SwitchStack(nil)
		for _, s := range stacks[1:] {
			s.Destroy()
		}
	}()

	var ticker *time.Ticker
	if t.sim.cfg.Step > 0 {
		ticker = time.NewTicker(t.sim.cfg.Step)
		defer ticker.Stop()
	}
	for {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return nil
		}
		t.step(pt, stacks)
	}
}

func (t *thread) step(pt *profiler.Thread, stacks []*vstack.Stack) {
	cfg := &t.sim.cfg
	switch r := t.rnd.Intn(100); {
	case r < 45 && pt.Stack().Len() < cfg.MaxStackDepth:
		_ = pt.Push(FunctionID(t.rnd.Intn(cfg.Functions)))
	case r < 90:
		// popping an empty stack is tolerated by the profiler
		_, _ = pt.Pop()
	case r < 95 && len(stacks) > 1:
		pt.SwitchStack(stacks[t.rnd.Intn(len(stacks))])
	}
	pt.SetLine(int32(1 + t.rnd.Intn(200)))
	st := nativeState(t.rnd.Intn(len(leafFunctions)))
	if t.rnd.Intn(4) == 0 {
		st |= viaBuiltinBit
	}
	t.state.Store(st)
}
