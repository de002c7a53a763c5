package simulator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/grafana/vmprof/pkg/evalreg"
	"github.com/grafana/vmprof/pkg/metrics"
	"github.com/grafana/vmprof/pkg/profiler"
	"github.com/grafana/vmprof/pkg/sink"
	"github.com/grafana/vmprof/pkg/traceback"
	"github.com/grafana/vmprof/pkg/util"
	"github.com/grafana/vmprof/pkg/vstack"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func emptyView() vstack.View {
	return vstack.New().Snapshot()
}

func TestImageChains(t *testing.T) {
	im := NewImage()
	direct, viaBuiltin := im.layoutThread(0)

	registry := evalreg.New(util.TestLogger(t), im.Symbols, nil)
	require.NoError(t, registry.Register(EvalFunction))
	b := traceback.NewBuilder(registry, im.Unwinder(), im.Symbols, traceback.Options{Native: true})

	names := func(res traceback.Result, buf []traceback.Frame) []string {
		var out []string
		for _, f := range buf[:res.Written] {
			out = append(out, im.Symbols.Resolve(f.Addr).Name)
		}
		return out
	}
	buf := make([]traceback.Frame, 16)
	res := b.Build(traceback.MachineContext{PC: im.Addr("pypy_g_int_add_ovf", 4), FP: direct}, emptyView(), buf)
	require.Equal(t, traceback.StackStatusComplete, res.Status)
	require.Equal(t, []string{"pypy_g_int_add_ovf", EvalFunction, "pypy_main_startup", "main", "_start"}, names(res, buf))

	res = b.Build(traceback.MachineContext{PC: im.Addr("pypy_g_ll_str_concat", 4), FP: viaBuiltin}, emptyView(), buf)
	require.Equal(t, []string{"pypy_g_ll_str_concat", "pypy_g_call_builtin", EvalFunction, "pypy_main_startup", "main", "_start"}, names(res, buf))
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	cfg.Threads = 0
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestSimulatedProfile(t *testing.T) {
	logger := util.Logger
	im := NewImage()
	m := metrics.New(nil)
	registry := evalreg.New(logger, im.Symbols, m.Registry)
	p := profiler.New(logger, registry, im.Unwinder(), im.Symbols, nil, m)
	require.NoError(t, p.RegisterEval(EvalFunction))

	enc, err := sink.NewPprofEncoder(sink.PprofOptions{Period: time.Millisecond, Symbols: im.Symbols})
	require.NoError(t, err)
	cfg := profiler.DefaultConfig()
	cfg.Interval = time.Millisecond
	cfg.Lines = true
	require.NoError(t, p.Init(cfg, sink.NewBuffered(logger, enc, 64, cfg.MaxDepth, m.Sink)))

	simCfg := DefaultConfig()
	simCfg.Threads = 3
	simCfg.Greenlets = 1
	sim, err := New(logger, simCfg, im, p)
	require.NoError(t, err)
	require.NoError(t, sim.RegisterFunctions())

	require.NoError(t, p.Enable())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- sim.Run(ctx)
	}()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Sink.EncodedSamples) >= 20
	}, 10*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.NoError(t, p.Close())
	require.Equal(t, 0, p.Threads())

	prof := enc.Profile()
	require.NoError(t, prof.CheckValid())
	require.GreaterOrEqual(t, len(prof.Sample), 20)
	for _, s := range prof.Sample {
		assertSpliced(t, s)
	}
}

func TestRunStopsOnThreadFailure(t *testing.T) {
	logger := util.Logger
	im := NewImage()
	m := metrics.New(nil)
	p := profiler.New(logger, evalreg.New(logger, im.Symbols, m.Registry), im.Unwinder(), im.Symbols, nil, m)

	simCfg := DefaultConfig()
	simCfg.Threads = 4
	sim, err := New(logger, simCfg, im, p)
	require.NoError(t, err)
	// all threads claim the same id, only one can register
	sim.threadID = func() profiler.ThreadID { return 7 }

	done := make(chan error)
	go func() {
		done <- sim.Run(context.Background())
	}()
	select {
	case err := <-done:
		require.ErrorIs(t, err, profiler.ErrThreadExists)
	case <-time.After(10 * time.Second):
		t.Fatal("simulation did not stop after a thread failed")
	}
	require.Equal(t, 0, p.Threads())
	require.NoError(t, p.Close())
}

// every sample starts with a leaf, optionally a builtin, then the dispatch
// loop marker followed by interpreted frames and the outer native frames.
func assertSpliced(t *testing.T, s *profile.Sample) {
	t.Helper()
	names := make([]string, 0, len(s.Location))
	for _, loc := range s.Location {
		names = append(names, loc.Line[0].Function.Name)
	}
	i := 0
	for i < len(names) && names[i] != EvalFunction {
		require.False(t, strings.HasPrefix(names[i], "func_"), "interpreted frame before the dispatch loop: %v", names)
		i++
	}
	require.Less(t, i, len(names), "no dispatch loop in %v", names)
	i++
	for i < len(names) && strings.HasPrefix(names[i], "func_") {
		i++
	}
	require.Equal(t, []string{"pypy_main_startup", "main", "_start"}, names[i:])
}
