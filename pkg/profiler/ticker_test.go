package profiler

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/grafana/vmprof/pkg/util"
)

func TestTickerRecoversPanics(t *testing.T) {
	panics := prometheus.NewCounter(prometheus.CounterOpts{Name: "panics"})
	ticker := NewTicker(util.TestLogger(t), WithPanicCounter(panics))

	var calls atomic.Int32
	require.NoError(t, ticker.Arm(time.Millisecond, func(time.Time) {
		if calls.Inc() == 1 {
			panic("boom")
		}
	}))
	require.ErrorIs(t, ticker.Arm(time.Millisecond, func(time.Time) {}), ErrTickerArmed)
	require.Eventually(t, func() bool {
		return calls.Load() >= 3
	}, 5*time.Second, time.Millisecond)
	ticker.Disarm()
	ticker.Disarm()

	stopped := calls.Load()
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, stopped, calls.Load())
	require.Equal(t, 1.0, testutil.ToFloat64(panics))

	require.NoError(t, ticker.Arm(time.Millisecond, func(time.Time) {}))
	ticker.Disarm()
	require.Error(t, ticker.Arm(0, func(time.Time) {}))
}
