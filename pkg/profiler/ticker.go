package profiler

import (
	"errors"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/vmprof/pkg/util"
)

var ErrTickerArmed = errors.New("ticker already armed")

// Ticker is the interrupt source. fn runs on a single goroutine, never
// concurrently with itself.
type Ticker interface {
	Arm(interval time.Duration, fn func(now time.Time)) error
	// Disarm returns once no fn call is running and none will start.
	Disarm()
}

type TickerOption func(*timerTicker)

// WithPanicCounter counts panics recovered from the tick function.
func WithPanicCounter(c prometheus.Counter) TickerOption {
	return func(t *timerTicker) {
		t.panics = c
	}
}

type timerTicker struct {
	logger log.Logger
	panics prometheus.Counter

	mutex sync.Mutex
	done  chan struct{}
	wg    sync.WaitGroup
}

func NewTicker(logger log.Logger, opts ...TickerOption) Ticker {
	t := &timerTicker{logger: log.With(logger, "component", "ticker")}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *timerTicker) Arm(interval time.Duration, fn func(now time.Time)) error {
	if interval <= 0 {
		return errors.New("ticker interval must be positive")
	}
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.done != nil {
		return ErrTickerArmed
	}
	done := make(chan struct{})
	t.done = done
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				t.tick(fn, now)
			}
		}
	}()
	return nil
}

func (t *timerTicker) tick(fn func(now time.Time), now time.Time) {
	err := util.RecoverPanic(func() error {
		fn(now)
		return nil
	})()
	if err == nil {
		return
	}
	if t.panics != nil {
		t.panics.Inc()
	}
	var pe *util.PanicError
	if errors.As(err, &pe) {
		_ = level.Error(t.logger).Log("msg", "panic recovered in sampler", "err", err, "stack", string(pe.Stack))
		return
	}
	_ = level.Error(t.logger).Log("msg", "sampler failed", "err", err)
}

func (t *timerTicker) Disarm() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.done == nil {
		return
	}
	close(t.done)
	t.wg.Wait()
	t.done = nil
}
