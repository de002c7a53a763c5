package profiler

import (
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
	"go.uber.org/atomic"
)

const minRSSInterval = 100 * time.Millisecond

// rssSampler refreshes the resident set size of the current process in the
// background so the sampler only performs an atomic load.
type rssSampler struct {
	logger log.Logger
	read   func() (uint64, error)
	value  atomic.Uint64

	done chan struct{}
	wg   sync.WaitGroup
}

func newRSSSampler(logger log.Logger) *rssSampler {
	return &rssSampler{
		logger: logger,
		read:   readSelfRSS,
	}
}

func readSelfRSS() (uint64, error) {
	proc, err := procfs.Self()
	if err != nil {
		return 0, errors.Wrap(err, "opening /proc/self")
	}
	stat, err := proc.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "reading /proc/self/stat")
	}
	return uint64(stat.ResidentMemory()), nil
}

func (r *rssSampler) start(interval time.Duration) error {
	v, err := r.read()
	if err != nil {
		return err
	}
	r.value.Store(v)
	interval = max(interval, minRSSInterval)
	r.done = make(chan struct{})
	r.wg.Add(1)
	go func(done chan struct{}) {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				v, err := r.read()
				if err != nil {
					_ = level.Debug(r.logger).Log("msg", "failed to read rss", "err", err)
					continue
				}
				r.value.Store(v)
			}
		}
	}(r.done)
	return nil
}

func (r *rssSampler) stop() {
	if r.done == nil {
		return
	}
	close(r.done)
	r.wg.Wait()
	r.done = nil
	r.value.Store(0)
}

func (r *rssSampler) Load() uint64 {
	return r.value.Load()
}
