package sink

import (
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/grafana/vmprof/pkg/metrics"
	"github.com/grafana/vmprof/pkg/traceback"
	"github.com/grafana/vmprof/pkg/vstack"
)

const DefaultSlots = 64

// Buffered is a Sink backed by a fixed ring of preallocated records. The
// sampler encodes into a free record; a writer goroutine decodes filled
// records and hands them to the Encoder.
type Buffered struct {
	logger  log.Logger
	metrics *metrics.SinkMetrics

	encMutex sync.Mutex
	enc      Encoder

	free     chan []uint64
	filled   chan []uint64
	flushReq chan chan error
	done     chan struct{}

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	decoded Sample
}

func NewBuffered(logger log.Logger, enc Encoder, slots, maxDepth int, m *metrics.SinkMetrics) *Buffered {
	if slots <= 0 {
		slots = DefaultSlots
	}
	if m == nil {
		m = metrics.NewSinkMetrics(nil)
	}
	b := &Buffered{
		logger:   log.With(logger, "component", "sink"),
		metrics:  m,
		enc:      enc,
		free:     make(chan []uint64, slots),
		filled:   make(chan []uint64, slots),
		flushReq: make(chan chan error),
		done:     make(chan struct{}),
		decoded:  Sample{Frames: make([]traceback.Frame, 0, maxDepth)},
	}
	words := traceback.EstimateSlots(maxDepth)
	for i := 0; i < slots; i++ {
		b.free <- make([]uint64, words)
	}
	b.wg.Add(1)
	go b.loop()
	return b
}

func (b *Buffered) WriteSample(s *Sample) bool {
	select {
	case rec := <-b.free:
		rec = rec[:cap(rec)]
		n := EncodeRecord(rec, s)
		b.filled <- rec[:n]
		return true
	default:
		b.metrics.LostSamples.Inc()
		return false
	}
}

func (b *Buffered) RegisterVirtualFunction(id vstack.FrameID, name string) error {
	b.encMutex.Lock()
	defer b.encMutex.Unlock()
	return b.enc.RegisterVirtualFunction(id, name)
}

// Flush hands every filled record to the encoder and flushes it.
func (b *Buffered) Flush() error {
	reply := make(chan error, 1)
	select {
	case b.flushReq <- reply:
	case <-b.done:
		return ErrClosed
	}
	err := <-reply
	b.metrics.Flushes.Inc()
	if err != nil {
		b.metrics.FlushErrors.Inc()
	}
	return err
}

// Close drains pending records, stops the writer and closes the encoder.
func (b *Buffered) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
		b.wg.Wait()
		b.encMutex.Lock()
		defer b.encMutex.Unlock()
		b.closeErr = b.enc.Close()
	})
	return b.closeErr
}

func (b *Buffered) loop() {
	defer b.wg.Done()
	for {
		select {
		case rec := <-b.filled:
			b.handle(rec)
		case reply := <-b.flushReq:
			b.drain()
			b.encMutex.Lock()
			err := b.enc.Flush()
			b.encMutex.Unlock()
			if err != nil {
				_ = level.Error(b.logger).Log("msg", "failed to flush encoder", "err", err)
			}
			reply <- err
		case <-b.done:
			b.drain()
			return
		}
	}
}

func (b *Buffered) drain() {
	for {
		select {
		case rec := <-b.filled:
			b.handle(rec)
		default:
			return
		}
	}
}

func (b *Buffered) handle(rec []uint64) {
	defer func() {
		b.free <- rec
	}()
	if err := DecodeRecord(rec, &b.decoded); err != nil {
		b.metrics.DecodeErrors.Inc()
		_ = level.Warn(b.logger).Log("msg", "dropping sample record", "err", err)
		return
	}
	b.encMutex.Lock()
	err := b.enc.Encode(&b.decoded)
	b.encMutex.Unlock()
	if err != nil {
		_ = level.Warn(b.logger).Log("msg", "failed to encode sample", "err", err)
		return
	}
	b.metrics.EncodedSamples.Inc()
}
