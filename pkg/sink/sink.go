// Package sink receives samples from the sampler and persists them.
package sink

import (
	"errors"

	"github.com/grafana/vmprof/pkg/traceback"
	"github.com/grafana/vmprof/pkg/vstack"
)

var ErrClosed = errors.New("sink closed")

type Sample struct {
	// Time is the capture time in unix nanoseconds.
	Time   int64
	Thread uint64
	// RSS is the resident set size in bytes, zero unless memory sampling is on.
	RSS    uint64
	Status traceback.StackStatus
	Frames []traceback.Frame
}

// Sink is the destination of captured samples.
//
// WriteSample is called from the sampler and must not block or allocate.
// It reports false when the sample was dropped.
type Sink interface {
	WriteSample(s *Sample) bool
	RegisterVirtualFunction(id vstack.FrameID, name string) error
	Flush() error
	Close() error
}

// Encoder turns decoded samples into a persistent representation. It is
// driven by a single goroutine.
type Encoder interface {
	Encode(s *Sample) error
	RegisterVirtualFunction(id vstack.FrameID, name string) error
	Flush() error
	Close() error
}
