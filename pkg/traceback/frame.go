package traceback

import (
	"errors"
	"fmt"
)

var ErrBufferTooSmall = errors.New("traceback buffer too small")

type FrameKind uint8

const (
	FrameNative FrameKind = iota + 1
	FrameVirtual
)

func (k FrameKind) String() string {
	switch k {
	case FrameNative:
		return "native"
	case FrameVirtual:
		return "virtual"
	default:
		return fmt.Sprintf("FrameKind(%d)", k)
	}
}

// Frame is one traceback entry. Addr is a code address for native frames and
// a virtual frame id for interpreter frames.
type Frame struct {
	Kind FrameKind
	Addr uint64
	Line int32
}

// MachineContext is the register state of an interrupted thread.
type MachineContext struct {
	PC uint64
	FP uint64
	SP uint64
}

type StackStatus uint8

var (
	StackStatusComplete  StackStatus = 0
	StackStatusError     StackStatus = 1
	StackStatusTruncated StackStatus = 2
)

func (s StackStatus) String() string {
	switch s {
	case StackStatusComplete:
		return "StackStatusComplete"
	case StackStatusError:
		return "StackStatusError"
	case StackStatusTruncated:
		return "StackStatusTruncated"
	default:
		return fmt.Sprintf("StackStatus(%d)", s)
	}
}

type Result struct {
	// Written is the number of frames stored in the buffer.
	Written int
	// Needed is the depth of the full traceback. It exceeds Written only
	// when Status is StackStatusTruncated.
	Needed int
	Status StackStatus
}

func (r Result) Err() error {
	if r.Status == StackStatusTruncated {
		return ErrBufferTooSmall
	}
	return nil
}

// EstimateSlots returns the number of record words needed to store a
// traceback of n frames: two words per frame plus a four word header.
func EstimateSlots(n int) int {
	return 2*n + 4
}
