// Package vstack implements the per-thread shadow stack of interpreter frames.
//
// A Stack is mutated only by the thread that owns it. The sampler reads it
// through Snapshot at arbitrary moments, so every mutation is ordered so that
// the committed length never covers a slot that is not fully written.
package vstack

import (
	"errors"

	"go.uber.org/atomic"
)

// DefaultMaxDepth bounds stack growth unless WithMaxDepth is given.
const DefaultMaxDepth = 1 << 16

const initialCapacity = 16

var (
	ErrEmptyStack = errors.New("pop from an empty virtual stack")
	ErrStackFull  = errors.New("virtual stack cannot grow")
	ErrDestroyed  = errors.New("virtual stack destroyed")
)

// FrameID identifies an interpreter frame, usually a code object address.
type FrameID uint64

type Frame struct {
	ID   FrameID
	Line int32
}

type slot struct {
	id   atomic.Uint64
	line atomic.Int32
}

type Stack struct {
	slots    atomic.Pointer[[]slot]
	length   atomic.Int64
	maxDepth int

	destroyed bool
}

type Option func(*Stack)

func WithMaxDepth(n int) Option {
	return func(s *Stack) {
		if n > 0 {
			s.maxDepth = n
		}
	}
}

func New(opts ...Option) *Stack {
	s := &Stack{maxDepth: DefaultMaxDepth}
	for _, o := range opts {
		o(s)
	}
	slots := make([]slot, min(initialCapacity, s.maxDepth))
	s.slots.Store(&slots)
	return s
}

func (s *Stack) load() []slot {
	p := s.slots.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (s *Stack) Push(id FrameID) error {
	if s.destroyed {
		return ErrDestroyed
	}
	n := int(s.length.Load())
	slots := s.load()
	if n == len(slots) {
		var ok bool
		if slots, ok = s.grow(slots); !ok {
			return ErrStackFull
		}
	}
	slots[n].id.Store(uint64(id))
	slots[n].line.Store(0)
	s.length.Store(int64(n + 1))
	return nil
}

// grow publishes a larger copy of slots. Readers holding the old array keep
// seeing consistent frames because the old array is never written again.
func (s *Stack) grow(old []slot) ([]slot, bool) {
	if len(old) >= s.maxDepth {
		return nil, false
	}
	size := min(max(2*len(old), initialCapacity), s.maxDepth)
	fresh := make([]slot, size)
	for i := range old {
		fresh[i].id.Store(old[i].id.Load())
		fresh[i].line.Store(old[i].line.Load())
	}
	s.slots.Store(&fresh)
	return fresh, true
}

func (s *Stack) Pop() (FrameID, error) {
	n := int(s.length.Load())
	if n == 0 {
		return 0, ErrEmptyStack
	}
	s.length.Store(int64(n - 1))
	return FrameID(s.load()[n-1].id.Load()), nil
}

// SetLine records the current line of the topmost frame.
func (s *Stack) SetLine(line int32) {
	n := int(s.length.Load())
	if n == 0 {
		return
	}
	s.load()[n-1].line.Store(line)
}

func (s *Stack) Peek() (Frame, bool) {
	v := s.Snapshot()
	if v.Len() == 0 {
		return Frame{}, false
	}
	return v.FromTop(0), true
}

func (s *Stack) Len() int {
	return int(s.length.Load())
}

// Destroy releases the storage. Frames left on the stack are discarded.
func (s *Stack) Destroy() {
	s.destroyed = true
	s.length.Store(0)
	s.slots.Store(nil)
}

// Snapshot returns a read-only view of the committed frames.
func (s *Stack) Snapshot() View {
	n := int(s.length.Load())
	slots := s.load()
	if n > len(slots) {
		n = len(slots)
	}
	return View{slots: slots, n: n}
}

type View struct {
	slots []slot
	n     int
}

func (v View) Len() int {
	return v.n
}

// FromTop returns the i-th frame counting from the top of the stack.
func (v View) FromTop(i int) Frame {
	sl := &v.slots[v.n-1-i]
	return Frame{ID: FrameID(sl.id.Load()), Line: sl.line.Load()}
}
