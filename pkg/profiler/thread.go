package profiler

import (
	"errors"

	"github.com/go-kit/log/level"
	"github.com/petermattis/goid"
	"go.uber.org/atomic"

	"github.com/grafana/vmprof/pkg/traceback"
	"github.com/grafana/vmprof/pkg/vstack"
)

var ErrThreadExists = errors.New("thread already registered")

type ThreadID uint64

// CurrentThreadID returns the id of the calling goroutine.
func CurrentThreadID() ThreadID {
	return ThreadID(goid.Get())
}

// ContextSource captures the machine context of an interrupted thread.
// CaptureContext is called from the sampler and must not block; it reports
// false when the thread cannot be sampled right now.
type ContextSource interface {
	CaptureContext(mc *traceback.MachineContext) bool
}

// Thread is an interpreter thread known to the profiler. Push, Pop, SetLine
// and SwitchStack must only be called by the owning thread.
type Thread struct {
	id     ThreadID
	src    ContextSource
	own    *vstack.Stack
	active atomic.Pointer[vstack.Stack]
	p      *Profiler
}

func (t *Thread) ID() ThreadID {
	return t.id
}

func (t *Thread) Push(id vstack.FrameID) error {
	err := t.Stack().Push(id)
	if err != nil {
		t.p.metrics.Sampler.StackPushErrors.Inc()
	}
	return err
}

func (t *Thread) Pop() (vstack.FrameID, error) {
	id, err := t.Stack().Pop()
	if errors.Is(err, vstack.ErrEmptyStack) {
		t.p.metrics.Sampler.EmptyStackPops.Inc()
		_ = level.Debug(t.p.logger).Log("msg", "pop from an empty virtual stack", "thread", t.id)
	}
	return id, err
}

func (t *Thread) SetLine(line int32) {
	t.Stack().SetLine(line)
}

// Stack returns the active virtual stack.
func (t *Thread) Stack() *vstack.Stack {
	return t.active.Load()
}

// SwitchStack makes s the active stack and returns the previous one.
// A nil s restores the thread's own stack.
func (t *Thread) SwitchStack(s *vstack.Stack) *vstack.Stack {
	if s == nil {
		s = t.own
	}
	return t.active.Swap(s)
}

func (p *Profiler) NewThread(id ThreadID, src ContextSource) (*Thread, error) {
	t := &Thread{
		id:  id,
		src: src,
		own: vstack.New(),
		p:   p,
	}
	t.active.Store(t.own)
	if _, loaded := p.threads.LoadOrStore(id, t); loaded {
		t.own.Destroy()
		return nil, ErrThreadExists
	}
	p.metrics.Sampler.Threads.Inc()
	return t, nil
}

// ReleaseThread unregisters t and destroys its own stack.
func (p *Profiler) ReleaseThread(t *Thread) {
	if _, ok := p.threads.LoadAndDelete(t.id); !ok {
		return
	}
	p.metrics.Sampler.Threads.Dec()
	t.own.Destroy()
}

func (p *Profiler) Threads() int {
	return p.threads.Size()
}
