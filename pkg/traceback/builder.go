// Package traceback merges native frames and interpreter frames into one
// traceback. Build runs on the sampling path: it never allocates, locks or
// blocks, and every failure degrades to a shorter result.
package traceback

import (
	"github.com/grafana/vmprof/pkg/vstack"
)

// DefaultMaxNativeFrames bounds native unwinding of a single traceback.
const DefaultMaxNativeFrames = 1024

// EvalChecker reports whether addr is a registered dispatch-loop entry.
type EvalChecker interface {
	IsEvalAddress(addr uint64) bool
}

type Options struct {
	// Native includes native frames. When false only interpreter frames are recorded.
	Native bool
	// Lines records the current line of interpreter frames.
	Lines           bool
	MaxNativeFrames int
}

// Builder produces tracebacks ordered innermost first: index 0 is the
// interrupted instruction, the last entry is the outermost caller.
type Builder struct {
	evals    EvalChecker
	unwinder Unwinder
	procs    ProcResolver
	opts     Options
}

func NewBuilder(evals EvalChecker, unwinder Unwinder, procs ProcResolver, opts Options) *Builder {
	if opts.MaxNativeFrames <= 0 {
		opts.MaxNativeFrames = DefaultMaxNativeFrames
	}
	return &Builder{
		evals:    evals,
		unwinder: unwinder,
		procs:    procs,
		opts:     opts,
	}
}

func (b *Builder) Options() Options {
	return b.opts
}

// Build writes the traceback of mc and stack into buf.
//
// Native frames are emitted until the first frame whose function is a
// registered eval function. That frame is kept as a marker and followed by
// the interpreter frames, topmost first; deeper dispatch-loop frames are
// dropped and the remaining native frames follow. If no dispatch-loop frame
// is met the interpreter frames are appended after the native ones.
func (b *Builder) Build(mc MachineContext, stack vstack.View, buf []Frame) Result {
	w := writer{buf: buf}
	if !b.opts.Native || b.unwinder == nil {
		b.emitVirtual(&w, stack)
		return w.result(false)
	}

	spliced := false
	aborted := true
	c := mc
	for depth := 0; depth < b.opts.MaxNativeFrames; depth++ {
		if c.PC == 0 {
			aborted = false
			break
		}
		if b.isEval(c.PC) {
			if !spliced {
				w.emit(Frame{Kind: FrameNative, Addr: c.PC})
				b.emitVirtual(&w, stack)
				spliced = true
			}
		} else {
			w.emit(Frame{Kind: FrameNative, Addr: c.PC})
		}
		next, ok := b.unwinder.Caller(c)
		if !ok {
			aborted = false
			break
		}
		c = next
	}
	if !spliced {
		b.emitVirtual(&w, stack)
	}
	return w.result(aborted)
}

func (b *Builder) isEval(pc uint64) bool {
	if b.evals == nil {
		return false
	}
	if b.procs != nil {
		start, ok := b.procs.ProcStart(pc)
		if !ok {
			return false
		}
		pc = start
	}
	return b.evals.IsEvalAddress(pc)
}

func (b *Builder) emitVirtual(w *writer, stack vstack.View) {
	n := stack.Len()
	for i := 0; i < n; i++ {
		f := stack.FromTop(i)
		fr := Frame{Kind: FrameVirtual, Addr: uint64(f.ID)}
		if b.opts.Lines {
			fr.Line = f.Line
		}
		w.emit(fr)
	}
}

type writer struct {
	buf     []Frame
	written int
	needed  int
}

func (w *writer) emit(f Frame) {
	if w.written < len(w.buf) {
		w.buf[w.written] = f
		w.written++
	}
	w.needed++
}

func (w *writer) result(aborted bool) Result {
	res := Result{Written: w.written, Needed: w.needed}
	switch {
	case w.needed > w.written:
		res.Status = StackStatusTruncated
	case aborted:
		res.Status = StackStatusError
	default:
		res.Status = StackStatusComplete
	}
	return res
}
