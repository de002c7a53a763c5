package simulator

import (
	"github.com/grafana/vmprof/pkg/symtab"
	"github.com/grafana/vmprof/pkg/traceback"
)

const (
	ModuleName   = "libpypy-c.so"
	EvalFunction = "pypy_g_dispatch_loop"

	imageBase    = 0x400000
	functionSize = 0x1000

	stackTop       = 0x7ff000000000
	threadStackGap = 0x100000
	frameGap       = 0x40
)

var imageFunctions = []string{
	"_start",
	"main",
	"pypy_main_startup",
	EvalFunction,
	"pypy_g_call_builtin",
	"pypy_g_ll_dict_lookup",
	"pypy_g_ll_str_concat",
	"pypy_g_gc_collect_step",
	"pypy_g_int_add_ovf",
}

// leaf functions the interpreter may be interrupted in
var leafFunctions = imageFunctions[4:]

// Image is a synthetic native image: symbols of the interpreter binary and
// the frame records of every simulated thread. Memory is written only
// before sampling starts.
type Image struct {
	Symbols *symtab.SymbolTab
	Memory  traceback.MapMemory

	addrs map[string]uint64
}

func NewImage() *Image {
	symbols := make([]symtab.Symbol, 0, len(imageFunctions))
	addrs := make(map[string]uint64, len(imageFunctions))
	for i, name := range imageFunctions {
		start := uint64(imageBase + i*functionSize)
		symbols = append(symbols, symtab.Symbol{
			Start:  start,
			Size:   functionSize,
			Name:   name,
			Module: ModuleName,
		})
		addrs[name] = start
	}
	return &Image{
		Symbols: symtab.NewSymbolTab(symbols),
		Memory:  traceback.MapMemory{},
		addrs:   addrs,
	}
}

// Unwinder returns a frame pointer unwinder over the image memory.
func (im *Image) Unwinder() *traceback.FramePointerUnwinder {
	return &traceback.FramePointerUnwinder{Memory: im.Memory}
}

// Addr returns an address offset bytes into the named function.
func (im *Image) Addr(name string, offset uint64) uint64 {
	return im.addrs[name] + offset
}

// layoutThread writes the two frame chains of thread n and returns their
// innermost frame pointers: a leaf called by the dispatch loop, and a leaf
// called by a builtin that was called by the dispatch loop.
func (im *Image) layoutThread(n int) (direct, viaBuiltin uint64) {
	base := stackTop - uint64(n)*threadStackGap
	outer := []uint64{
		im.Addr("pypy_main_startup", 0x80),
		im.Addr("main", 0x40),
		im.Addr("_start", 0x20),
	}
	direct = base
	im.chain(direct, append([]uint64{im.Addr(EvalFunction, 0x120)}, outer...))
	viaBuiltin = base + threadStackGap/2
	im.chain(viaBuiltin, append([]uint64{im.Addr("pypy_g_call_builtin", 0x30), im.Addr(EvalFunction, 0x200)}, outer...))
	return direct, viaBuiltin
}

func (im *Image) chain(fp uint64, rets []uint64) {
	for i, ret := range rets {
		next := fp + frameGap
		if i == len(rets)-1 {
			next = 0
		}
		im.Memory.PushFrame(fp, next, ret)
		fp += frameGap
	}
}
