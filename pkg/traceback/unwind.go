package traceback

// Unwinder returns the machine context of the calling frame. Contexts are
// passed by value so the cursor stays on the caller's stack.
type Unwinder interface {
	// Caller reports false when there is no valid caller: the chain ended or
	// is corrupted.
	Caller(c MachineContext) (MachineContext, bool)
}

// ProcResolver maps a code address to the start of the function containing it.
type ProcResolver interface {
	ProcStart(pc uint64) (uint64, bool)
}

// MemoryReader reads one machine word.
type MemoryReader interface {
	ReadUint64(addr uint64) (uint64, bool)
}

const frameRecordSize = 16

// FramePointerUnwinder follows the saved frame pointer chain:
// [fp] holds the caller frame pointer and [fp+8] the return address.
type FramePointerUnwinder struct {
	Memory MemoryReader
	// StackLo and StackHi bound valid frame pointers when StackHi is set.
	StackLo uint64
	StackHi uint64
}

func (u *FramePointerUnwinder) Caller(c MachineContext) (MachineContext, bool) {
	fp := c.FP
	if fp == 0 || fp%8 != 0 {
		return c, false
	}
	if u.StackHi != 0 && (fp < u.StackLo || fp+frameRecordSize > u.StackHi) {
		return c, false
	}
	nextFP, ok := u.Memory.ReadUint64(fp)
	if !ok {
		return c, false
	}
	ret, ok := u.Memory.ReadUint64(fp + 8)
	if !ok || ret == 0 {
		return c, false
	}
	// the stack grows down, callers live at higher addresses
	if nextFP != 0 && nextFP <= fp {
		nextFP = 0
	}
	c.PC = ret
	c.SP = fp + frameRecordSize
	c.FP = nextFP
	return c, true
}

// MapMemory is a sparse word-addressed memory image.
type MapMemory map[uint64]uint64

func (m MapMemory) ReadUint64(addr uint64) (uint64, bool) {
	v, ok := m[addr]
	return v, ok
}

// PushFrame writes a frame record at fp linking to callerFP with return address ret.
func (m MapMemory) PushFrame(fp, callerFP, ret uint64) {
	m[fp] = callerFP
	m[fp+8] = ret
}
