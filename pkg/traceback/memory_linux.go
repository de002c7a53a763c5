//go:build linux

package traceback

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// ProcessMemory reads native-endian words from another process with process_vm_readv.
// It reuses its iovecs and is not safe for concurrent use.
type ProcessMemory struct {
	pid    int
	word   [8]byte
	local  [1]unix.Iovec
	remote [1]unix.RemoteIovec
}

func NewProcessMemory(pid int) *ProcessMemory {
	m := &ProcessMemory{pid: pid}
	m.local[0].Base = &m.word[0]
	m.local[0].SetLen(len(m.word))
	m.remote[0].Len = len(m.word)
	return m
}

func (m *ProcessMemory) ReadUint64(addr uint64) (uint64, bool) {
	m.remote[0].Base = uintptr(addr)
	n, err := unix.ProcessVMReadv(m.pid, m.local[:], m.remote[:], 0)
	if err != nil || n != len(m.word) {
		return 0, false
	}
	return binary.NativeEndian.Uint64(m.word[:]), true
}

