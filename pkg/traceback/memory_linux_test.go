//go:build linux

package traceback

import (
	"os"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestProcessMemorySelf(t *testing.T) {
	words := []uint64{0xcafebabe, 0xdeadbeef}
	m := NewProcessMemory(os.Getpid())

	for i := range words {
		v, ok := m.ReadUint64(uint64(uintptr(unsafe.Pointer(&words[i]))))
		if !ok {
			t.Skip("process_vm_readv is not permitted here")
		}
		require.Equal(t, words[i], v)
	}

	_, ok := m.ReadUint64(0)
	require.False(t, ok)
}
