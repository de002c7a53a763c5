package symtab

import (
	"debug/elf"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/prometheus/procfs"
)

var ErrModuleNotMapped = errors.New("module is not mapped")

// NewProcSymbolTab loads the symbols of module as mapped into process pid.
// module matches either the full mapped path or its base name.
func NewProcSymbolTab(pid int, module string, opts Options) (*SymbolTab, error) {
	return newProcSymbolTab(procfs.DefaultMountPoint, pid, module, opts)
}

func newProcSymbolTab(mountPoint string, pid int, module string, opts Options) (*SymbolTab, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, errors.Wrap(err, "opening procfs")
	}
	proc, err := fs.Proc(pid)
	if err != nil {
		return nil, errors.Wrapf(err, "opening process %d", pid)
	}
	maps, err := proc.ProcMaps()
	if err != nil {
		return nil, errors.Wrapf(err, "reading maps of process %d", pid)
	}
	var first *procfs.ProcMap
	for _, m := range maps {
		if m.Pathname != module && filepath.Base(m.Pathname) != module {
			continue
		}
		if first == nil || m.StartAddr < first.StartAddr {
			first = m
		}
	}
	if first == nil {
		return nil, errors.Wrapf(ErrModuleNotMapped, "%s in process %d", module, pid)
	}

	path := first.Pathname
	f, err := elf.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening elf %s", path)
	}
	defer f.Close()
	symbols, err := elfSymbols(f, filepath.Base(path), opts)
	if err != nil {
		return nil, errors.Wrapf(err, "reading symbols from elf %s", path)
	}
	t := NewSymbolTab(symbols)
	if f.Type == elf.ET_DYN {
		t.Rebase(uint64(first.StartAddr) - uint64(first.Offset))
	}
	return t, nil
}
