package symtab

import (
	"debug/elf"
	"path/filepath"

	"github.com/ianlancetaylor/demangle"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

var ErrNoSymbols = errors.New("no function symbols")

type Options struct {
	// DemangleOptions enables C++ demangling when not empty.
	DemangleOptions []demangle.Option
}

func DefaultOptions() Options {
	return Options{DemangleOptions: []demangle.Option{demangle.NoParams}}
}

// NewElfSymbolTab reads function symbols from .symtab and .dynsym of the
// file at path and rebases them at base.
func NewElfSymbolTab(path string, base uint64, opts Options) (*SymbolTab, error) {
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
	t.Rebase(base)
	return t, nil
}

type symbolKey struct {
	name  string
	value uint64
}

func elfSymbols(f *elf.File, module string, opts Options) ([]Symbol, error) {
	var all []elf.Symbol
	sym, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, err
	}
	all = append(all, sym...)
	dynsym, err := f.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, err
	}
	all = append(all, dynsym...)

	all = lo.Filter(all, func(s elf.Symbol, _ int) bool {
		return elf.ST_TYPE(s.Info) == elf.STT_FUNC && s.Value != 0 && s.Name != ""
	})
	if len(all) == 0 {
		return nil, ErrNoSymbols
	}
	// .dynsym repeats exported entries of .symtab
	all = lo.UniqBy(all, func(s elf.Symbol) symbolKey {
		return symbolKey{name: s.Name, value: s.Value}
	})
	return lo.Map(all, func(s elf.Symbol, _ int) Symbol {
		name := s.Name
		if len(opts.DemangleOptions) > 0 {
			name = demangle.Filter(name, opts.DemangleOptions...)
		}
		return Symbol{Start: s.Value, Size: s.Size, Name: name, Module: module}
	}), nil
}
