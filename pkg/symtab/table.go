// Package symtab resolves native code addresses to function symbols and
// function names to addresses.
package symtab

import (
	"errors"
	"sort"
)

var ErrSymbolNotFound = errors.New("symbol not found")

type Symbol struct {
	Start uint64
	// Size is zero when the symbol table does not record it, the symbol
	// then extends up to the next one.
	Size   uint64
	Name   string
	Module string
}

// SymbolTab is an immutable table of symbols sorted by start address.
// Addresses passed in and returned are absolute: symbol values plus base.
type SymbolTab struct {
	symbols []Symbol
	byName  map[string]int
	base    uint64
}

func NewSymbolTab(symbols []Symbol) *SymbolTab {
	sort.SliceStable(symbols, func(i, j int) bool {
		return symbols[i].Start < symbols[j].Start
	})
	byName := make(map[string]int, len(symbols))
	for i := range symbols {
		if _, ok := byName[symbols[i].Name]; !ok {
			byName[symbols[i].Name] = i
		}
	}
	return &SymbolTab{symbols: symbols, byName: byName}
}

func (t *SymbolTab) Rebase(base uint64) {
	t.base = base
}

func (t *SymbolTab) Base() uint64 {
	return t.base
}

func (t *SymbolTab) Len() int {
	return len(t.symbols)
}

func (t *SymbolTab) Symbols() []Symbol {
	return t.symbols
}

// Resolve returns the symbol containing addr with an absolute Start, or the
// zero Symbol.
func (t *SymbolTab) Resolve(addr uint64) Symbol {
	i := t.find(addr)
	if i < 0 {
		return Symbol{}
	}
	sym := t.symbols[i]
	sym.Start += t.base
	return sym
}

// ProcStart returns the absolute start of the function containing pc.
// It does not allocate.
func (t *SymbolTab) ProcStart(pc uint64) (uint64, bool) {
	i := t.find(pc)
	if i < 0 {
		return 0, false
	}
	return t.symbols[i].Start + t.base, true
}

// Lookup returns the absolute address of the named symbol.
func (t *SymbolTab) Lookup(name string) (uint64, error) {
	i, ok := t.byName[name]
	if !ok {
		return 0, ErrSymbolNotFound
	}
	return t.symbols[i].Start + t.base, nil
}

func (t *SymbolTab) find(addr uint64) int {
	if len(t.symbols) == 0 || addr < t.base {
		return -1
	}
	addr -= t.base
	if addr < t.symbols[0].Start {
		return -1
	}
	i := sort.Search(len(t.symbols), func(i int) bool {
		return addr < t.symbols[i].Start
	})
	i--
	if s := &t.symbols[i]; s.Size != 0 && addr >= s.Start+s.Size {
		return -1
	}
	return i
}
