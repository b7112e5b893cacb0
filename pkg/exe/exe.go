// Package exe defines the capability interface shared by every executable
// image format the engine understands, and the registry that selects a format
// for a mapped image.
package exe

import (
	"fmt"
	"io"
)

// Executable is an image mapped in a guest address space.
//
// GetExports and GetImports resolve lazily on first use and return the same
// contents on every later call. The returned maps are copies owned by the
// caller.
type Executable interface {
	// GetBase returns the address the image is mapped at.
	GetBase() uint64
	// GetImageBase returns the preferred base recorded at link time.
	GetImageBase() uint64
	GetImageSize() uint64
	GetRoundedImageSize() uint64
	GetEntryPoint() uint64
	GetExports() map[string]uint64
	GetImports() map[string][]ImportEntry
	DumpInfo(w io.Writer) error
}

// ImportSymbol identifies an imported symbol either by name or by ordinal.
// Exactly one of Name and ByOrdinal is meaningful.
type ImportSymbol struct {
	Name      string
	Ordinal   uint16
	ByOrdinal bool
}

func Named(name string) ImportSymbol {
	return ImportSymbol{Name: name}
}

func Ordinal(ord uint16) ImportSymbol {
	return ImportSymbol{Ordinal: ord, ByOrdinal: true}
}

func (s ImportSymbol) String() string {
	if s.ByOrdinal {
		return fmt.Sprintf("#%d", s.Ordinal)
	}
	return s.Name
}

// ImportEntry is one resolved import thunk.
type ImportEntry struct {
	Module string
	Symbol ImportSymbol
	// Hint is the export-table index hint of a named import.
	Hint uint16
	// Slot is the address of the import address table entry the loader
	// binds for this symbol.
	Slot uint64
}

func (e ImportEntry) String() string {
	return fmt.Sprintf("%s!%s @ 0x%x", e.Module, e.Symbol, e.Slot)
}
