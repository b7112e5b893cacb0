// Package memview provides byte-level access to an address space that holds
// mapped executable images: a guest physical/virtual memory snapshot, a
// memory-mapped dump file or a live process.
package memview

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOutOfRange is returned (wrapped) by every View when any byte of the
// requested range cannot be read.
var ErrOutOfRange = errors.New("address out of range")

// View is random access to an address space. Read returns exactly size bytes
// starting at addr or an error; it never returns a short slice. The returned
// slice is owned by the caller.
//
// Implementations may block (a live VM servicing a memory access) and are
// responsible for their own timeouts. Callers never retry.
type View interface {
	Read(addr, size uint64) ([]byte, error)
}

func rangeError(addr, size uint64) error {
	return fmt.Errorf("read 0x%x bytes at 0x%x: %w", size, addr, ErrOutOfRange)
}

// Uint16 reads a little-endian 16-bit value at addr.
func Uint16(v View, addr uint64) (uint16, error) {
	b, err := v.Read(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Uint32 reads a little-endian 32-bit value at addr.
func Uint32(v View, addr uint64) (uint32, error) {
	b, err := v.Read(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Uint64 reads a little-endian 64-bit value at addr.
func Uint64(v View, addr uint64) (uint64, error) {
	b, err := v.Read(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}
