package pe

import (
	"errors"
	"fmt"

	"pemap/pkg/memview"
)

// Bounds for names read out of a mapped image. A symbol name of 4 KiB is
// already far past anything a linker emits; module names follow MAX_PATH.
const (
	MaxSymbolNameLength = 0x1000
	MaxModuleNameLength = 0x104

	stringChunk = 0x10
)

var (
	ErrUnreadable  = errors.New("string unreadable")
	ErrUnbounded   = errors.New("string not terminated within bound")
	ErrUnprintable = errors.New("string contains a non-printable byte")
	ErrEmptyString = errors.New("empty string")
	ErrInvalidName = errors.New("name contains characters outside the accepted set")
)

func printable(c byte) bool {
	return c >= 0x20 && c <= 0x7e
}

// ReadString reads a NUL-terminated printable ASCII string at addr. At most
// maxLen bytes are accepted before the terminator. Reads are chunked and
// never cross a page boundary, so a string ending right before an unmapped
// page is still recovered.
func ReadString(view memview.View, addr, maxLen uint64) (string, error) {
	limit := maxLen + 1 // room for the terminator
	if limit == 0 {
		limit = maxLen
	}
	name := make([]byte, 0, 32)
	for n := uint64(0); n < limit; {
		cur := addr + n
		if cur < addr {
			return "", fmt.Errorf("string at 0x%x: %w", addr, ErrUnreadable)
		}
		size := min(stringChunk, limit-n, PageSize-cur%PageSize)
		chunk, err := view.Read(cur, size)
		if err != nil && size > 1 {
			// The terminator may sit in front of the fault.
			chunk, err = view.Read(cur, 1)
		}
		if err != nil {
			return "", fmt.Errorf("string at 0x%x: %w: %w", addr, ErrUnreadable, err)
		}
		for _, c := range chunk {
			if c == 0 {
				if len(name) == 0 {
					return "", fmt.Errorf("string at 0x%x: %w", addr, ErrEmptyString)
				}
				return string(name), nil
			}
			if uint64(len(name)) == maxLen {
				return "", fmt.Errorf("string at 0x%x: %w of %d bytes", addr, ErrUnbounded, maxLen)
			}
			if !printable(c) {
				return "", fmt.Errorf("string at 0x%x: %w (0x%02x at +%d)", addr, ErrUnprintable, c, len(name))
			}
			name = append(name, c)
		}
		n += uint64(len(chunk))
	}
	return "", fmt.Errorf("string at 0x%x: %w of %d bytes", addr, ErrUnbounded, maxLen)
}

// readSymbolName reads an export or import symbol name at rva.
func (img *Image) readSymbolName(rva uint32) (string, error) {
	name, err := ReadString(img.view, img.base+uint64(rva), img.opts.maxSymbolName)
	if err != nil {
		return "", err
	}
	if img.opts.strictNames && !validFuncName(name) {
		return "", fmt.Errorf("symbol %q: %w", name, ErrInvalidName)
	}
	return name, nil
}

// readModuleName reads an imported module name at rva.
func (img *Image) readModuleName(rva uint32) (string, error) {
	name, err := ReadString(img.view, img.base+uint64(rva), img.opts.maxModuleName)
	if err != nil {
		return "", err
	}
	if img.opts.strictNames && !validDosFilename(name) {
		return "", fmt.Errorf("module %q: %w", name, ErrInvalidName)
	}
	return name, nil
}
