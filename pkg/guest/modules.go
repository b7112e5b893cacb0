// Package guest discovers the images loaded in a 32-bit Windows guest by
// walking the loader's module list.
package guest

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"

	"pemap/pkg/exe"
	"pemap/pkg/memview"
)

// Field offsets of the 32-bit loader structures.
const (
	pebLdr = 0x0c // PEB32.Ldr

	ldrInLoadOrderModuleList = 0x0c // PEB_LDR_DATA32.InLoadOrderModuleList

	entryInLoadOrderLinks = 0x00
	entryDllBase          = 0x18
	entryEntryPoint       = 0x1c
	entrySizeOfImage      = 0x20
	entryFullDllName      = 0x24
	entryBaseDllName      = 0x2c
	sizeofEntry           = 0x34 // through BaseDllName

	sizeofUnicodeString = 8
)

const (
	// MaxModules bounds a single list walk.
	MaxModules = 0x400
	// maxNameBytes bounds a UNICODE_STRING32 read.
	maxNameBytes = 0x1000
)

var ErrUnreadable = errors.New("loader structure unreadable")

// Module is one entry of the loader's InLoadOrder list.
type Module struct {
	Name       string
	Path       string
	Base       uint64
	Size       uint64
	EntryPoint uint64
}

func (m Module) String() string {
	return fmt.Sprintf("%s @ 0x%x (0x%x bytes)", m.Name, m.Base, m.Size)
}

// Open opens the image of m through the format registry.
func (m Module) Open(view memview.View) (exe.Executable, error) {
	return exe.Open(view, m.Base)
}

// Option configures a module walk.
type Option func(*walker)

// WithLogger routes walk diagnostics to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *walker) {
		if logger != nil {
			w.log = logger
		}
	}
}

type walker struct {
	view memview.View
	log  *zap.Logger
}

func newWalker(view memview.View, opts []Option) *walker {
	w := &walker{view: view, log: zap.NewNop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ProcessModules lists the modules of the user-mode process whose PEB32 lives
// at pebAddr.
func ProcessModules(view memview.View, pebAddr uint64, opts ...Option) ([]Module, error) {
	w := newWalker(view, opts)
	ldr, err := memview.Uint32(view, pebAddr+pebLdr)
	if err != nil {
		return nil, fmt.Errorf("PEB at 0x%x: %w: %w", pebAddr, ErrUnreadable, err)
	}
	if ldr == 0 {
		// loader not initialized yet
		return nil, nil
	}
	return w.walk(uint64(ldr) + ldrInLoadOrderModuleList)
}

// KernelModules lists the drivers linked from listHead, the address of
// PsLoadedModuleList.
func KernelModules(view memview.View, listHead uint64, opts ...Option) ([]Module, error) {
	return newWalker(view, opts).walk(listHead)
}

// walk follows the Flink chain starting at head until it returns to head.
// A revisited entry, an unreadable entry or MaxModules entries end the walk
// early; the modules collected so far are returned.
func (w *walker) walk(head uint64) ([]Module, error) {
	flink, err := memview.Uint32(w.view, head)
	if err != nil {
		return nil, fmt.Errorf("list head at 0x%x: %w: %w", head, ErrUnreadable, err)
	}

	var modules []Module
	seen := map[uint64]bool{head: true}
	link := uint64(flink)
	for link != head {
		if len(modules) >= MaxModules {
			w.log.Warn("Module list exceeds limit", zap.Uint64("head", head), zap.Int("limit", MaxModules))
			break
		}
		if seen[link] {
			w.log.Warn("Module list loops", zap.Uint64("head", head), zap.Uint64("entry", link))
			break
		}
		seen[link] = true

		entry := link - entryInLoadOrderLinks
		b, err := w.view.Read(entry, sizeofEntry)
		if err != nil {
			w.log.Debug("Unreadable module entry", zap.Uint64("entry", entry), zap.Error(err))
			break
		}

		m := Module{
			Base:       uint64(binary.LittleEndian.Uint32(b[entryDllBase:])),
			EntryPoint: uint64(binary.LittleEndian.Uint32(b[entryEntryPoint:])),
			Size:       uint64(binary.LittleEndian.Uint32(b[entrySizeOfImage:])),
			Path:       w.unicodeString(b[entryFullDllName : entryFullDllName+sizeofUnicodeString]),
			Name:       w.unicodeString(b[entryBaseDllName : entryBaseDllName+sizeofUnicodeString]),
		}
		if m.Base != 0 {
			modules = append(modules, m)
		}
		link = uint64(binary.LittleEndian.Uint32(b[entryInLoadOrderLinks:]))
	}
	return modules, nil
}

// unicodeString decodes a UNICODE_STRING32. Unreadable names are empty.
func (w *walker) unicodeString(b []byte) string {
	length := uint64(binary.LittleEndian.Uint16(b[0:]))
	buffer := uint64(binary.LittleEndian.Uint32(b[4:]))
	if length == 0 || buffer == 0 {
		return ""
	}
	length = min(length&^1, maxNameBytes)

	raw, err := w.view.Read(buffer, length)
	if err != nil {
		w.log.Debug("Unreadable module name", zap.Uint64("addr", buffer), zap.Error(err))
		return ""
	}
	name, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(raw)
	if err != nil {
		return ""
	}
	return string(name)
}
