package memview

import (
	"os"

	"github.com/edsrzf/mmap-go"
)

// Mapped is a raw memory dump file mapped read-only into the host process and
// exposed at a caller-chosen guest base address.
type Mapped struct {
	Buffer
	data mmap.MMap
}

// Map maps the dump at path so that its first byte appears at base.
func Map(path string, base uint64) (*Mapped, error) {
	handle, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = handle.Close()
	}()

	data, err := mmap.Map(handle, mmap.RDONLY, 0)
	if err != nil {
		return nil, err
	}

	return &Mapped{Buffer: Buffer{Base: base, Data: data}, data: data}, nil
}

// Close unmaps the dump. The view must not be used afterwards.
func (m *Mapped) Close() error {
	m.Buffer.Data = nil
	return m.data.Unmap()
}
