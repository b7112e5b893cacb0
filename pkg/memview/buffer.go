package memview

// Buffer is a View over an in-memory copy of an address range that starts at
// Base. Reads outside [Base, Base+len(Data)) fail.
type Buffer struct {
	Base uint64
	Data []byte
}

func NewBuffer(base uint64, data []byte) *Buffer {
	return &Buffer{Base: base, Data: data}
}

func (b *Buffer) Read(addr, size uint64) ([]byte, error) {
	if addr < b.Base {
		return nil, rangeError(addr, size)
	}
	offset := addr - b.Base
	length := uint64(len(b.Data))
	// written to avoid overflow on attacker-supplied addr/size
	if offset > length || size > length-offset {
		return nil, rangeError(addr, size)
	}
	out := make([]byte, size)
	copy(out, b.Data[offset:offset+size])
	return out, nil
}

// End returns the first address past the buffer.
func (b *Buffer) End() uint64 {
	return b.Base + uint64(len(b.Data))
}
