package memview

import (
	"bytes"
	"errors"
	"testing"
)

func TestBufferRead(t *testing.T) {
	buf := NewBuffer(0x1000, []byte{0, 1, 2, 3, 4, 5, 6, 7})

	tests := []struct {
		name    string
		addr    uint64
		size    uint64
		want    []byte
		wantErr bool
	}{
		{"start", 0x1000, 2, []byte{0, 1}, false},
		{"middle", 0x1003, 3, []byte{3, 4, 5}, false},
		{"whole", 0x1000, 8, []byte{0, 1, 2, 3, 4, 5, 6, 7}, false},
		{"empty at end", 0x1008, 0, []byte{}, false},
		{"below base", 0xfff, 1, nil, true},
		{"past end", 0x1007, 2, nil, true},
		{"beyond", 0x2000, 1, nil, true},
		{"size overflow", 0x1001, ^uint64(0), nil, true},
		{"address overflow", ^uint64(0), 2, nil, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := buf.Read(tc.addr, tc.size)
			if tc.wantErr {
				if !errors.Is(err, ErrOutOfRange) {
					t.Fatalf("Read(0x%x, %d) error = %v, want ErrOutOfRange", tc.addr, tc.size, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Read(0x%x, %d) unexpected error: %v", tc.addr, tc.size, err)
			}
			if !bytes.Equal(got, tc.want) {
				t.Errorf("Read(0x%x, %d) = %v, want %v", tc.addr, tc.size, got, tc.want)
			}
		})
	}
}

func TestBufferReadReturnsCopy(t *testing.T) {
	data := []byte{0xaa, 0xbb}
	buf := NewBuffer(0, data)

	got, err := buf.Read(0, 2)
	if err != nil {
		t.Fatal(err)
	}
	got[0] = 0
	if data[0] != 0xaa {
		t.Errorf("caller modification leaked into the buffer")
	}
}

func TestIntegerReaders(t *testing.T) {
	buf := NewBuffer(0x400000, []byte{0x4d, 0x5a, 0x50, 0x45, 0, 0, 1, 2, 3, 4, 5, 6})

	if v, err := Uint16(buf, 0x400000); err != nil || v != 0x5a4d {
		t.Errorf("Uint16 = 0x%x, %v", v, err)
	}
	if v, err := Uint32(buf, 0x400002); err != nil || v != 0x00004550 {
		t.Errorf("Uint32 = 0x%x, %v", v, err)
	}
	if v, err := Uint64(buf, 0x400004); err != nil || v != 0x0605040302010000 {
		t.Errorf("Uint64 = 0x%x, %v", v, err)
	}
	if _, err := Uint64(buf, 0x400008); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Uint64 past end error = %v", err)
	}
}
