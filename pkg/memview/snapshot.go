package memview

import (
	"io"
	"os"
	"strings"

	"github.com/golang/snappy"
)

// SnapshotExt marks dump files stored in the snappy framing format.
const SnapshotExt = ".sz"

// LoadSnapshot reads a whole dump file into memory and exposes it at base.
// Files ending in SnapshotExt are decompressed on the fly.
func LoadSnapshot(path string, base uint64) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, SnapshotExt) {
		r = snappy.NewReader(f)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return NewBuffer(base, data), nil
}

// WriteSnapshot stores data in the compressed snapshot format read by
// LoadSnapshot.
func WriteSnapshot(w io.Writer, data []byte) error {
	sw := snappy.NewBufferedWriter(w)
	if _, err := sw.Write(data); err != nil {
		_ = sw.Close()
		return err
	}
	return sw.Close()
}
