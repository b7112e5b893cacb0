package exe

import (
	"errors"
	"fmt"
	"sync"

	"pemap/pkg/memview"
)

var ErrUnknownFormat = errors.New("unknown executable format")

// Format is one image format variant.
type Format struct {
	Name string
	// Probe reports whether the image at base looks like this format. It
	// must be cheap and must not fail on unreadable memory.
	Probe func(view memview.View, base uint64) bool
	Open  func(view memview.View, base uint64) (Executable, error)
}

var (
	formatsMu sync.RWMutex
	formats   []Format
)

// RegisterFormat adds a format to the registry. It is meant to be called from
// a format package's init function.
func RegisterFormat(f Format) {
	if f.Name == "" || f.Probe == nil || f.Open == nil {
		panic("exe: incomplete format registration")
	}
	formatsMu.Lock()
	defer formatsMu.Unlock()
	for _, existing := range formats {
		if existing.Name == f.Name {
			panic("exe: format " + f.Name + " registered twice")
		}
	}
	formats = append(formats, f)
}

// Formats returns the registered format names in probe order.
func Formats() []string {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	names := make([]string, 0, len(formats))
	for _, f := range formats {
		names = append(names, f.Name)
	}
	return names
}

// Probe returns the first registered format whose probe matches.
func Probe(view memview.View, base uint64) (Format, error) {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	for _, f := range formats {
		if f.Probe(view, base) {
			return f, nil
		}
	}
	return Format{}, fmt.Errorf("image at 0x%x: %w", base, ErrUnknownFormat)
}

// Open opens the image mapped at base with the first matching format.
func Open(view memview.View, base uint64) (Executable, error) {
	f, err := Probe(view, base)
	if err != nil {
		return nil, err
	}
	return f.Open(view, base)
}
