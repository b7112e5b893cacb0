package memview

import "sync"

// Access is one read issued through a Recorder.
type Access struct {
	Addr   uint64
	Size   uint64
	Failed bool
}

// Recorder wraps a View and records every read issued through it. It is safe
// for concurrent use.
type Recorder struct {
	View View

	mu       sync.Mutex
	accesses []Access
}

func NewRecorder(v View) *Recorder {
	return &Recorder{View: v}
}

func (r *Recorder) Read(addr, size uint64) ([]byte, error) {
	b, err := r.View.Read(addr, size)
	r.mu.Lock()
	r.accesses = append(r.accesses, Access{Addr: addr, Size: size, Failed: err != nil})
	r.mu.Unlock()
	return b, err
}

// Count returns the number of reads issued so far.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accesses)
}

// Accesses returns a copy of the recorded reads in issue order.
func (r *Recorder) Accesses() []Access {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Access(nil), r.accesses...)
}

// Touched reports whether any recorded read covered addr.
func (r *Recorder) Touched(addr uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accesses {
		if addr >= a.Addr && addr-a.Addr < a.Size {
			return true
		}
	}
	return false
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.accesses = nil
	r.mu.Unlock()
}
