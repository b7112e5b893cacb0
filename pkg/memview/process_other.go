//go:build !linux

package memview

import (
	"errors"
	"fmt"
)

// Process reads the address space of another process. Only Linux is
// supported.
type Process struct {
	pid int
}

func OpenProcess(pid int) (*Process, error) {
	return nil, fmt.Errorf("pid %d: %w", pid, errors.ErrUnsupported)
}

func (p *Process) Pid() int {
	return p.pid
}

func (p *Process) Read(addr, size uint64) ([]byte, error) {
	return nil, rangeError(addr, size)
}
