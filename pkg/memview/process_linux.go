//go:build linux

package memview

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// maxProcessRead bounds a single process_vm_readv request.
const maxProcessRead = 1 << 24

// Process reads the address space of another process on the same host.
// The caller needs ptrace access to the target (same uid or CAP_SYS_PTRACE).
type Process struct {
	pid int
}

func OpenProcess(pid int) (*Process, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}
	return &Process{pid: pid}, nil
}

func (p *Process) Pid() int {
	return p.pid
}

func (p *Process) Read(addr, size uint64) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	if size > maxProcessRead || addr+size < addr || uint64(uintptr(addr)) != addr {
		return nil, rangeError(addr, size)
	}

	buf := make([]byte, size)
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(int(size))
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: int(size)}}

	n, err := unix.ProcessVMReadv(p.pid, local, remote, 0)
	if err != nil {
		return nil, fmt.Errorf("pid %d: %w: %w", p.pid, rangeError(addr, size), err)
	}
	if uint64(n) != size {
		return nil, fmt.Errorf("pid %d: short read of %d bytes: %w", p.pid, n, rangeError(addr, size))
	}
	return buf, nil
}
