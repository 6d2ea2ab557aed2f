//go:build unix

package memory

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// System is the Provider backed by mmap and mprotect.
type System struct {
	page uintptr
	mappings
}

func NewSystem() *System {
	return &System{page: uintptr(unix.Getpagesize())}
}

func (s *System) PageSize() uintptr { return s.page }

func (s *System) Protect(addr uintptr, size int, prot Protection) error {
	if err := checkRange(addr, size); err != nil {
		return err
	}
	start, length := PageRange(addr, size, s.page)
	err := unix.Mprotect(Bytes(start, int(length)), unixProt(prot))
	return errors.Wrapf(err, "mprotect %#x+%d %s", start, length, prot)
}

func unixProt(p Protection) int {
	switch p {
	case ProtRead:
		return unix.PROT_READ
	case ProtReadWrite:
		return unix.PROT_READ | unix.PROT_WRITE
	case ProtReadExecute:
		return unix.PROT_READ | unix.PROT_EXEC
	case ProtReadWriteExecute:
		return unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
	}
	return unix.PROT_NONE
}
