package memory

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

type mappings struct{}

func (s *System) mmap(at, length uintptr) (unsafe.Pointer, error) {
	return unix.MmapPtr(-1, 0, unsafe.Pointer(at), length,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
}

func (s *System) Allocate(hint uintptr, size int) (uintptr, error) {
	if size <= 0 {
		return 0, ErrZeroSize
	}
	total := Align(uintptr(size)+headerSize, s.page)

	var base unsafe.Pointer
	found := hint != 0 && probe(hint, s.page, func(at uintptr) bool {
		p, err := s.mmap(at, total)
		if err != nil {
			return false
		}
		if !Near(uintptr(p), hint) {
			_ = unix.MunmapPtr(p, total)
			return false
		}
		base = p
		return true
	})
	if !found {
		p, err := s.mmap(0, total)
		if err != nil {
			return 0, errors.Wrapf(err, "mmap %d bytes", total)
		}
		base = p
	}
	*(*uintptr)(base) = total
	return uintptr(base) + headerSize, nil
}

func (s *System) Free(addr uintptr) error {
	if addr == 0 {
		return ErrNullAddress
	}
	base := addr - headerSize
	total := *(*uintptr)(unsafe.Pointer(base))
	if total < headerSize {
		return errors.Newf("corrupt allocation header at %#x", base)
	}
	return errors.Wrapf(unix.MunmapPtr(unsafe.Pointer(base), total), "munmap %#x", base)
}
