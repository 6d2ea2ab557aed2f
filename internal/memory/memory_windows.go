package memory

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/windows"
)

// allocGranularity is the alignment VirtualAlloc requires of a requested base.
const allocGranularity = 0x10000

// System is the Provider backed by VirtualAlloc and VirtualProtect.
type System struct {
	page uintptr
}

func NewSystem() *System {
	return &System{page: uintptr(windows.Getpagesize())}
}

func (s *System) PageSize() uintptr { return s.page }

func (s *System) Allocate(hint uintptr, size int) (uintptr, error) {
	if size <= 0 {
		return 0, ErrZeroSize
	}
	total := Align(uintptr(size)+headerSize, s.page)

	var base uintptr
	found := hint != 0 && probe(hint, allocGranularity, func(at uintptr) bool {
		p, err := windows.VirtualAlloc(at, total, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
		if err != nil || p == 0 {
			return false
		}
		base = p
		return true
	})
	if !found {
		p, err := windows.VirtualAlloc(0, total, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
		if err != nil {
			return 0, errors.Wrapf(err, "VirtualAlloc %d bytes", total)
		}
		base = p
	}
	*(*uintptr)(unsafe.Pointer(base)) = total
	return base + headerSize, nil
}

func (s *System) Free(addr uintptr) error {
	if addr == 0 {
		return ErrNullAddress
	}
	base := addr - headerSize
	return errors.Wrapf(windows.VirtualFree(base, 0, windows.MEM_RELEASE), "VirtualFree %#x", base)
}

func (s *System) Protect(addr uintptr, size int, prot Protection) error {
	if err := checkRange(addr, size); err != nil {
		return err
	}
	start, length := PageRange(addr, size, s.page)
	var old uint32
	err := windows.VirtualProtect(start, length, windowsProt(prot), &old)
	return errors.Wrapf(err, "VirtualProtect %#x+%d %s", start, length, prot)
}

func windowsProt(p Protection) uint32 {
	switch p {
	case ProtRead:
		return windows.PAGE_READONLY
	case ProtReadWrite:
		return windows.PAGE_READWRITE
	case ProtReadExecute:
		return windows.PAGE_EXECUTE_READ
	case ProtReadWriteExecute:
		return windows.PAGE_EXECUTE_READWRITE
	}
	return windows.PAGE_NOACCESS
}
