//go:build unix && !linux

package memory

import (
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// mappings keeps the slices unix.Munmap needs back.
type mappings struct {
	mu   sync.Mutex
	live map[uintptr][]byte
}

// Allocate ignores hint: without MmapPtr the kernel picks the address.
func (s *System) Allocate(_ uintptr, size int) (uintptr, error) {
	if size <= 0 {
		return 0, ErrZeroSize
	}
	total := Align(uintptr(size)+headerSize, s.page)
	b, err := unix.Mmap(-1, 0, int(total),
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, errors.Wrapf(err, "mmap %d bytes", total)
	}
	base := uintptr(unsafe.Pointer(&b[0]))
	*(*uintptr)(unsafe.Pointer(base)) = total

	s.mu.Lock()
	if s.live == nil {
		s.live = make(map[uintptr][]byte)
	}
	s.live[base] = b
	s.mu.Unlock()
	return base + headerSize, nil
}

func (s *System) Free(addr uintptr) error {
	if addr == 0 {
		return ErrNullAddress
	}
	base := addr - headerSize
	s.mu.Lock()
	b, ok := s.live[base]
	delete(s.live, base)
	s.mu.Unlock()
	if !ok {
		return errors.Newf("%#x was not allocated here", addr)
	}
	return errors.Wrapf(unix.Munmap(b), "munmap %#x", base)
}
