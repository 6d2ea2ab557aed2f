package inlinehook

import (
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/k2io/inlinehook/internal/memory"
)

type protectCall struct {
	addr uintptr
	size int
	prot memory.Protection
}

// fakeMemory hands out Go heap buffers. The Go heap does not move objects,
// and buffers stay referenced until freed.
type fakeMemory struct {
	mu       sync.Mutex
	live     map[uintptr][]byte
	freed    []uintptr
	protects []protectCall

	allocErr   error
	freeErr    error
	protectErr func(call protectCall) error
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{live: make(map[uintptr][]byte)}
}

func (m *fakeMemory) Allocate(_ uintptr, size int) (uintptr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.allocErr != nil {
		return 0, m.allocErr
	}
	b := make([]byte, size)
	addr := uintptr(unsafe.Pointer(&b[0]))
	m.live[addr] = b
	return addr, nil
}

func (m *fakeMemory) Free(addr uintptr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live[addr]; !ok {
		return errors.Newf("%#x not allocated", addr)
	}
	delete(m.live, addr)
	m.freed = append(m.freed, addr)
	return m.freeErr
}

func (m *fakeMemory) Protect(addr uintptr, size int, prot memory.Protection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := protectCall{addr: addr, size: size, prot: prot}
	m.protects = append(m.protects, call)
	if m.protectErr != nil {
		return m.protectErr(call)
	}
	return nil
}

func (m *fakeMemory) liveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// code is a fake function body. Callers keep it referenced.
type code struct {
	buf []byte
}

func newCode(prologue ...byte) *code {
	c := &code{buf: make([]byte, 256)}
	for i := range c.buf {
		c.buf[i] = 0x90
	}
	copy(c.buf, prologue)
	return c
}

func (c *code) addr() uintptr {
	return uintptr(unsafe.Pointer(&c.buf[0]))
}

func (c *code) snapshot() []byte {
	return append([]byte(nil), c.buf...)
}
