// Package memory allocates executable memory and changes page protection for
// the hook installer.
package memory

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

// Protection is an access mode for a range of pages.
type Protection int

const (
	ProtNone Protection = iota
	ProtRead
	ProtReadWrite
	ProtReadExecute
	ProtReadWriteExecute
)

func (p Protection) String() string {
	switch p {
	case ProtRead:
		return "r--"
	case ProtReadWrite:
		return "rw-"
	case ProtReadExecute:
		return "r-x"
	case ProtReadWriteExecute:
		return "rwx"
	}
	return "---"
}

// Provider is the operating system service the installer depends on.
type Provider interface {
	// Allocate returns size bytes of read/write/execute memory, placed
	// within rel32 reach of hint when hint is not zero and such room exists.
	Allocate(hint uintptr, size int) (uintptr, error)
	// Free releases memory returned by Allocate.
	Free(addr uintptr) error
	// Protect changes the protection of every page overlapping
	// [addr, addr+size).
	Protect(addr uintptr, size int, prot Protection) error
}

var (
	// ErrZeroSize means an empty allocation or protection range
	ErrZeroSize = errors.New("zero size")
	// ErrNullAddress means address 0 was passed
	ErrNullAddress = errors.New("null address")
)

// headerSize precedes every allocation and records its mapped length. It
// keeps returned addresses 16-byte aligned.
const headerSize = 16

// nearWindow is how far from its hint an allocation may land.
const nearWindow = 1<<31 - 1<<24

// Bytes views n bytes at addr.
func Bytes(addr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

// Align rounds v up to a multiple of a, which must be a power of two.
func Align[I constraints.Integer](v, a I) I {
	return (v + a - 1) &^ (a - 1)
}

// AlignDown rounds v down to a multiple of a, which must be a power of two.
func AlignDown[I constraints.Integer](v, a I) I {
	return v &^ (a - 1)
}

// PageRange returns the page aligned range covering [addr, addr+size).
func PageRange(addr uintptr, size int, page uintptr) (start, length uintptr) {
	start = AlignDown(addr, page)
	end := Align(addr+uintptr(size), page)
	return start, end - start
}

// Near reports whether a and b are close enough for a rel32 branch between
// them.
func Near(a, b uintptr) bool {
	if a > b {
		a, b = b, a
	}
	return b-a < nearWindow
}

// probe offers try aligned addresses at growing distance above and below hint
// until try accepts one.
func probe(hint, granularity uintptr, try func(at uintptr) bool) bool {
	base := AlignDown(hint, granularity)
	for dist := granularity; dist < nearWindow; dist *= 2 {
		if up := base + dist; up > base && try(up) {
			return true
		}
		if base > dist && try(base-dist) {
			return true
		}
	}
	return false
}

func checkRange(addr uintptr, size int) error {
	if addr == 0 {
		return ErrNullAddress
	}
	if size <= 0 {
		return ErrZeroSize
	}
	return nil
}
