package reentry

import (
	"reflect"
)

// nativeSlot is one entry of the table the assembly accessors share. A slot
// is claimed by storing the owning g pointer and is only read or written by
// that goroutine afterwards.
type nativeSlot struct {
	owner uintptr
	key   uintptr
	ret   uintptr
	_     uintptr
}

var nativeSlots [NativeCapacity]nativeSlot

// enterBridge is cdecl int(key, ret): 0 when the calling goroutine entered
// key for the first time, 1 when it already was inside or no slot was free.
func enterBridge(key, ret uintptr)

// leaveBridge is cdecl uintptr(key): the ret saved by enterBridge, or 0.
func leaveBridge(key uintptr)

func getg() uintptr

// NativeAccessors returns the entry points of the assembly accessors the
// reentrancy preamble calls. They cannot call into Go, so they keep their own
// fixed table keyed by goroutine.
func NativeAccessors() (enter, leave uintptr, ok bool) {
	return reflect.ValueOf(enterBridge).Pointer(), reflect.ValueOf(leaveBridge).Pointer(), true
}

// nativeLookup finds the calling goroutine's slot for key.
func nativeLookup(key uintptr) (uintptr, bool) {
	g := getg()
	for i := range nativeSlots {
		s := &nativeSlots[i]
		if s.owner == g && s.key == key {
			return s.ret, true
		}
	}
	return 0, false
}
