package inlinehook

import (
	"github.com/cockroachdb/errors"

	"github.com/k2io/inlinehook/internal/memory"
	"github.com/k2io/inlinehook/internal/x86"
)

const (
	// prologueWindow is how far into the target the stack check is searched for.
	prologueWindow = 32
	// tailWindow bounds the stack-growth tail: register spills, the runtime
	// call, reloads and the jump back to the entry.
	tailWindow          = 128
	tailMaxInstructions = 40
	// growthSteal makes room for a second jump behind the patch jump.
	growthSteal = 2 * x86.NearBranchLen
)

// loopback is the jump that ends a stack-growth tail and restarts the
// function at its entry, as in
//
//	entry: CMP RSP, 16(R14); JBE tail; ...
//	tail:  CALL runtime.morestack; JMP entry
//
// Once the entry is patched the tail is reachable only from the relocated
// stack check in the trampoline, so the jump is sent to a second jump at
// entry+5 that leads back into the trampoline.
type loopback struct {
	addr uintptr
	size int
	orig [x86.NearBranchLen]byte
}

func (l loopback) present() bool { return l.size != 0 }

// findLoopback follows the forward conditional branches of target's first
// instructions and reports a tail that jumps back to target.
func (e *Engine) findLoopback(target uintptr) (loopback, bool) {
	window := memory.Bytes(target, prologueWindow)
	for off := 0; off < prologueWindow; {
		inst, err := x86.Decode(window[off:], e.mode)
		if err != nil || inst.IsReturn() {
			return loopback{}, false
		}
		if inst.IsJump() && !inst.IsConditional() {
			return loopback{}, false
		}
		if inst.IsConditional() && inst.Reloc {
			dest, err := x86.Target(e.mode, inst, target+uintptr(off), window[off:])
			if err == nil && dest > target+uintptr(off) {
				if l, ok := e.tailLoopback(dest, target); ok {
					return l, true
				}
			}
		}
		off += inst.Len
	}
	return loopback{}, false
}

// tailLoopback decodes the code at tail up to its first unconditional jump
// and reports that jump if it is a plain JMP rel8 or rel32 to entry.
func (e *Engine) tailLoopback(tail, entry uintptr) (loopback, bool) {
	window := memory.Bytes(tail, tailWindow)
	off := 0
	for i := 0; i < tailMaxInstructions && off < tailWindow-x86.MaxInstructionLen; i++ {
		inst, err := x86.Decode(window[off:], e.mode)
		if err != nil || inst.IsReturn() {
			return loopback{}, false
		}
		if inst.IsJump() && !inst.IsConditional() {
			short := inst.Len == 2 && inst.Opcode == 0xeb
			near := inst.Len == x86.NearBranchLen && inst.Opcode == 0xe9
			if !inst.Reloc || !(short || near) {
				return loopback{}, false
			}
			at := tail + uintptr(off)
			dest, err := x86.Target(e.mode, inst, at, window[off:])
			if err != nil || dest != entry {
				return loopback{}, false
			}
			l := loopback{addr: at, size: inst.Len}
			copy(l.orig[:], window[off:off+inst.Len])
			return l, true
		}
		off += inst.Len
	}
	return loopback{}, false
}

// redirect encodes the loopback jump retargeted to dest, keeping its size.
func (e *Engine) redirect(l loopback, dest uintptr) ([x86.NearBranchLen]byte, error) {
	var b [x86.NearBranchLen]byte
	if l.size == x86.NearBranchLen {
		err := x86.EncodeJump(e.mode, b[:], l.addr, dest)
		return b, err
	}
	rel := int64(dest) - int64(l.addr+2)
	if e.mode == x86.Mode32 {
		rel = int64(int32(uint32(dest) - uint32(l.addr+2)))
	}
	if rel < -128 || rel > 127 {
		return b, errors.Wrapf(x86.ErrOutOfRange, "short jump at %#x to %#x", l.addr, dest)
	}
	b[0], b[1] = 0xeb, byte(int8(rel))
	return b, nil
}
