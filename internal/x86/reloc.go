package x86

import (
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"
)

const (
	// NearBranchLen is the size of E8/E9 rel32.
	NearBranchLen = 5
	// NearCondLen is the size of 0F 8x rel32.
	NearCondLen = 6

	opCallRel32 = 0xE8
	opJmpRel32  = 0xE9
)

// RelocatedLen returns how many bytes inst occupies after Relocate.
func RelocatedLen(inst Instruction) int {
	switch {
	case !inst.Reloc:
		return inst.Len
	case inst.IsConditional():
		return NearCondLen
	case inst.IsJump(), inst.IsCall():
		return NearBranchLen
	}
	return inst.Len
}

// Target returns the absolute address a relative branch at addr refers to.
func Target(mode Mode, inst Instruction, addr uintptr, code []byte) (uintptr, error) {
	if !inst.HasImm {
		return 0, ErrIndirectBranch
	}
	if len(code) < inst.ImmOffset+inst.ImmSize {
		return 0, ErrTruncated
	}
	imm := code[inst.ImmOffset : inst.ImmOffset+inst.ImmSize]
	next := addr + uintptr(inst.Len)
	var target uintptr
	switch inst.ImmSize {
	case 1:
		target = next + uintptr(int8(imm[0]))
	case 2:
		target = next + uintptr(int16(binary.LittleEndian.Uint16(imm)))
	case 4:
		target = next + uintptr(int32(binary.LittleEndian.Uint32(imm)))
	case 8:
		// absolute, not relative
		target = uintptr(binary.LittleEndian.Uint64(imm))
	default:
		return 0, errors.Newf("unexpected branch operand size %d", inst.ImmSize)
	}
	if mode == Mode32 {
		target = uintptr(uint32(target))
	}
	return target, nil
}

// Rel32 computes the displacement from the end of an instruction at end to
// target. In 32-bit mode the result wraps, in 64-bit mode it must fit.
func Rel32(mode Mode, end, target uintptr) (int32, error) {
	if mode == Mode32 {
		return int32(uint32(target) - uint32(end)), nil
	}
	diff := int64(target) - int64(end)
	if diff < math.MinInt32 || diff > math.MaxInt32 {
		return 0, errors.Wrapf(ErrOutOfRange, "from %#x to %#x", end, target)
	}
	return int32(diff), nil
}

// Relocate rewrites the jump or call inst, found at oldAddr as src, so that it
// reaches the same target when placed at newAddr. The rewritten bytes go into
// dst, which must hold at least RelocatedLen(inst) bytes.
func Relocate(mode Mode, inst Instruction, oldAddr uintptr, src []byte, newAddr uintptr, dst []byte) (Instruction, error) {
	copy(dst, src[:inst.Len])
	if !inst.IsJump() && !inst.IsCall() {
		return inst, ErrNotBranch
	}
	if !inst.HasImm || !inst.Reloc {
		return inst, ErrIndirectBranch
	}
	target, err := Target(mode, inst, oldAddr, src)
	if err != nil {
		return inst, err
	}

	out := newInstruction()
	out.Class = inst.Class
	out.Reloc = true
	out.HasImm = true
	out.RelocSize = 4
	out.ImmSize = 4
	if inst.IsConditional() {
		out.Len = NearCondLen
		out.Escape = true
		out.Opcode = 0x80 | inst.Opcode&0x0F
	} else {
		out.Len = NearBranchLen
		out.Opcode = opJmpRel32
		if inst.IsCall() {
			out.Opcode = opCallRel32
		}
	}
	if len(dst) < out.Len {
		return inst, errors.Newf("relocation buffer too small: %d < %d", len(dst), out.Len)
	}
	out.RelocOffset = out.Len - 4
	out.ImmOffset = out.RelocOffset

	rel, err := Rel32(mode, newAddr+uintptr(out.Len), target)
	if err != nil {
		return inst, err
	}
	if out.Escape {
		dst[0] = escapeByte
	}
	dst[out.Len-5] = out.Opcode
	binary.LittleEndian.PutUint32(dst[out.RelocOffset:], uint32(rel))
	return out, nil
}

// RelocateRIP copies inst to dst and rewrites its [rip+disp32] operand so it
// addresses the same memory from newAddr.
func RelocateRIP(inst Instruction, oldAddr uintptr, src []byte, newAddr uintptr, dst []byte) (Instruction, error) {
	copy(dst, src[:inst.Len])
	if !inst.RIPRelative {
		return inst, nil
	}
	disp := int32(binary.LittleEndian.Uint32(src[inst.DispOffset:]))
	target := oldAddr + uintptr(inst.Len) + uintptr(disp)
	rel, err := Rel32(Mode64, newAddr+uintptr(inst.Len), target)
	if err != nil {
		return inst, err
	}
	binary.LittleEndian.PutUint32(dst[inst.DispOffset:], uint32(rel))
	return inst, nil
}
