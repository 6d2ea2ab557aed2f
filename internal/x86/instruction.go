package x86

import (
	"unsafe"

	"github.com/cockroachdb/errors"
)

// MaxInstructionLen is the architectural limit of one x86 instruction.
const MaxInstructionLen = 15

// Mode is the pointer width the code was compiled for.
type Mode int

const (
	Mode32 Mode = 32
	Mode64 Mode = 64
)

// HostMode returns the mode of the running process.
func HostMode() Mode {
	if unsafe.Sizeof(uintptr(0)) == 8 {
		return Mode64
	}
	return Mode32
}

// PtrSize is the size of an address in bytes.
func (m Mode) PtrSize() int {
	if m == Mode64 {
		return 8
	}
	return 4
}

func (m Mode) String() string {
	switch m {
	case Mode32:
		return "x86-32"
	case Mode64:
		return "x86-64"
	}
	return "x86-?"
}

// Class is the control-flow category of an instruction.
type Class uint8

const (
	ClassNormal Class = iota
	ClassJump
	ClassReturn
	ClassCall
)

func (c Class) String() string {
	switch c {
	case ClassJump:
		return "jump"
	case ClassReturn:
		return "return"
	case ClassCall:
		return "call"
	}
	return "normal"
}

var (
	// ErrUnknownOpcode means no table entry matched the opcode bytes
	ErrUnknownOpcode = errors.New("unknown opcode")
	// ErrTruncated means the buffer ended inside the instruction
	ErrTruncated = errors.New("truncated instruction")
	// ErrTooLong means the instruction would exceed 15 bytes
	ErrTooLong = errors.New("instruction longer than 15 bytes")
	// ErrNotBranch means the instruction is not a jump or call
	ErrNotBranch = errors.New("not a jump or call")
	// ErrIndirectBranch means the branch target comes from a ModR/M operand
	ErrIndirectBranch = errors.New("indirect branch cannot be relocated")
	// ErrOutOfRange means the relocated offset does not fit in 32 bits
	ErrOutOfRange = errors.New("relative offset out of 32-bit range")
)

// Instruction describes one decoded instruction. Offsets are relative to the
// first byte of the instruction.
type Instruction struct {
	Len   int
	Class Class

	// Opcode is the last opcode byte; Escape is set for 0x0F two-byte opcodes.
	Opcode byte
	Escape bool

	Reloc       bool
	RelocOffset int
	RelocSize   int

	HasImm    bool
	ImmOffset int
	ImmSize   int

	HasModRM    bool
	ModRMOffset int

	// RIPRelative marks a Mode64 [rip+disp32] operand located at DispOffset.
	RIPRelative bool
	DispOffset  int
}

func (i Instruction) IsJump() bool   { return i.Class == ClassJump }
func (i Instruction) IsCall() bool   { return i.Class == ClassCall }
func (i Instruction) IsReturn() bool { return i.Class == ClassReturn }

// IsConditional reports a Jcc in either its rel8 or rel32 form.
func (i Instruction) IsConditional() bool {
	if i.Class != ClassJump {
		return false
	}
	if i.Escape {
		return i.Opcode&0xF0 == 0x80
	}
	return i.Opcode&0xF0 == 0x70
}

func newInstruction() Instruction {
	return Instruction{
		RelocOffset: -1,
		ImmOffset:   -1,
		ModRMOffset: -1,
		DispOffset:  -1,
	}
}
