package x86

const (
	flagModRM uint16 = 1 << iota
	// low three opcode bits select a register
	flagPlusR
	// ModR/M reg field selects the operation
	flagRegOp
	flagImm8
	flagImm16
	flagImm32
	flagImm64
	flagReloc
	// address-sized immediate (moffs)
	flagMoffs
	// not encodable in 64-bit mode
	flagNo64
)

type opcode struct {
	op     byte
	escape bool
	reg    byte
	flags  uint16
	class  Class
	name   string
}

// opcodes is scanned in order and the first match wins, so a specific form
// must precede a more general form of the same byte.
var opcodes = []opcode{
	{op: 0x04, flags: flagImm8, name: "ADD AL, imm8"},
	{op: 0x05, flags: flagImm32, name: "ADD EAX, imm32"},
	{op: 0x80, reg: 0, flags: flagModRM | flagRegOp | flagImm8, name: "ADD r/m8, imm8"},
	{op: 0x81, reg: 0, flags: flagModRM | flagRegOp | flagImm32, name: "ADD r/m32, imm32"},
	{op: 0x83, reg: 0, flags: flagModRM | flagRegOp | flagImm8, name: "ADD r/m32, imm8"},
	{op: 0x00, flags: flagModRM, name: "ADD r/m8, r8"},
	{op: 0x01, flags: flagModRM, name: "ADD r/m32, r32"},
	{op: 0x02, flags: flagModRM, name: "ADD r8, r/m8"},
	{op: 0x03, flags: flagModRM, name: "ADD r32, r/m32"},

	{op: 0x24, flags: flagImm8, name: "AND AL, imm8"},
	{op: 0x25, flags: flagImm32, name: "AND EAX, imm32"},
	{op: 0x80, reg: 4, flags: flagModRM | flagRegOp | flagImm8, name: "AND r/m8, imm8"},
	{op: 0x81, reg: 4, flags: flagModRM | flagRegOp | flagImm32, name: "AND r/m32, imm32"},
	{op: 0x83, reg: 4, flags: flagModRM | flagRegOp | flagImm8, name: "AND r/m32, imm8"},
	{op: 0x20, flags: flagModRM, name: "AND r/m8, r8"},
	{op: 0x21, flags: flagModRM, name: "AND r/m32, r32"},
	{op: 0x22, flags: flagModRM, name: "AND r8, r/m8"},
	{op: 0x23, flags: flagModRM, name: "AND r32, r/m32"},

	{op: 0xE8, flags: flagImm32 | flagReloc, class: ClassCall, name: "CALL rel32"},
	{op: 0xFF, reg: 2, flags: flagModRM | flagRegOp, class: ClassCall, name: "CALL r/m"},

	{op: 0x3C, flags: flagImm8, name: "CMP AL, imm8"},
	{op: 0x3D, flags: flagImm32, name: "CMP EAX, imm32"},
	{op: 0x80, reg: 7, flags: flagModRM | flagRegOp | flagImm8, name: "CMP r/m8, imm8"},
	{op: 0x81, reg: 7, flags: flagModRM | flagRegOp | flagImm32, name: "CMP r/m32, imm32"},
	{op: 0x83, reg: 7, flags: flagModRM | flagRegOp | flagImm8, name: "CMP r/m32, imm8"},
	{op: 0x38, flags: flagModRM, name: "CMP r/m8, r8"},
	{op: 0x39, flags: flagModRM, name: "CMP r/m32, r32"},
	{op: 0x3A, flags: flagModRM, name: "CMP r8, r/m8"},
	{op: 0x3B, flags: flagModRM, name: "CMP r32, r/m32"},

	{op: 0xFE, reg: 0, flags: flagModRM | flagRegOp, name: "INC r/m8"},
	{op: 0xFE, reg: 1, flags: flagModRM | flagRegOp, name: "DEC r/m8"},
	{op: 0xFF, reg: 0, flags: flagModRM | flagRegOp, name: "INC r/m32"},
	{op: 0xFF, reg: 1, flags: flagModRM | flagRegOp, name: "DEC r/m32"},
	{op: 0x40, flags: flagPlusR | flagNo64, name: "INC r32"},
	{op: 0x48, flags: flagPlusR | flagNo64, name: "DEC r32"},

	{op: 0xC8, flags: flagImm16 | flagImm8, name: "ENTER imm16, imm8"},
	{op: 0xD9, reg: 0, flags: flagModRM | flagRegOp, name: "FLD m32fp"},
	{op: 0xDD, reg: 0, flags: flagModRM | flagRegOp, name: "FLD m64fp"},
	{op: 0xDB, reg: 5, flags: flagModRM | flagRegOp, name: "FLD m80fp"},
	{op: 0xCC, name: "INT3"},

	{op: 0xEB, flags: flagImm8 | flagReloc, class: ClassJump, name: "JMP rel8"},
	{op: 0x70, flags: flagImm8 | flagReloc, class: ClassJump, name: "JO rel8"},
	{op: 0x71, flags: flagImm8 | flagReloc, class: ClassJump, name: "JNO rel8"},
	{op: 0x72, flags: flagImm8 | flagReloc, class: ClassJump, name: "JB rel8"},
	{op: 0x73, flags: flagImm8 | flagReloc, class: ClassJump, name: "JAE rel8"},
	{op: 0x74, flags: flagImm8 | flagReloc, class: ClassJump, name: "JE rel8"},
	{op: 0x75, flags: flagImm8 | flagReloc, class: ClassJump, name: "JNE rel8"},
	{op: 0x76, flags: flagImm8 | flagReloc, class: ClassJump, name: "JBE rel8"},
	{op: 0x77, flags: flagImm8 | flagReloc, class: ClassJump, name: "JA rel8"},
	{op: 0x78, flags: flagImm8 | flagReloc, class: ClassJump, name: "JS rel8"},
	{op: 0x79, flags: flagImm8 | flagReloc, class: ClassJump, name: "JNS rel8"},
	{op: 0x7A, flags: flagImm8 | flagReloc, class: ClassJump, name: "JP rel8"},
	{op: 0x7B, flags: flagImm8 | flagReloc, class: ClassJump, name: "JNP rel8"},
	{op: 0x7C, flags: flagImm8 | flagReloc, class: ClassJump, name: "JL rel8"},
	{op: 0x7D, flags: flagImm8 | flagReloc, class: ClassJump, name: "JGE rel8"},
	{op: 0x7E, flags: flagImm8 | flagReloc, class: ClassJump, name: "JLE rel8"},
	{op: 0x7F, flags: flagImm8 | flagReloc, class: ClassJump, name: "JG rel8"},

	{op: 0xE9, flags: flagImm32 | flagReloc, class: ClassJump, name: "JMP rel32"},
	{op: 0xFF, reg: 4, flags: flagModRM | flagRegOp, class: ClassJump, name: "JMP r/m"},

	{op: 0x8D, flags: flagModRM, name: "LEA r32, m"},
	{op: 0xC9, name: "LEAVE"},

	{op: 0x88, flags: flagModRM, name: "MOV r/m8, r8"},
	{op: 0x89, flags: flagModRM, name: "MOV r/m32, r32"},
	{op: 0x8A, flags: flagModRM, name: "MOV r8, r/m8"},
	{op: 0x8B, flags: flagModRM, name: "MOV r32, r/m32"},
	{op: 0x8C, flags: flagModRM, name: "MOV r/m16, Sreg"},
	{op: 0x8E, flags: flagModRM, name: "MOV Sreg, r/m16"},
	{op: 0xA0, flags: flagMoffs, name: "MOV AL, moffs8"},
	{op: 0xA1, flags: flagMoffs, name: "MOV EAX, moffs32"},
	{op: 0xA2, flags: flagMoffs, name: "MOV moffs8, AL"},
	{op: 0xA3, flags: flagMoffs, name: "MOV moffs32, EAX"},
	{op: 0xB0, flags: flagPlusR | flagImm8, name: "MOV r8, imm8"},
	{op: 0xB8, flags: flagPlusR | flagImm64, name: "MOV r64, imm64"},
	{op: 0xB8, flags: flagPlusR | flagImm32, name: "MOV r32, imm32"},
	{op: 0xC6, reg: 0, flags: flagModRM | flagRegOp | flagImm8, name: "MOV r/m8, imm8"},
	{op: 0xC7, reg: 0, flags: flagModRM | flagRegOp | flagImm32, name: "MOV r/m32, imm32"},
	{op: 0x63, flags: flagModRM, name: "MOVSXD r64, r/m32"},

	{op: 0x90, name: "NOP"},

	{op: 0x0C, flags: flagImm8, name: "OR AL, imm8"},
	{op: 0x0D, flags: flagImm32, name: "OR EAX, imm32"},
	{op: 0x80, reg: 1, flags: flagModRM | flagRegOp | flagImm8, name: "OR r/m8, imm8"},
	{op: 0x81, reg: 1, flags: flagModRM | flagRegOp | flagImm32, name: "OR r/m32, imm32"},
	{op: 0x83, reg: 1, flags: flagModRM | flagRegOp | flagImm8, name: "OR r/m32, imm8"},
	{op: 0x08, flags: flagModRM, name: "OR r/m8, r8"},
	{op: 0x09, flags: flagModRM, name: "OR r/m32, r32"},
	{op: 0x0A, flags: flagModRM, name: "OR r8, r/m8"},
	{op: 0x0B, flags: flagModRM, name: "OR r32, r/m32"},

	{op: 0x8F, reg: 0, flags: flagModRM | flagRegOp, name: "POP r/m"},
	{op: 0x58, flags: flagPlusR, name: "POP r"},
	{op: 0xFF, reg: 6, flags: flagModRM | flagRegOp, name: "PUSH r/m"},
	{op: 0x50, flags: flagPlusR, name: "PUSH r"},
	{op: 0x6A, flags: flagImm8, name: "PUSH imm8"},
	{op: 0x68, flags: flagImm32, name: "PUSH imm32"},
	{op: 0x60, flags: flagNo64, name: "PUSHAD"},
	{op: 0x61, flags: flagNo64, name: "POPAD"},
	{op: 0x9C, name: "PUSHFD"},
	{op: 0x9D, name: "POPFD"},

	{op: 0xC3, class: ClassReturn, name: "RET"},
	{op: 0xC2, flags: flagImm16, class: ClassReturn, name: "RET imm16"},

	{op: 0xC1, reg: 4, flags: flagModRM | flagRegOp | flagImm8, name: "SHL r/m32, imm8"},
	{op: 0xC1, reg: 5, flags: flagModRM | flagRegOp | flagImm8, name: "SHR r/m32, imm8"},
	{op: 0xC1, reg: 7, flags: flagModRM | flagRegOp | flagImm8, name: "SAR r/m32, imm8"},
	{op: 0xD1, reg: 4, flags: flagModRM | flagRegOp, name: "SHL r/m32, 1"},
	{op: 0xD1, reg: 5, flags: flagModRM | flagRegOp, name: "SHR r/m32, 1"},
	{op: 0xD1, reg: 7, flags: flagModRM | flagRegOp, name: "SAR r/m32, 1"},

	{op: 0x2C, flags: flagImm8, name: "SUB AL, imm8"},
	{op: 0x2D, flags: flagImm32, name: "SUB EAX, imm32"},
	{op: 0x80, reg: 5, flags: flagModRM | flagRegOp | flagImm8, name: "SUB r/m8, imm8"},
	{op: 0x81, reg: 5, flags: flagModRM | flagRegOp | flagImm32, name: "SUB r/m32, imm32"},
	{op: 0x83, reg: 5, flags: flagModRM | flagRegOp | flagImm8, name: "SUB r/m32, imm8"},
	{op: 0x28, flags: flagModRM, name: "SUB r/m8, r8"},
	{op: 0x29, flags: flagModRM, name: "SUB r/m32, r32"},
	{op: 0x2A, flags: flagModRM, name: "SUB r8, r/m8"},
	{op: 0x2B, flags: flagModRM, name: "SUB r32, r/m32"},

	{op: 0xA8, flags: flagImm8, name: "TEST AL, imm8"},
	{op: 0xA9, flags: flagImm32, name: "TEST EAX, imm32"},
	{op: 0xF6, reg: 0, flags: flagModRM | flagRegOp | flagImm8, name: "TEST r/m8, imm8"},
	{op: 0xF7, reg: 0, flags: flagModRM | flagRegOp | flagImm32, name: "TEST r/m32, imm32"},
	{op: 0xF7, reg: 2, flags: flagModRM | flagRegOp, name: "NOT r/m32"},
	{op: 0xF7, reg: 3, flags: flagModRM | flagRegOp, name: "NEG r/m32"},
	{op: 0x84, flags: flagModRM, name: "TEST r/m8, r8"},
	{op: 0x85, flags: flagModRM, name: "TEST r/m32, r32"},
	{op: 0x87, flags: flagModRM, name: "XCHG r/m32, r32"},

	{op: 0x34, flags: flagImm8, name: "XOR AL, imm8"},
	{op: 0x35, flags: flagImm32, name: "XOR EAX, imm32"},
	{op: 0x80, reg: 6, flags: flagModRM | flagRegOp | flagImm8, name: "XOR r/m8, imm8"},
	{op: 0x81, reg: 6, flags: flagModRM | flagRegOp | flagImm32, name: "XOR r/m32, imm32"},
	{op: 0x83, reg: 6, flags: flagModRM | flagRegOp | flagImm8, name: "XOR r/m32, imm8"},
	{op: 0x30, flags: flagModRM, name: "XOR r/m8, r8"},
	{op: 0x31, flags: flagModRM, name: "XOR r/m32, r32"},
	{op: 0x32, flags: flagModRM, name: "XOR r8, r/m8"},
	{op: 0x33, flags: flagModRM, name: "XOR r32, r/m32"},

	{op: 0x05, escape: true, name: "SYSCALL"},
	{op: 0x0B, escape: true, name: "UD2"},
	{op: 0x10, escape: true, flags: flagModRM, name: "MOVUPS xmm, xmm/m128"},
	{op: 0x11, escape: true, flags: flagModRM, name: "MOVUPS xmm/m128, xmm"},
	{op: 0x1F, escape: true, reg: 0, flags: flagModRM | flagRegOp, name: "NOP r/m"},
	{op: 0x80, escape: true, flags: flagImm32 | flagReloc, class: ClassJump, name: "JO rel32"},
	{op: 0x81, escape: true, flags: flagImm32 | flagReloc, class: ClassJump, name: "JNO rel32"},
	{op: 0x82, escape: true, flags: flagImm32 | flagReloc, class: ClassJump, name: "JB rel32"},
	{op: 0x83, escape: true, flags: flagImm32 | flagReloc, class: ClassJump, name: "JAE rel32"},
	{op: 0x84, escape: true, flags: flagImm32 | flagReloc, class: ClassJump, name: "JE rel32"},
	{op: 0x85, escape: true, flags: flagImm32 | flagReloc, class: ClassJump, name: "JNE rel32"},
	{op: 0x86, escape: true, flags: flagImm32 | flagReloc, class: ClassJump, name: "JBE rel32"},
	{op: 0x87, escape: true, flags: flagImm32 | flagReloc, class: ClassJump, name: "JA rel32"},
	{op: 0x88, escape: true, flags: flagImm32 | flagReloc, class: ClassJump, name: "JS rel32"},
	{op: 0x89, escape: true, flags: flagImm32 | flagReloc, class: ClassJump, name: "JNS rel32"},
	{op: 0x8A, escape: true, flags: flagImm32 | flagReloc, class: ClassJump, name: "JP rel32"},
	{op: 0x8B, escape: true, flags: flagImm32 | flagReloc, class: ClassJump, name: "JNP rel32"},
	{op: 0x8C, escape: true, flags: flagImm32 | flagReloc, class: ClassJump, name: "JL rel32"},
	{op: 0x8D, escape: true, flags: flagImm32 | flagReloc, class: ClassJump, name: "JGE rel32"},
	{op: 0x8E, escape: true, flags: flagImm32 | flagReloc, class: ClassJump, name: "JLE rel32"},
	{op: 0x8F, escape: true, flags: flagImm32 | flagReloc, class: ClassJump, name: "JG rel32"},
	{op: 0xAF, escape: true, flags: flagModRM, name: "IMUL r32, r/m32"},
	{op: 0xB6, escape: true, flags: flagModRM, name: "MOVZX r32, r/m8"},
	{op: 0xB7, escape: true, flags: flagModRM, name: "MOVZX r32, r/m16"},
	{op: 0xBE, escape: true, flags: flagModRM, name: "MOVSX r32, r/m8"},
	{op: 0xBF, escape: true, flags: flagModRM, name: "MOVSX r32, r/m16"},
}

// legacy prefixes: lock/rep, segment overrides, operand/address size
var prefixes = [...]byte{0xF0, 0xF2, 0xF3, 0x2E, 0x36, 0x3E, 0x26, 0x64, 0x65, 0x66, 0x67}

const (
	prefixOperandSize = 0x66
	prefixAddressSize = 0x67
	escapeByte        = 0x0F
	rexFirst          = 0x40
	rexLast           = 0x4F
	rexW              = 0x08
)

func isPrefix(b byte) bool {
	for _, p := range prefixes {
		if b == p {
			return true
		}
	}
	return false
}
