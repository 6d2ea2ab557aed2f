package x86

import (
	"github.com/cockroachdb/errors"
)

type decoder struct {
	code  []byte
	limit int
	pos   int
	mode  Mode
	// operand size in bytes: 2, 4 or 8 (8 only via REX.W)
	opsize int
	// address-size override seen
	addr16 bool
}

// Decode determines the length and class of the instruction at the start of
// code. It never reads past len(code) nor past MaxInstructionLen bytes.
func Decode(code []byte, mode Mode) (Instruction, error) {
	if mode != Mode32 && mode != Mode64 {
		return Instruction{}, errors.Newf("unsupported decode mode %d", int(mode))
	}
	d := decoder{code: code, limit: len(code), mode: mode, opsize: 4}
	if d.limit > MaxInstructionLen {
		d.limit = MaxInstructionLen
	}
	inst := newInstruction()

	d.prefixes()
	d.rex()
	o, err := d.matchOpcode()
	if err != nil {
		return Instruction{}, err
	}
	inst.Class = o.class
	inst.Opcode = o.op
	inst.Escape = o.escape
	relocAt := d.pos

	if o.flags&flagModRM != 0 {
		if err := d.modRM(&inst); err != nil {
			return Instruction{}, err
		}
	}
	if n := d.immediateSize(o); n > 0 {
		inst.HasImm = true
		inst.ImmOffset = d.pos
		inst.ImmSize = n
		if err := d.skip(n); err != nil {
			return Instruction{}, err
		}
	}
	if o.flags&flagReloc != 0 {
		inst.Reloc = true
		inst.RelocOffset = relocAt
		inst.RelocSize = inst.ImmSize
	}
	if d.pos <= 0 || d.pos > MaxInstructionLen {
		return Instruction{}, ErrTooLong
	}
	inst.Len = d.pos
	return inst, nil
}

// check reports whether n more bytes are available at off.
func (d *decoder) check(off, n int) error {
	if off+n <= d.limit {
		return nil
	}
	if off+n > MaxInstructionLen {
		return ErrTooLong
	}
	return ErrTruncated
}

func (d *decoder) skip(n int) error {
	if err := d.check(d.pos, n); err != nil {
		return err
	}
	d.pos += n
	return nil
}

func (d *decoder) prefixes() {
	for d.pos < d.limit && isPrefix(d.code[d.pos]) {
		switch d.code[d.pos] {
		case prefixOperandSize:
			d.opsize = 2
		case prefixAddressSize:
			d.addr16 = true
		}
		d.pos++
	}
}

func (d *decoder) rex() {
	if d.mode != Mode64 || d.pos >= d.limit {
		return
	}
	b := d.code[d.pos]
	if b < rexFirst || b > rexLast {
		return
	}
	if b&rexW != 0 {
		d.opsize = 8
	}
	d.pos++
}

func (d *decoder) matchOpcode() (*opcode, error) {
	if err := d.check(d.pos, 1); err != nil {
		return nil, err
	}
	at := d.pos
	escape := d.code[at] == escapeByte
	if escape {
		if err := d.check(d.pos, 2); err != nil {
			return nil, err
		}
		at++
	}
	b := d.code[at]

	var short error
	for i := range opcodes {
		o := &opcodes[i]
		if o.escape != escape {
			continue
		}
		if o.flags&flagNo64 != 0 && d.mode == Mode64 {
			continue
		}
		matched := false
		if b == o.op {
			if o.flags&flagRegOp != 0 {
				if err := d.check(at+1, 1); err != nil {
					short = err
					continue
				}
				matched = (d.code[at+1]>>3)&0x07 == o.reg
			} else {
				matched = true
			}
		}
		if !matched && o.flags&flagPlusR != 0 && b&0xF8 == o.op {
			matched = true
		}
		if !matched {
			continue
		}
		if o.flags&flagImm64 != 0 && (d.mode != Mode64 || d.opsize != 8) {
			continue
		}
		d.pos = at + 1
		return o, nil
	}
	if short != nil {
		return nil, short
	}
	return nil, errors.Wrapf(ErrUnknownOpcode, "opcode %#02x", b)
}

func (d *decoder) modRM(inst *Instruction) error {
	if err := d.check(d.pos, 1); err != nil {
		return err
	}
	inst.HasModRM = true
	inst.ModRMOffset = d.pos
	m := d.code[d.pos]
	d.pos++

	mod := m >> 6
	rm := m & 0x07
	if mod == 3 {
		return nil
	}
	if d.mode == Mode64 && mod == 0 && rm == 5 {
		inst.RIPRelative = true
		inst.DispOffset = d.pos
		return d.skip(4)
	}
	if rm == 4 {
		if err := d.check(d.pos, 1); err != nil {
			return err
		}
		base := d.code[d.pos] & 0x07
		d.pos++
		switch mod {
		case 0:
			if base == 5 {
				return d.skip(4)
			}
		case 1:
			return d.skip(1)
		case 2:
			return d.skip(4)
		}
		return nil
	}
	switch mod {
	case 0:
		if rm == 5 {
			return d.skip(4)
		}
	case 1:
		return d.skip(1)
	case 2:
		return d.skip(4)
	}
	return nil
}

func (d *decoder) immediateSize(o *opcode) int {
	n := 0
	if o.flags&flagImm8 != 0 {
		n++
	}
	if o.flags&flagImm16 != 0 {
		n += 2
	}
	if o.flags&flagImm32 != 0 {
		// 0x66 shrinks imm32 to imm16 only for 32-bit code; 64-bit code keeps 4
		if d.mode == Mode32 && d.opsize == 2 {
			n += 2
		} else {
			n += 4
		}
	}
	if o.flags&flagImm64 != 0 {
		n += 8
	}
	if o.flags&flagMoffs != 0 {
		size := d.mode.PtrSize()
		if d.addr16 {
			size /= 2
		}
		n += size
	}
	return n
}
