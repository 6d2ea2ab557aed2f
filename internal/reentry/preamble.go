package reentry

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/k2io/inlinehook/internal/x86"
)

// Symbol names an address the preamble refers to.
type Symbol int

const (
	// SymTarget is the hooked function, used as the reentrancy key.
	SymTarget Symbol = iota
	SymReplacement
	// SymOriginal is the relocated prologue that continues the target.
	SymOriginal
	// SymEnter is a cdecl int(key, ret) that returns zero on first entry.
	SymEnter
	// SymLeave is a cdecl ret(key) that returns the saved continuation.
	SymLeave
	// SymEpilogue resolves to the epilogue inside the preamble itself.
	SymEpilogue
)

// PatchKind is how a symbol is written into the template.
type PatchKind int

const (
	Abs32 PatchKind = iota
	Rel32
)

// Patch is a 4-byte hole in the template.
type Patch struct {
	Offset int
	Kind   PatchKind
	Symbol Symbol
}

// Symbols are the addresses the caller supplies. The epilogue is derived.
type Symbols struct {
	Target      uintptr
	Replacement uintptr
	Original    uintptr
	Enter       uintptr
	Leave       uintptr
}

const epilogueOffset = 45

// template runs on 32-bit x86 with the caller's return address on top of the
// stack. The first entry rewrites that return address to the epilogue so the
// replacement returns through Leave.
var template = [...]byte{
	0x60,                   // pushad
	0x9c,                   // pushfd
	0xff, 0x74, 0x24, 0x24, // push [esp+0x24]
	0x68, 0, 0, 0, 0, // push target
	0xe8, 0, 0, 0, 0, // call enter
	0x83, 0xc4, 0x08, // add esp, 8
	0x85, 0xc0, // test eax, eax
	0x75, 0x0f, // jnz bypass
	0xc7, 0x44, 0x24, 0x24, 0, 0, 0, 0, // mov [esp+0x24], epilogue
	0x9d,             // popfd
	0x61,             // popad
	0xe9, 0, 0, 0, 0, // jmp replacement
	// bypass
	0x9d,             // popfd
	0x61,             // popad
	0xe9, 0, 0, 0, 0, // jmp original
	// epilogue
	0x50,             // push eax
	0x52,             // push edx
	0x68, 0, 0, 0, 0, // push target
	0xe8, 0, 0, 0, 0, // call leave
	0x83, 0xc4, 0x04, // add esp, 4
	0x89, 0xc1, // mov ecx, eax
	0x5a,       // pop edx
	0x58,       // pop eax
	0xff, 0xe1, // jmp ecx
}

// PreambleSize is the number of bytes EmitPreamble writes.
const PreambleSize = len(template)

// Patches lists every hole in the template.
var Patches = []Patch{
	{Offset: 7, Kind: Abs32, Symbol: SymTarget},
	{Offset: 12, Kind: Rel32, Symbol: SymEnter},
	{Offset: 27, Kind: Abs32, Symbol: SymEpilogue},
	{Offset: 34, Kind: Rel32, Symbol: SymReplacement},
	{Offset: 41, Kind: Rel32, Symbol: SymOriginal},
	{Offset: 48, Kind: Abs32, Symbol: SymTarget},
	{Offset: 53, Kind: Rel32, Symbol: SymLeave},
}

func (s Symbols) resolve(sym Symbol, base uintptr) uintptr {
	switch sym {
	case SymTarget:
		return s.Target
	case SymReplacement:
		return s.Replacement
	case SymOriginal:
		return s.Original
	case SymEnter:
		return s.Enter
	case SymLeave:
		return s.Leave
	case SymEpilogue:
		return base + epilogueOffset
	}
	return 0
}

// EmitPreamble writes the reentrancy preamble into buf, which will execute at
// base, and returns the number of bytes written.
func EmitPreamble(buf []byte, base uintptr, syms Symbols) (int, error) {
	if len(buf) < PreambleSize {
		return 0, errors.Newf("preamble needs %d bytes, have %d", PreambleSize, len(buf))
	}
	copy(buf, template[:])
	for _, p := range Patches {
		v := syms.resolve(p.Symbol, base)
		if v == 0 {
			return 0, errors.Newf("symbol %d at offset %d is not set", p.Symbol, p.Offset)
		}
		switch p.Kind {
		case Abs32:
			binary.LittleEndian.PutUint32(buf[p.Offset:], uint32(v))
		case Rel32:
			rel, err := x86.Rel32(x86.Mode32, base+uintptr(p.Offset)+4, v)
			if err != nil {
				return 0, err
			}
			binary.LittleEndian.PutUint32(buf[p.Offset:], uint32(rel))
		}
	}
	return PreambleSize, nil
}
