package x86

import (
	"encoding/binary"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelocateKeepsTarget(t *testing.T) {
	cases := []struct {
		name string
		mode Mode
		code []byte
		want byte
	}{
		{"jmp rel8", Mode64, []byte{0xeb, 0x10}, 0xe9},
		{"jmp rel8 backwards", Mode64, []byte{0xeb, 0xf0}, 0xe9},
		{"jne rel8", Mode64, []byte{0x75, 0x22}, 0x85},
		{"jmp rel32", Mode64, []byte{0xe9, 0x00, 0x10, 0x00, 0x00}, 0xe9},
		{"call rel32", Mode64, []byte{0xe8, 0x00, 0xff, 0xff, 0xff}, 0xe8},
		{"jbe rel32", Mode64, []byte{0x0f, 0x86, 0x40, 0x00, 0x00, 0x00}, 0x86},
		{"jmp rel16", Mode32, []byte{0x66, 0xe9, 0x34, 0x12}, 0xe9},
		{"call rel32 (32)", Mode32, []byte{0xe8, 0x10, 0x00, 0x00, 0x00}, 0xe8},
		{"jl rel8 (32)", Mode32, []byte{0x7c, 0x05}, 0x8c},
	}
	const oldAddr = uintptr(0x401000)
	for _, tc := range cases {
		for _, newAddr := range []uintptr{oldAddr + 0x10000, oldAddr - 0x800} {
			inst, err := Decode(tc.code, tc.mode)
			require.NoError(t, err, tc.name)
			want, err := Target(tc.mode, inst, oldAddr, tc.code)
			require.NoError(t, err)

			dst := make([]byte, 16)
			out, err := Relocate(tc.mode, inst, oldAddr, tc.code, newAddr, dst)
			require.NoError(t, err, tc.name)
			assert.Equal(t, RelocatedLen(inst), out.Len)
			assert.Equal(t, tc.want, out.Opcode, tc.name)
			assert.Equal(t, out.Len-4, out.RelocOffset)
			assert.Equal(t, 4, out.RelocSize)

			redecoded, err := Decode(dst[:out.Len], tc.mode)
			require.NoError(t, err)
			assert.Empty(t, cmp.Diff(out, redecoded), tc.name)

			got, err := Target(tc.mode, redecoded, newAddr, dst)
			require.NoError(t, err)
			assert.Equal(t, want, got, tc.name)
		}
	}
}

func TestRelocateShortConditionalIn32BitMode(t *testing.T) {
	const oldAddr, newAddr = uintptr(0x08049000), uintptr(0x08149000)
	for cc := byte(0); cc < 16; cc++ {
		code := []byte{0x70 | cc, 0x05}
		inst, err := Decode(code, Mode32)
		require.NoError(t, err)
		want, err := Target(Mode32, inst, oldAddr, code)
		require.NoError(t, err)
		assert.Equal(t, oldAddr+7, want)

		dst := make([]byte, 8)
		out, err := Relocate(Mode32, inst, oldAddr, code, newAddr, dst)
		require.NoError(t, err)
		require.Equal(t, NearCondLen, out.Len)
		assert.Equal(t, byte(0x0f), dst[0])
		assert.Equal(t, 0x80|cc, dst[1], "condition %#x", cc)

		redecoded, err := Decode(dst[:6], Mode32)
		require.NoError(t, err)
		assert.Equal(t, 6, redecoded.Len)
		got, err := Target(Mode32, redecoded, newAddr, dst)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.Equal(t, int32(want-(newAddr+6)), int32(binary.LittleEndian.Uint32(dst[2:])))
	}
}

func TestRelocateNearFormLayout(t *testing.T) {
	code := []byte{0xe9, 0x00, 0x00, 0x00, 0x00}
	inst, err := Decode(code, Mode64)
	require.NoError(t, err)

	dst := make([]byte, 5)
	out, err := Relocate(Mode64, inst, 0x1000, code, 0x2000, dst)
	require.NoError(t, err)
	assert.Equal(t, 5, out.Len)
	assert.Equal(t, 1, out.RelocOffset)
	assert.Equal(t, byte(0xe9), dst[0])
	// target 0x1005 seen from 0x2005
	assert.Equal(t, int32(-0x1000), int32(binary.LittleEndian.Uint32(dst[1:])))
}

func TestRelocateOutOfRange(t *testing.T) {
	code := []byte{0xe8, 0, 0, 0, 0}
	inst, err := Decode(code, Mode64)
	require.NoError(t, err)
	_, err = Relocate(Mode64, inst, 0x1000, code, 0x7fff00000000, make([]byte, 8))
	assert.True(t, errors.Is(err, ErrOutOfRange))
}

func TestRelocateWrapsIn32BitMode(t *testing.T) {
	code := []byte{0xe9, 0x00, 0x01, 0x00, 0x00}
	inst, err := Decode(code, Mode32)
	require.NoError(t, err)
	want, err := Target(Mode32, inst, 0x1000, code)
	require.NoError(t, err)

	dst := make([]byte, 8)
	out, err := Relocate(Mode32, inst, 0x1000, code, 0xf0000000, dst)
	require.NoError(t, err)
	got, err := Target(Mode32, out, 0xf0000000, dst)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRelocateRejects(t *testing.T) {
	for _, tc := range []struct {
		name string
		code []byte
		err  error
	}{
		{"jmp [rip+0]", []byte{0xff, 0x25, 0, 0, 0, 0}, ErrIndirectBranch},
		{"call rax", []byte{0xff, 0xd0}, ErrIndirectBranch},
		{"mov eax, 1", []byte{0xb8, 1, 0, 0, 0}, ErrNotBranch},
		{"ret", []byte{0xc3}, ErrNotBranch},
	} {
		inst, err := Decode(tc.code, Mode64)
		require.NoError(t, err, tc.name)
		dst := make([]byte, 16)
		_, err = Relocate(Mode64, inst, 0x1000, tc.code, 0x2000, dst)
		assert.True(t, errors.Is(err, tc.err), tc.name)
		// verbatim copy is still made
		assert.Equal(t, tc.code, dst[:len(tc.code)], tc.name)
	}
}

func TestRelocateRIP(t *testing.T) {
	code := []byte{0x48, 0x8d, 0x05, 0x00, 0x01, 0x00, 0x00} // lea rax, [rip+0x100]
	inst, err := Decode(code, Mode64)
	require.NoError(t, err)
	require.True(t, inst.RIPRelative)

	const oldAddr, newAddr = uintptr(0x400000), uintptr(0x500000)
	dst := make([]byte, len(code))
	_, err = RelocateRIP(inst, oldAddr, code, newAddr, dst)
	require.NoError(t, err)

	disp := int32(binary.LittleEndian.Uint32(dst[inst.DispOffset:]))
	assert.Equal(t, oldAddr+7+0x100, newAddr+7+uintptr(disp))
	assert.Equal(t, code[:3], dst[:3])

	_, err = RelocateRIP(inst, oldAddr, code, 0x7fff00000000, dst)
	assert.True(t, errors.Is(err, ErrOutOfRange))
}

func TestEncodeJumpAndCall(t *testing.T) {
	buf := make([]byte, 5)
	require.NoError(t, EncodeJump(Mode64, buf, 0x1000, 0x2000))
	assert.Equal(t, byte(0xe9), buf[0])
	assert.Equal(t, uint32(0x2000-0x1005), binary.LittleEndian.Uint32(buf[1:]))

	require.NoError(t, EncodeCall(Mode32, buf, 0x2000, 0x1000))
	assert.Equal(t, byte(0xe8), buf[0])
	inst, err := Decode(buf, Mode32)
	require.NoError(t, err)
	target, err := Target(Mode32, inst, 0x2000, buf)
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x1000), target)

	assert.Error(t, EncodeJump(Mode64, buf[:4], 0, 0))
	assert.True(t, errors.Is(EncodeJump(Mode64, buf, 0x1000, 0x7fff00000000), ErrOutOfRange))
}
