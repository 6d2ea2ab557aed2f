package inlinehook

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k2io/inlinehook/internal/memory"
	"github.com/k2io/inlinehook/internal/x86"
)

// goPrologue lays out a small-frame Go function: the stack check, a frame
// setup and, at offset 16, a morestack tail ending in JMP rel8 to the entry.
func goPrologue() *code {
	fn := newCode(
		0x49, 0x3b, 0x66, 0x10, // cmp rsp, [r14+16]
		0x76, 0x0a, // jbe 16
		0x48, 0x83, 0xec, 0x18, // sub rsp, 0x18
	)
	copy(fn.buf[16:], []byte{
		0xe8, 0x00, 0x00, 0x00, 0x00, // call morestack
		0xeb, 0xe9, // jmp entry
		0xcc, 0xcc,
	})
	return fn
}

func TestInstallRedirectsShortGrowthJump(t *testing.T) {
	e, mem := newTestEngine(t)
	fn := goPrologue()
	repl := newCode(0xc3)
	before := fn.snapshot()

	require.NoError(t, e.Install(fn.addr(), repl.addr()))
	h, ok := e.Lookup(fn.addr())
	require.True(t, ok)
	assert.Equal(t, fn.addr()+21, h.GrowthJump)
	assert.Equal(t, 3, h.Instructions)
	assert.Equal(t, before[:10], h.Backup)

	assert.Equal(t, repl.addr(), branchTarget(t, x86.Mode64, fn.buf, fn.addr()))
	assert.Equal(t, h.Trampoline, branchTarget(t, x86.Mode64, fn.buf[5:], fn.addr()+5))
	assert.Equal(t, byte(0xeb), fn.buf[21])
	assert.Equal(t, fn.addr()+5, branchTarget(t, x86.Mode64, fn.buf[21:], fn.addr()+21))
	assert.Equal(t, before[16:21], fn.buf[16:21])
	assert.Equal(t, before[23:], fn.buf[23:])

	// cmp, jbe widened to rel32 and still aimed at the tail, sub, jump back.
	tramp := memory.Bytes(h.Trampoline, 4+x86.NearCondLen+4+x86.NearBranchLen)
	assert.Equal(t, before[:4], tramp[:4])
	assert.Equal(t, []byte{0x0f, 0x86}, tramp[4:6])
	assert.Equal(t, fn.addr()+16, branchTarget(t, x86.Mode64, tramp[4:], h.Trampoline+4))
	assert.Equal(t, before[6:10], tramp[10:14])
	assert.Equal(t, fn.addr()+10, branchTarget(t, x86.Mode64, tramp[14:], h.Trampoline+14))

	assert.Equal(t, []protectCall{
		{addr: fn.addr(), size: 10, prot: memory.ProtReadWriteExecute},
		{addr: fn.addr() + 21, size: 2, prot: memory.ProtReadWriteExecute},
		{addr: fn.addr() + 21, size: 2, prot: memory.ProtReadExecute},
		{addr: fn.addr(), size: 10, prot: memory.ProtReadExecute},
	}, mem.protects)

	require.NoError(t, e.Remove(fn.addr()))
	assert.Equal(t, before, fn.buf)
	assert.Zero(t, mem.liveCount())
}

func TestInstallRedirectsNearGrowthJump(t *testing.T) {
	e, _ := newTestEngine(t)
	fn := newCode(
		0x49, 0x89, 0xe4, // mov r12, rsp
		0x49, 0x81, 0xec, 0x98, 0x7f, 0x00, 0x00, // sub r12, 0x7f98
		0x72, 0x34, // jb 64
		0x4d, 0x3b, 0x66, 0x10, // cmp r12, [r14+16]
		0x76, 0x2e, // jbe 64
	)
	copy(fn.buf[64:], []byte{
		0x48, 0x89, 0x44, 0x24, 0x08, // mov [rsp+8], rax
		0xe8, 0x00, 0x00, 0x00, 0x00, // call morestack
		0x48, 0x8b, 0x44, 0x24, 0x08, // mov rax, [rsp+8]
		0xe9, 0xac, 0xff, 0xff, 0xff, // jmp entry
	})
	repl := newCode(0xc3)
	before := fn.snapshot()

	require.NoError(t, e.Install(fn.addr(), repl.addr()))
	h, ok := e.Lookup(fn.addr())
	require.True(t, ok)
	assert.Equal(t, fn.addr()+79, h.GrowthJump)
	assert.Equal(t, before[:10], h.Backup)
	assert.Equal(t, fn.addr()+5, branchTarget(t, x86.Mode64, fn.buf[79:], fn.addr()+79))
	assert.Equal(t, h.Trampoline, branchTarget(t, x86.Mode64, fn.buf[5:], fn.addr()+5))
	assert.Equal(t, fn.addr()+10, branchTarget(t, x86.Mode64, memory.Bytes(h.Trampoline+10, 5), h.Trampoline+10))
	assert.Equal(t, before[10:79], fn.buf[10:79])

	require.NoError(t, e.Remove(fn.addr()))
	assert.Equal(t, before, fn.buf)
}

func TestInstallIgnoresTailNotReturningToEntry(t *testing.T) {
	e, mem := newTestEngine(t)
	fn := goPrologue()
	fn.buf[22] = 0xec // jmp entry+3
	before := fn.snapshot()

	require.NoError(t, e.Install(fn.addr(), newCode(0xc3).addr()))
	h, _ := e.Lookup(fn.addr())
	assert.Zero(t, h.GrowthJump)
	assert.Len(t, h.Backup, 6)
	assert.Equal(t, before[5:], fn.buf[5:])
	assert.Len(t, mem.protects, 2)
}

func TestInstallGrowthJumpProtectFailure(t *testing.T) {
	e, mem := newTestEngine(t)
	fn := goPrologue()
	before := fn.snapshot()
	mem.protectErr = func(call protectCall) error {
		if call.addr != fn.addr() && call.prot == memory.ProtReadWriteExecute {
			return errors.New("denied")
		}
		return nil
	}

	err := e.Install(fn.addr(), newCode(0xc3).addr())
	assert.True(t, errors.Is(err, ErrMemory), "%v", err)
	assert.Equal(t, before, fn.buf)
	assert.Zero(t, e.Len())
	assert.Zero(t, mem.liveCount())
}

func TestRemoveRestoresGrowthJumpFirst(t *testing.T) {
	e, mem := newTestEngine(t)
	fn := goPrologue()
	before := fn.snapshot()
	require.NoError(t, e.Install(fn.addr(), newCode(0xc3).addr()))

	mem.protects = nil
	mem.protectErr = func(call protectCall) error {
		if call.addr == fn.addr()+21 && call.prot == memory.ProtReadWriteExecute {
			return errors.New("denied")
		}
		return nil
	}
	err := e.Remove(fn.addr())
	assert.True(t, errors.Is(err, ErrMemory), "%v", err)
	assert.Equal(t, 1, e.Len())
	assert.NotEqual(t, before, fn.buf)

	mem.protectErr = nil
	require.NoError(t, e.Remove(fn.addr()))
	assert.Equal(t, before, fn.buf)
}
