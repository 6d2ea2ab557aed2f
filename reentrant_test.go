package inlinehook

import (
	"encoding/binary"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k2io/inlinehook/internal/memory"
	"github.com/k2io/inlinehook/internal/reentry"
	"github.com/k2io/inlinehook/internal/x86"
)

func TestInstallReentrant(t *testing.T) {
	e, _ := newTestEngine(t, WithMode(x86.Mode32))
	fn := newCode(0x55, 0x89, 0xe5, 0x83, 0xec, 0x08)
	repl := newCode(0xc3)
	acc := Accessors{Enter: 0x08050000, Leave: 0x08050040}
	before := fn.snapshot()

	require.NoError(t, e.InstallReentrant(fn.addr(), repl.addr(), acc))
	h, ok := e.Lookup(fn.addr())
	require.True(t, ok)
	assert.True(t, h.Reentrant)
	// relocated prologue, jump back, backup
	assert.Equal(t, h.Trampoline+6+x86.NearBranchLen+6, h.Entry)

	pre := memory.Bytes(h.Entry, reentry.PreambleSize)
	assert.Equal(t, []byte{0x60, 0x9c}, pre[:2])
	assert.Equal(t, uint32(fn.addr()), binary.LittleEndian.Uint32(pre[7:]))
	assert.Equal(t, uintptr(uint32(acc.Enter)), branchTarget(t, x86.Mode32, pre[11:], h.Entry+11))
	assert.Equal(t, uintptr(uint32(repl.addr())), branchTarget(t, x86.Mode32, pre[33:], h.Entry+33))
	assert.Equal(t, uintptr(uint32(h.Trampoline)), branchTarget(t, x86.Mode32, pre[40:], h.Entry+40))
	assert.Equal(t, uintptr(uint32(acc.Leave)), branchTarget(t, x86.Mode32, pre[52:], h.Entry+52))

	assert.Equal(t, uintptr(uint32(h.Entry)), branchTarget(t, x86.Mode32, fn.buf, fn.addr()))
	assert.Equal(t, h.Trampoline, e.FindOriginal(fn.addr()))

	require.NoError(t, e.Remove(fn.addr()))
	assert.Equal(t, before, fn.buf)
}

func TestInstallReentrantRejects(t *testing.T) {
	e64, _ := newTestEngine(t)
	fn := newCode(0xb8, 1, 0, 0, 0)
	repl := newCode(0xc3)
	acc := Accessors{Enter: 0x1000, Leave: 0x2000}

	err := e64.InstallReentrant(fn.addr(), repl.addr(), acc)
	assert.True(t, errors.Is(err, ErrUnsupportedMode))

	e32, mem := newTestEngine(t, WithMode(x86.Mode32))
	err = e32.InstallReentrant(fn.addr(), repl.addr(), Accessors{Enter: 0x1000})
	assert.True(t, errors.Is(err, ErrNullAddress))
	assert.Zero(t, mem.liveCount())
}

func TestInstallReentrantDefaultAccessors(t *testing.T) {
	e, mem := newTestEngine(t, WithMode(x86.Mode32))
	fn := newCode(0x55, 0x89, 0xe5, 0x83, 0xec, 0x08)
	repl := newCode(0xc3)
	before := fn.snapshot()

	enter, leave, ok := reentry.NativeAccessors()
	err := e.InstallReentrant(fn.addr(), repl.addr(), Accessors{})
	if !ok {
		assert.True(t, errors.Is(err, ErrUnsupportedMode), "%v", err)
		assert.Equal(t, before, fn.buf)
		assert.Zero(t, mem.liveCount())
		return
	}
	require.NoError(t, err)
	h, _ := e.Lookup(fn.addr())
	pre := memory.Bytes(h.Entry, reentry.PreambleSize)
	assert.Equal(t, uintptr(uint32(enter)), branchTarget(t, x86.Mode32, pre[11:], h.Entry+11))
	assert.Equal(t, uintptr(uint32(leave)), branchTarget(t, x86.Mode32, pre[52:], h.Entry+52))
	require.NoError(t, e.Remove(fn.addr()))
}

func TestEnterLeaveHook(t *testing.T) {
	e, _ := newTestEngine(t)
	first, err := e.EnterHook(0x4000, 0x1234)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := e.EnterHook(0x4000, 0x5678)
	require.NoError(t, err)
	assert.False(t, again)

	ret, ok := e.LeaveHook(0x4000)
	assert.True(t, ok)
	assert.Equal(t, uintptr(0x1234), ret)

	_, ok = e.LeaveHook(0x4000)
	assert.False(t, ok)
}
