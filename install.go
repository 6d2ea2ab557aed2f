package inlinehook

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/k2io/inlinehook/internal/memory"
	"github.com/k2io/inlinehook/internal/reentry"
	"github.com/k2io/inlinehook/internal/x86"
)

// stolenCode is the prologue that the patch jump overwrites.
type stolenCode struct {
	code      []byte
	insts     []x86.Instruction
	relocated int
}

func checkPair(target, replacement uintptr) error {
	if target == 0 || replacement == 0 {
		return errors.Wrapf(ErrNullAddress, "target %#x replacement %#x", target, replacement)
	}
	if target == replacement {
		return errors.Wrapf(ErrSameAddress, "%#x", target)
	}
	return nil
}

// Install patches target to jump to replacement. On failure the target's
// code is left byte-for-byte unchanged.
func (e *Engine) Install(target, replacement uintptr) error {
	return e.install(target, replacement, nil)
}

func (e *Engine) install(target, replacement uintptr, acc *Accessors) (err error) {
	defer func() { e.metrics.observeInstall(err) }()
	if err := checkPair(target, replacement); err != nil {
		return err
	}
	log := e.log().With(zap.Uintptr("target", target), zap.Uintptr("replacement", replacement))

	e.lock.Lock()
	defer e.lock.Unlock()

	if e.hooks.Full() {
		return errors.Wrapf(ErrCapacityExceeded, "%d hooks installed", e.hooks.Len())
	}
	if _, ok := e.hooks.Find(target); ok {
		return errors.Wrapf(ErrDoubleHook, "%#x", target)
	}

	loop, hasLoop := e.findLoopback(target)
	need := x86.NearBranchLen
	if hasLoop {
		need = growthSteal
	}
	s, err := e.steal(target, need)
	if err != nil {
		return err
	}
	if hasLoop && loop.addr < target+uintptr(len(s.code)) {
		hasLoop = false
	}
	for i, inst := range s.insts {
		log.Debug("stolen instruction",
			zap.Int("index", i), zap.Int("len", inst.Len), zap.Stringer("class", inst.Class))
	}

	size := s.relocated + x86.NearBranchLen + len(s.code)
	if acc != nil {
		size += reentry.PreambleSize
	}
	tramp, err := e.mem.Allocate(target, size)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "allocate trampoline"), ErrMemory)
	}
	defer func() {
		if err == nil {
			return
		}
		if ferr := e.mem.Free(tramp); ferr != nil {
			log.Warn("release trampoline", zap.Uintptr("trampoline", tramp), zap.Error(ferr))
		}
	}()
	log.Debug("trampoline allocated", zap.Uintptr("trampoline", tramp), zap.Int("size", size))

	buf := memory.Bytes(tramp, size)
	if err := e.relocate(target, tramp, s, buf); err != nil {
		return err
	}
	back := target + uintptr(len(s.code))
	if err := x86.EncodeJump(e.mode, buf[s.relocated:], tramp+uintptr(s.relocated), back); err != nil {
		return errors.Mark(errors.Wrap(err, "jump back to target"), ErrRelocation)
	}
	backupOff := s.relocated + x86.NearBranchLen
	copy(buf[backupOff:], s.code)

	rec := record{
		trampoline: tramp,
		allocSize:  size,
		backup:     tramp + uintptr(backupOff),
		stolen:     len(s.code),
		count:      len(s.insts),
		entry:      replacement,
	}
	var loopPatch [x86.NearBranchLen]byte
	if hasLoop {
		rec.loop = loop
		if loopPatch, err = e.redirect(loop, target+x86.NearBranchLen); err != nil {
			return errors.Mark(errors.Wrap(err, "stack growth jump"), ErrRelocation)
		}
		log.Debug("stack growth tail redirected", zap.Uintptr("jump", loop.addr), zap.Int("len", loop.size))
	}
	if acc != nil {
		off := backupOff + len(s.code)
		rec.entry = tramp + uintptr(off)
		rec.reentrant = true
		syms := reentry.Symbols{
			Target:      target,
			Replacement: replacement,
			Original:    tramp,
			Enter:       acc.Enter,
			Leave:       acc.Leave,
		}
		if _, err := reentry.EmitPreamble(buf[off:], rec.entry, syms); err != nil {
			return errors.Mark(errors.Wrap(err, "reentrancy preamble"), ErrRelocation)
		}
	}

	var patch [growthSteal]byte
	if err := x86.EncodeJump(e.mode, patch[:], target, rec.entry); err != nil {
		return errors.Mark(errors.Wrap(err, "jump to replacement"), ErrRelocation)
	}
	if hasLoop {
		second := target + x86.NearBranchLen
		if err := x86.EncodeJump(e.mode, patch[x86.NearBranchLen:], second, tramp); err != nil {
			return errors.Mark(errors.Wrap(err, "jump to trampoline"), ErrRelocation)
		}
	}
	if err := e.hooks.Insert(target, rec); err != nil {
		return errors.Mark(err, ErrCapacityExceeded)
	}
	if err := e.mem.Protect(target, rec.stolen, memory.ProtReadWriteExecute); err != nil {
		e.hooks.Remove(target)
		return errors.Mark(errors.Wrap(err, "unprotect hook site"), ErrMemory)
	}
	if hasLoop {
		if err := e.mem.Protect(loop.addr, loop.size, memory.ProtReadWriteExecute); err != nil {
			e.reprotect(log, target, rec.stolen)
			e.hooks.Remove(target)
			return errors.Mark(errors.Wrap(err, "unprotect stack growth jump"), ErrMemory)
		}
		copy(memory.Bytes(target+x86.NearBranchLen, x86.NearBranchLen), patch[x86.NearBranchLen:])
		copy(memory.Bytes(loop.addr, loop.size), loopPatch[:loop.size])
		e.reprotect(log, loop.addr, loop.size)
	}
	copy(memory.Bytes(target, x86.NearBranchLen), patch[:x86.NearBranchLen])
	e.reprotect(log, target, rec.stolen)

	log.Debug("hook installed", zap.Uintptr("trampoline", tramp), zap.Int("stolen", rec.stolen))
	return nil
}

// steal decodes whole instructions from target until at least need bytes are
// covered.
func (e *Engine) steal(target uintptr, need int) (stolenCode, error) {
	window := memory.Bytes(target, need-1+x86.MaxInstructionLen)
	var s stolenCode
	n := 0
	for n < need {
		inst, err := x86.Decode(window[n:], e.mode)
		if err != nil {
			return s, errors.Mark(errors.Wrapf(err, "decode %#x+%d", target, n), ErrDecode)
		}
		s.insts = append(s.insts, inst)
		s.relocated += x86.RelocatedLen(inst)
		n += inst.Len
		if n < need && inst.IsReturn() {
			err := errors.Wrapf(ErrReturnInPrologue, "%#x+%d", target, n-inst.Len)
			return s, errors.Mark(err, ErrDecode)
		}
	}
	s.code = append([]byte(nil), window[:n]...)
	return s, nil
}

// relocate writes the stolen instructions into buf, which lives at tramp.
func (e *Engine) relocate(target, tramp uintptr, s stolenCode, buf []byte) error {
	var in, out int
	for _, inst := range s.insts {
		src := s.code[in : in+inst.Len]
		from, to := target+uintptr(in), tramp+uintptr(out)
		switch {
		case inst.IsJump(), inst.IsCall():
			if err := e.checkBranch(inst, from, src, target, len(s.code)); err != nil {
				return err
			}
			if _, err := x86.Relocate(e.mode, inst, from, src, to, buf[out:]); err != nil {
				return errors.Mark(errors.Wrapf(err, "branch at %#x+%d", target, in), ErrRelocation)
			}
		case inst.RIPRelative:
			if _, err := x86.RelocateRIP(inst, from, src, to, buf[out:]); err != nil {
				return errors.Mark(errors.Wrapf(err, "rip operand at %#x+%d", target, in), ErrRelocation)
			}
		default:
			copy(buf[out:], src)
		}
		in += inst.Len
		out += x86.RelocatedLen(inst)
	}
	return nil
}

// checkBranch rejects a relative branch into the bytes the patch overwrites.
func (e *Engine) checkBranch(inst x86.Instruction, from uintptr, src []byte, target uintptr, stolen int) error {
	if !inst.Reloc {
		return nil
	}
	dest, err := x86.Target(e.mode, inst, from, src)
	if err != nil {
		return errors.Mark(err, ErrRelocation)
	}
	d := dest - target
	if e.mode == x86.Mode32 {
		d = uintptr(uint32(d))
	}
	if d < uintptr(stolen) {
		return errors.Mark(errors.Newf("branch at %#x targets stolen byte %d", from, d), ErrRelocation)
	}
	return nil
}

func (e *Engine) reprotect(log *zap.Logger, addr uintptr, size int) {
	if err := e.mem.Protect(addr, size, memory.ProtReadExecute); err != nil {
		log.Warn("restore page protection", zap.Uintptr("addr", addr), zap.Error(err))
	}
}

// Remove restores target's original bytes and releases its trampoline.
func (e *Engine) Remove(target uintptr) (err error) {
	removed := false
	defer func() { e.metrics.observeRemove(err, removed) }()
	log := e.log().With(zap.Uintptr("target", target))

	e.lock.Lock()
	defer e.lock.Unlock()

	rec, ok := e.hooks.Find(target)
	if !ok {
		return errors.Wrapf(ErrHookNotFound, "%#x", target)
	}
	if err := e.mem.Protect(target, rec.stolen, memory.ProtReadWriteExecute); err != nil {
		return errors.Mark(errors.Wrap(err, "unprotect hook site"), ErrMemory)
	}
	if l := rec.loop; l.present() {
		if err := e.mem.Protect(l.addr, l.size, memory.ProtReadWriteExecute); err != nil {
			e.reprotect(log, target, rec.stolen)
			return errors.Mark(errors.Wrap(err, "unprotect stack growth jump"), ErrMemory)
		}
		// The tail must stop using entry+5 before the entry bytes return.
		copy(memory.Bytes(l.addr, l.size), l.orig[:l.size])
		e.reprotect(log, l.addr, l.size)
	}
	copy(memory.Bytes(target, rec.stolen), memory.Bytes(rec.backup, rec.stolen))
	e.reprotect(log, target, rec.stolen)
	e.hooks.Remove(target)
	removed = true
	log.Debug("hook removed", zap.Uintptr("trampoline", rec.trampoline), zap.Int("size", rec.allocSize))

	if err := e.mem.Free(rec.trampoline); err != nil {
		return errors.Mark(errors.Wrap(err, "release trampoline"), ErrMemory)
	}
	return nil
}
