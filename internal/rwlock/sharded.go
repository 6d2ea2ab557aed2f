// Package rwlock provides a reader-writer spin lock sharded into per-goroutine
// slots. Readers only touch the slot their goroutine maps to, so concurrent
// lookups rarely share a cache line. A writer claims a global permission bit
// and then locks out every slot.
package rwlock

import (
	"runtime"

	"go.uber.org/atomic"

	"github.com/k2io/inlinehook/internal/goid"
)

// Slots is the number of independent reader slots.
const Slots = 32

// writerMark is subtracted from a slot counter while a writer owns it.
const writerMark int64 = 1 << 62

type slot struct {
	n atomic.Int64
	_ [56]byte
}

func (s *slot) rlock() {
	old := s.n.Add(1) - 1
	for old < 0 {
		s.n.Sub(1)
		runtime.Gosched()
		for s.n.Load() < 0 {
			runtime.Gosched()
		}
		old = s.n.Add(1) - 1
	}
}

func (s *slot) runlock() {
	s.n.Sub(1)
}

// mark pushes the counter negative and reports whether no reader was active.
func (s *slot) mark() bool {
	return s.n.Sub(writerMark)+writerMark == 0
}

func (s *slot) drained() bool {
	return s.n.Load() == -writerMark
}

// Sharded is a reader-writer lock. The zero value is not usable; call New.
type Sharded struct {
	free  atomic.Bool
	slots [Slots]slot
}

// New returns an unlocked lock.
func New() *Sharded {
	l := &Sharded{}
	l.free.Store(true)
	return l
}

// slotIndex pins a goroutine to one slot for its whole lifetime.
func slotIndex() int {
	return int(uint64(goid.Get()) % Slots)
}

// RLock acquires the calling goroutine's reader slot.
func (l *Sharded) RLock() {
	l.slots[slotIndex()].rlock()
}

// RUnlock releases the slot taken by RLock on the same goroutine.
func (l *Sharded) RUnlock() {
	l.slots[slotIndex()].runlock()
}

func (l *Sharded) tryMark(ready *[Slots]bool) bool {
	if !l.free.CompareAndSwap(true, false) {
		return false
	}
	for i := range l.slots {
		ready[i] = l.slots[i].mark()
	}
	return true
}

// pending returns the first slot that still has readers, or Slots.
func (l *Sharded) pending(from int, ready *[Slots]bool) int {
	first := Slots
	for i := from; i < Slots; i++ {
		if ready[i] {
			continue
		}
		ready[i] = l.slots[i].drained()
		if !ready[i] && i < first {
			first = i
		}
	}
	return first
}

// Lock waits until it is the only writer and no reader is inside.
func (l *Sharded) Lock() {
	var ready [Slots]bool
	if !l.tryMark(&ready) {
		runtime.Gosched()
		for !(l.free.Load() && l.tryMark(&ready)) {
			runtime.Gosched()
		}
	}
	next := 0
	for {
		if next = l.pending(next, &ready); next == Slots {
			return
		}
		runtime.Gosched()
	}
}

// Unlock restores each counter by adding the mark back; a reader backing off
// may still hold a transient increment.
func (l *Sharded) Unlock() {
	for i := range l.slots {
		l.slots[i].n.Add(writerMark)
	}
	l.free.Store(true)
}
