// Package reentry keeps per-goroutine "already inside this hook" markers and
// emits the machine-code preamble that consults them.
package reentry

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/k2io/inlinehook/internal/goid"
	"github.com/k2io/inlinehook/internal/table"
)

// DefaultCapacity bounds the hooks one goroutine can be inside at once.
const DefaultCapacity = 512

// ErrFull means the calling goroutine is inside too many hooks
var ErrFull = errors.New("reentrancy table full")

// Tracker maps each goroutine to the hooks it is currently inside. A table is
// only ever touched by the goroutine that owns it.
type Tracker struct {
	capacity int
	tables   sync.Map // goroutine id -> *table.Table[uintptr]
}

func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{capacity: capacity}
}

func (t *Tracker) own(create bool) *table.Table[uintptr] {
	id := goid.Get()
	if v, ok := t.tables.Load(id); ok {
		return v.(*table.Table[uintptr])
	}
	if !create {
		return nil
	}
	tbl := table.New[uintptr](t.capacity)
	t.tables.Store(id, tbl)
	return tbl
}

// Enter records ret as the continuation for key. It returns false when the
// goroutine is already inside key, in which case nothing is recorded and the
// caller must go straight to the original code.
func (t *Tracker) Enter(key, ret uintptr) (bool, error) {
	tbl := t.own(true)
	if err := tbl.Insert(key, ret); err != nil {
		if errors.Is(err, table.ErrDuplicate) {
			return false, nil
		}
		return false, errors.Mark(errors.Wrapf(err, "enter %#x", key), ErrFull)
	}
	return true, nil
}

// Leave drops the marker for key and returns the continuation saved by Enter.
func (t *Tracker) Leave(key uintptr) (uintptr, bool) {
	tbl := t.own(false)
	if tbl == nil {
		return 0, false
	}
	ret, ok := tbl.Remove(key)
	if tbl.Len() == 0 {
		t.tables.Delete(goid.Get())
	}
	return ret, ok
}

// Inside reports whether the calling goroutine is inside key.
func (t *Tracker) Inside(key uintptr) bool {
	tbl := t.own(false)
	if tbl == nil {
		return false
	}
	_, ok := tbl.Find(key)
	return ok
}
