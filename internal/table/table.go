// Package table implements a fixed-capacity open-addressing hash table keyed
// by addresses. It never grows: a full table rejects inserts.
//
// Removal only clears the occupied flag of a slot. Lookups therefore probe a
// full cycle from the start slot and, when that cycle saw no free slot, fall
// back to a second full scan. With the small capacities used for hook
// bookkeeping this is bounded by O(capacity).
//
// A Table is not safe for concurrent use; callers provide their own locking.
package table

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrDuplicate means the key is already present
	ErrDuplicate = errors.New("duplicate key")
	// ErrFull means every slot is occupied
	ErrFull = errors.New("table full")
)

const hashMultiplier = 2654435761

type slot[V any] struct {
	key      uintptr
	value    V
	occupied bool
}

// Table maps uintptr keys to values of type V.
type Table[V any] struct {
	slots []slot[V]
	count int
}

// New creates a table with room for exactly capacity entries.
func New[V any](capacity int) *Table[V] {
	if capacity <= 0 {
		panic("table: capacity must be positive")
	}
	return &Table[V]{slots: make([]slot[V], capacity)}
}

func (t *Table[V]) Len() int   { return t.count }
func (t *Table[V]) Cap() int   { return len(t.slots) }
func (t *Table[V]) Full() bool { return t.count >= len(t.slots) }

func (t *Table[V]) hash(key uintptr) int {
	return int((uint64(key) * hashMultiplier) % uint64(len(t.slots)))
}

func (t *Table[V]) next(pos int) int {
	return (pos + 1) % len(t.slots)
}

// findSlot returns the slot holding key, or -1. empty is the first free slot
// met while probing, or -1.
func (t *Table[V]) findSlot(key uintptr) (found, empty int) {
	start := t.hash(key)
	empty = -1
	pos := start
	for {
		s := &t.slots[pos]
		if !s.occupied {
			if empty < 0 {
				empty = pos
			}
		} else if s.key == key {
			return pos, empty
		}
		pos = t.next(pos)
		if pos == start {
			break
		}
	}
	if empty >= 0 {
		return -1, empty
	}

	for {
		s := &t.slots[pos]
		if s.occupied && s.key == key {
			return pos, -1
		}
		pos = t.next(pos)
		if pos == start {
			break
		}
	}
	return -1, -1
}

// Insert adds key. It fails if key is present or the table is full.
func (t *Table[V]) Insert(key uintptr, value V) error {
	found, empty := t.findSlot(key)
	if found >= 0 {
		return errors.Wrapf(ErrDuplicate, "key %#x", key)
	}
	if t.Full() || empty < 0 {
		return ErrFull
	}
	t.slots[empty] = slot[V]{key: key, value: value, occupied: true}
	t.count++
	return nil
}

// Find returns a copy of the value stored for key.
func (t *Table[V]) Find(key uintptr) (V, bool) {
	found, _ := t.findSlot(key)
	if found < 0 {
		var zero V
		return zero, false
	}
	return t.slots[found].value, true
}

// Remove deletes key and returns the value it held.
func (t *Table[V]) Remove(key uintptr) (V, bool) {
	found, _ := t.findSlot(key)
	if found < 0 {
		var zero V
		return zero, false
	}
	s := &t.slots[found]
	s.occupied = false
	t.count--
	v := s.value
	var zero V
	s.value = zero
	return v, true
}

// Range calls fn for every entry until fn returns false.
func (t *Table[V]) Range(fn func(key uintptr, value V) bool) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.occupied && !fn(s.key, s.value) {
			return
		}
	}
}
