package inlinehook

import (
	"runtime"

	"github.com/cockroachdb/errors"

	"github.com/k2io/inlinehook/internal/reentry"
	"github.com/k2io/inlinehook/internal/x86"
)

// Accessors are the native cdecl functions a reentrant trampoline calls:
//
//	int enter(uintptr key, uintptr ret)  // 0 on first entry
//	uintptr leave(uintptr key)           // the ret saved by enter
//
// The zero value selects the package's own assembly accessors, available
// when the process itself is 32-bit.
type Accessors struct {
	Enter uintptr
	Leave uintptr
}

// InstallReentrant hooks target like Install, but routes calls through a
// preamble that skips the replacement when the calling thread is already
// inside it. Only 32-bit code is supported.
func (e *Engine) InstallReentrant(target, replacement uintptr, acc Accessors) error {
	if e.mode != x86.Mode32 {
		return errors.Wrapf(ErrUnsupportedMode, "reentrant hooks need %s, engine runs %s", x86.Mode32, e.mode)
	}
	if acc == (Accessors{}) {
		enter, leave, ok := reentry.NativeAccessors()
		if !ok {
			return errors.Wrapf(ErrUnsupportedMode, "no built-in reentrancy accessors on %s", runtime.GOARCH)
		}
		acc = Accessors{Enter: enter, Leave: leave}
	}
	if acc.Enter == 0 || acc.Leave == 0 {
		return errors.Wrap(ErrNullAddress, "reentrancy accessors")
	}
	return e.install(target, replacement, &acc)
}

// EnterHook marks the calling goroutine as inside the hook on target and
// saves ret. It returns false when the goroutine already was inside; the
// replacement should then call the original directly.
func (e *Engine) EnterHook(target, ret uintptr) (bool, error) {
	first, err := e.tracker.Enter(target, ret)
	if err != nil {
		return false, errors.Mark(err, ErrCapacityExceeded)
	}
	return first, nil
}

// LeaveHook undoes EnterHook and returns the saved ret.
func (e *Engine) LeaveHook(target uintptr) (uintptr, bool) {
	return e.tracker.Leave(target)
}
