package inlinehook

import (
	"reflect"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// funcval is the layout a Go func value points to.
type funcval struct {
	fn uintptr
}

// setFunc makes the func variable at ptr call code.
func setFunc(ptr unsafe.Pointer, code uintptr) {
	*(*unsafe.Pointer)(ptr) = unsafe.Pointer(&funcval{fn: code})
}

func funcPair(target, replacement any) (uintptr, uintptr, error) {
	vt := reflect.ValueOf(target)
	vr := reflect.ValueOf(replacement)
	if vt.Kind() != reflect.Func || vr.Kind() != reflect.Func {
		return 0, 0, ErrInputType
	}
	if vt.Type() != vr.Type() {
		return 0, 0, errors.Wrapf(ErrDifferentType, "%s and %s", vt.Type(), vr.Type())
	}
	return vt.Pointer(), vr.Pointer(), nil
}

// InstallFunc hooks the Go function target so that it runs replacement. Both
// must have the same func type.
func (e *Engine) InstallFunc(target, replacement any) error {
	from, to, err := funcPair(target, replacement)
	if err != nil {
		return err
	}
	return e.Install(from, to)
}

// RemoveFunc undoes InstallFunc.
func (e *Engine) RemoveFunc(target any) error {
	vt := reflect.ValueOf(target)
	if vt.Kind() != reflect.Func {
		return ErrInputType
	}
	return e.Remove(vt.Pointer())
}

// OriginalFunc sets *out, a func variable of target's type, to a func that
// runs target's original code.
func (e *Engine) OriginalFunc(target, out any) error {
	vt := reflect.ValueOf(target)
	po := reflect.ValueOf(out)
	if vt.Kind() != reflect.Func || po.Kind() != reflect.Pointer || po.IsNil() || po.Elem().Kind() != reflect.Func {
		return ErrInputType
	}
	if po.Elem().Type() != vt.Type() {
		return errors.Wrapf(ErrDifferentType, "%s and %s", vt.Type(), po.Elem().Type())
	}
	tramp := e.FindOriginal(vt.Pointer())
	if tramp == 0 {
		return errors.Wrapf(ErrHookNotFound, "%#x", vt.Pointer())
	}
	setFunc(po.UnsafePointer(), tramp)
	return nil
}

// InstallFunc hooks target on the default engine.
func InstallFunc(target, replacement any) error {
	return Default().InstallFunc(target, replacement)
}

// RemoveFunc unhooks target on the default engine.
func RemoveFunc(target any) error {
	return Default().RemoveFunc(target)
}

// OriginalFunc looks target up on the default engine.
func OriginalFunc(target, out any) error {
	return Default().OriginalFunc(target, out)
}
