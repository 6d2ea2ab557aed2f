//go:build !386

package reentry

// NativeAccessors reports ok=false: the reentrancy preamble is 32-bit code
// and only runs in a 386 process.
func NativeAccessors() (enter, leave uintptr, ok bool) {
	return 0, 0, false
}
