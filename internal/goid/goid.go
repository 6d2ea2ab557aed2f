// Package goid identifies the calling goroutine. Goroutines play the role of
// threads for lock-slot affinity and reentrancy bookkeeping.
package goid

import (
	"runtime"
)

// Get returns the id of the calling goroutine. Where the runtime's goroutine
// descriptor can be read directly the id is loaded from it; otherwise it is
// parsed from the header line "goroutine 123 [running]:" of a stack trace.
func Get() int64 {
	if id, ok := fast(); ok {
		return id
	}
	return slow()
}

func slow() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parse(buf[:n])
}

func parse(buf []byte) int64 {
	const prefix = "goroutine "
	if len(buf) < len(prefix) || string(buf[:len(prefix)]) != prefix {
		return 0
	}
	var id int64
	for _, c := range buf[len(prefix):] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int64(c-'0')
	}
	return id
}
