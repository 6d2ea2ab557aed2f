//go:build !amd64

package goid

func fast() (int64, bool) { return 0, false }
