package inlinehook

import (
	"github.com/k2io/inlinehook/internal/symbols"
)

// Symbols returns the symbol table of the object file at path, mapping names
// to link-time addresses.
func Symbols(path string) (map[string]uintptr, error) {
	return symbols.Read(path)
}

// LookupSymbol returns the link-time address of name in the object file at
// path. For a non-PIE executable this is also its runtime address.
func LookupSymbol(path, name string) (uintptr, error) {
	return symbols.Lookup(path, name)
}
