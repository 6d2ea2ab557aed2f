// Package symbols reads symbol tables from ELF, Mach-O and PE object files so
// hook targets can be named instead of addressed.
package symbols

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

var (
	// ErrUnknownFormat means no reader recognized the file
	ErrUnknownFormat = errors.New("unrecognized object file")
	// ErrNotFound means the symbol is not in the table
	ErrNotFound = errors.New("symbol not found")
)

type objFile interface {
	Symbols() (map[string]uintptr, error)
	Close() error
}

var openers = []func(io.ReaderAt) (objFile, error){
	openElf,
	openMacho,
	openPE,
}

// Read returns every named symbol in the object file at path with its
// link-time address.
func Read(path string) (map[string]uintptr, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open object file")
	}
	defer r.Close()

	for _, open := range openers {
		f, err := open(r)
		if err != nil {
			continue
		}
		syms, err := f.Symbols()
		_ = f.Close()
		return syms, errors.Wrapf(err, "read symbols of %s", path)
	}
	return nil, errors.Wrapf(ErrUnknownFormat, "%s", path)
}

// Lookup returns the address of one symbol in the object file at path.
func Lookup(path, name string) (uintptr, error) {
	syms, err := Read(path)
	if err != nil {
		return 0, err
	}
	addr, ok := syms[name]
	if !ok {
		// Mach-O prefixes C-visible names
		addr, ok = syms["_"+name]
	}
	if !ok {
		return 0, errors.Wrapf(ErrNotFound, "%s in %s", name, path)
	}
	return addr, nil
}
