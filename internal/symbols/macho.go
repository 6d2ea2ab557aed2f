package symbols

import (
	"debug/macho"
	"io"
)

type machoFile struct {
	*macho.File
}

func openMacho(r io.ReaderAt) (objFile, error) {
	f, err := macho.NewFile(r)
	if err != nil {
		return nil, err
	}
	return machoFile{f}, nil
}

func (f machoFile) Symbols() (map[string]uintptr, error) {
	if f.Symtab == nil {
		return map[string]uintptr{}, nil
	}
	out := make(map[string]uintptr, len(f.Symtab.Syms))
	for _, s := range f.Symtab.Syms {
		if s.Name == "" || s.Value == 0 {
			continue
		}
		out[s.Name] = uintptr(s.Value)
	}
	return out, nil
}
