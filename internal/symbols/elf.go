package symbols

import (
	"debug/elf"
	"io"
)

type elfFile struct {
	*elf.File
}

func openElf(r io.ReaderAt) (objFile, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	return elfFile{f}, nil
}

func (f elfFile) Symbols() (map[string]uintptr, error) {
	syms, err := f.File.Symbols()
	if err != nil {
		return nil, err
	}
	out := make(map[string]uintptr, len(syms))
	for _, s := range syms {
		if s.Name == "" || s.Value == 0 {
			continue
		}
		out[s.Name] = uintptr(s.Value)
	}
	return out, nil
}
