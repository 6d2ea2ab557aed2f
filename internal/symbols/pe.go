package symbols

import (
	"debug/pe"
	"io"
)

type peFile struct {
	*pe.File
}

func openPE(r io.ReaderAt) (objFile, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, err
	}
	return peFile{f}, nil
}

// Symbols returns COFF symbol values as section-relative offsets rebased onto
// the image base and section address.
func (f peFile) Symbols() (map[string]uintptr, error) {
	var base uint64
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		base = uint64(oh.ImageBase)
	case *pe.OptionalHeader64:
		base = oh.ImageBase
	}
	out := make(map[string]uintptr, len(f.File.Symbols))
	for _, s := range f.File.Symbols {
		if s.Name == "" || s.SectionNumber <= 0 || int(s.SectionNumber) > len(f.Sections) {
			continue
		}
		sect := f.Sections[s.SectionNumber-1]
		out[s.Name] = uintptr(base + uint64(sect.VirtualAddress) + uint64(s.Value))
	}
	return out, nil
}
