// Copyright 2019 The UNICORE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file

package elfimage

import (
	"fmt"

	"unrepair/internal/xerrors"
)

// VerneedAux is one Vernaux entry: the version name required from a
// library, and the version index (matched against .gnu.version) that
// selects it.
type VerneedAux struct {
	Name  string
	Other uint16 // matches the low 15 bits of a .gnu.version entry
}

// Verneed is one Elf_Verneed entry: a required library and the version
// names an extension needs from it.
type Verneed struct {
	Library string
	Aux     []VerneedAux
}

// VerneedTable parses .gnu.version_r into its Verneed chain. Returns
// (nil, false, nil) if the section is absent.
func (img *Image) VerneedTable() ([]Verneed, bool, error) {
	sh, ok := img.Section(".gnu.version_r")
	if !ok {
		return nil, false, nil
	}
	strtab, err := img.DynStringTable()
	if err != nil {
		return nil, false, err
	}
	content, err := img.SectionContent(sh)
	if err != nil {
		return nil, false, err
	}
	order := img.ByteOrder()

	var out []Verneed
	pos := 0
	for {
		if pos+16 > len(content) {
			return nil, false, xerrors.NewElfParseError("read .gnu.version_r",
				fmt.Errorf("Verneed entry at offset 0x%x runs past section end", pos))
		}
		vnFile := order.Uint32(content[pos+4 : pos+8])
		vnAux := order.Uint32(content[pos+8 : pos+12])
		vnNext := order.Uint32(content[pos+12 : pos+16])
		vnCnt := order.Uint16(content[pos+2 : pos+4])

		libName, err := img.stringAtSection(strtab, vnFile)
		if err != nil {
			return nil, false, xerrors.NewElfParseError("resolve Verneed library name", err)
		}

		var aux []VerneedAux
		auxPos := pos + int(vnAux)
		for i := 0; i < int(vnCnt); i++ {
			if auxPos+16 > len(content) {
				return nil, false, xerrors.NewElfParseError("read .gnu.version_r",
					fmt.Errorf("Vernaux entry at offset 0x%x runs past section end", auxPos))
			}
			vnaOther := order.Uint16(content[auxPos+6 : auxPos+8])
			vnaName := order.Uint32(content[auxPos+8 : auxPos+12])
			vnaNext := order.Uint32(content[auxPos+12 : auxPos+16])

			verName, err := img.stringAtSection(strtab, vnaName)
			if err != nil {
				return nil, false, xerrors.NewElfParseError("resolve Vernaux version name", err)
			}
			aux = append(aux, VerneedAux{Name: verName, Other: vnaOther})

			if vnaNext == 0 {
				break
			}
			auxPos += int(vnaNext)
		}

		out = append(out, Verneed{Library: libName, Aux: aux})

		if vnNext == 0 {
			break
		}
		pos += int(vnNext)
	}
	return out, true, nil
}

// VerdefAux is one Verdaux entry: a version name a library defines.
type VerdefAux struct {
	Name string
}

// Verdef is one Elf_Verdef entry: the version index it defines (matched
// against .gnu.version) and the version name(s) attached to it. Real
// files sometimes list more than one Verdaux per Verdef for inherited
// versions; only the first ("own") name is meaningful for compatibility
// checking, matching the analyzer's use of it.
type Verdef struct {
	Ndx uint16
	Aux []VerdefAux
}

// VerdefTable parses .gnu.version_d into its Verdef chain. Returns
// (nil, false, nil) if the section is absent. The base entry (vd_ndx
// referring to the library's own SONAME rather than a real version) is
// still returned; callers that project defined symbols against it should
// ignore entries whose name is the library's own SONAME-style label —
// in practice this means index 1 (VER_NDX_GLOBAL) never appears here,
// since libraries emit their base entry outside the normal 2.. sequence
// only when versioning is in use, and this parser does not special-case
// it further.
func (img *Image) VerdefTable() ([]Verdef, bool, error) {
	sh, ok := img.Section(".gnu.version_d")
	if !ok {
		return nil, false, nil
	}
	strtab, err := img.DynStringTable()
	if err != nil {
		return nil, false, err
	}
	content, err := img.SectionContent(sh)
	if err != nil {
		return nil, false, err
	}
	order := img.ByteOrder()

	var out []Verdef
	pos := 0
	for {
		if pos+20 > len(content) {
			return nil, false, xerrors.NewElfParseError("read .gnu.version_d",
				fmt.Errorf("Verdef entry at offset 0x%x runs past section end", pos))
		}
		vdNdx := order.Uint16(content[pos+4 : pos+6])
		vdCnt := order.Uint16(content[pos+6 : pos+8])
		vdAux := order.Uint32(content[pos+12 : pos+16])
		vdNext := order.Uint32(content[pos+16 : pos+20])

		var aux []VerdefAux
		auxPos := pos + int(vdAux)
		for i := 0; i < int(vdCnt); i++ {
			if auxPos+8 > len(content) {
				return nil, false, xerrors.NewElfParseError("read .gnu.version_d",
					fmt.Errorf("Verdaux entry at offset 0x%x runs past section end", auxPos))
			}
			vdaName := order.Uint32(content[auxPos : auxPos+4])
			vdaNext := order.Uint32(content[auxPos+4 : auxPos+8])

			verName, err := img.stringAtSection(strtab, vdaName)
			if err != nil {
				return nil, false, xerrors.NewElfParseError("resolve Verdaux version name", err)
			}
			aux = append(aux, VerdefAux{Name: verName})

			if vdaNext == 0 {
				break
			}
			auxPos += int(vdaNext)
		}

		out = append(out, Verdef{Ndx: vdNdx, Aux: aux})

		if vdNext == 0 {
			break
		}
		pos += int(vdNext)
	}
	return out, true, nil
}
