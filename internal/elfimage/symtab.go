// Copyright 2019 The UNICORE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file

package elfimage

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"

	"unrepair/internal/xerrors"
)

// Sym is one entry of .dynsym, name already resolved via the linked string
// table.
type Sym struct {
	Index int
	Name  string
	Info  byte
	Other byte
	Shndx uint16
	Value uint64
	Size  uint64
}

// Bind returns the STB_* binding encoded in Info.
func (s Sym) Bind() elf.SymBind { return elf.SymBind(s.Info >> 4) }

// Type returns the STT_* type encoded in Info.
func (s Sym) Type() elf.SymType { return elf.SymType(s.Info & 0xf) }

// Undefined reports whether the symbol is undefined (imported), i.e.
// st_shndx == SHN_UNDEF.
func (s Sym) Undefined() bool { return s.Shndx == uint16(elf.SHN_UNDEF) }

type rawSym32 struct {
	Name  uint32
	Value uint32
	Size  uint32
	Info  byte
	Other byte
	Shndx uint16
}

type rawSym64 struct {
	Name  uint32
	Info  byte
	Other byte
	Shndx uint16
	Value uint64
	Size  uint64
}

// DynSymbols parses the .dynsym section, resolving each symbol's name
// against .dynstr. Returns (nil, false, nil) if the image has no .dynsym
// (a static binary).
func (img *Image) DynSymbols() ([]Sym, bool, error) {
	symtab, ok := img.Section(".dynsym")
	if !ok {
		return nil, false, nil
	}
	strtab, err := img.DynStringTable()
	if err != nil {
		return nil, false, err
	}

	entsize := 16
	if img.Is64() {
		entsize = 24
	}
	content, err := img.SectionContent(symtab)
	if err != nil {
		return nil, false, err
	}
	if len(content)%entsize != 0 {
		return nil, false, xerrors.NewElfParseError("read .dynsym",
			fmt.Errorf("section size 0x%x is not a multiple of entry size %d", len(content), entsize))
	}

	order := img.ByteOrder()
	count := len(content) / entsize
	out := make([]Sym, count)
	for i := 0; i < count; i++ {
		chunk := content[i*entsize : (i+1)*entsize]
		var s Sym
		s.Index = i
		if img.Is64() {
			var raw rawSym64
			if err := binary.Read(bytes.NewReader(chunk), order, &raw); err != nil {
				return nil, false, xerrors.NewElfParseError("decode .dynsym entry", err)
			}
			s.Info, s.Other, s.Shndx, s.Value, s.Size = raw.Info, raw.Other, raw.Shndx, raw.Value, raw.Size
			if raw.Name != 0 {
				name, err := img.stringAtSection(strtab, raw.Name)
				if err != nil {
					return nil, false, xerrors.NewElfParseError(fmt.Sprintf("resolve name of .dynsym[%d]", i), err)
				}
				s.Name = name
			}
		} else {
			var raw rawSym32
			if err := binary.Read(bytes.NewReader(chunk), order, &raw); err != nil {
				return nil, false, xerrors.NewElfParseError("decode .dynsym entry", err)
			}
			s.Info, s.Other, s.Shndx, s.Value, s.Size = raw.Info, raw.Other, raw.Shndx, uint64(raw.Value), uint64(raw.Size)
			if raw.Name != 0 {
				name, err := img.stringAtSection(strtab, raw.Name)
				if err != nil {
					return nil, false, xerrors.NewElfParseError(fmt.Sprintf("resolve name of .dynsym[%d]", i), err)
				}
				s.Name = name
			}
		}
		out[i] = s
	}
	return out, true, nil
}

// VersionSymbols parses .gnu.version, the array of 16-bit indices parallel
// to .dynsym. Returns (nil, false, nil) if not present (an unversioned
// binary).
func (img *Image) VersionSymbols() ([]uint16, bool, error) {
	sh, ok := img.Section(".gnu.version")
	if !ok {
		return nil, false, nil
	}
	content, err := img.SectionContent(sh)
	if err != nil {
		return nil, false, err
	}
	if len(content)%2 != 0 {
		return nil, false, xerrors.NewElfParseError("read .gnu.version", fmt.Errorf("odd-sized section"))
	}
	order := img.ByteOrder()
	out := make([]uint16, len(content)/2)
	for i := range out {
		out[i] = order.Uint16(content[i*2 : i*2+2])
	}
	return out, true, nil
}

// VersionIndex reserved values, System V gABI.
const (
	VerNdxLocal  = 0
	VerNdxGlobal = 1
	VersymHidden = 0x8000
)
