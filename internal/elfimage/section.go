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

type rawShdr32 struct {
	Name      uint32
	Type      uint32
	Flags     uint32
	Addr      uint32
	Offset    uint32
	Size      uint32
	Link      uint32
	Info      uint32
	AddrAlign uint32
	EntSize   uint32
}

type rawShdr64 struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

func (img *Image) parseSections(order binary.ByteOrder) error {
	if img.Header.Shnum == 0 {
		return nil
	}
	entsize := int(img.Header.Shentsize)
	if entsize == 0 {
		return xerrors.NewElfParseError("read section headers", fmt.Errorf("zero-sized section header entry"))
	}
	total := entsize * int(img.Header.Shnum)
	buf, err := img.bounded("read section headers", img.Header.Shoff, uint64(total))
	if err != nil {
		return err
	}

	img.Sections = make([]SectionHeader, img.Header.Shnum)
	r := bytes.NewReader(buf)
	for i := 0; i < int(img.Header.Shnum); i++ {
		entry, err := readAt(r, entsize)
		if err != nil {
			return xerrors.NewElfParseError("read section headers", err)
		}
		var sh SectionHeader
		if img.Is64() {
			var raw rawShdr64
			if err := binary.Read(bytes.NewReader(entry), order, &raw); err != nil {
				return xerrors.NewElfParseError("decode section header", err)
			}
			sh = SectionHeader{
				Index: i, NameOff: raw.Name, Type: elf.SectionType(raw.Type),
				Flags: raw.Flags, Addr: raw.Addr, Offset: raw.Offset, Size: raw.Size,
				Link: raw.Link, Info: raw.Info, AddrAlign: raw.AddrAlign, EntSize: raw.EntSize,
			}
		} else {
			var raw rawShdr32
			if err := binary.Read(bytes.NewReader(entry), order, &raw); err != nil {
				return xerrors.NewElfParseError("decode section header", err)
			}
			sh = SectionHeader{
				Index: i, NameOff: raw.Name, Type: elf.SectionType(raw.Type),
				Flags: uint64(raw.Flags), Addr: uint64(raw.Addr), Offset: uint64(raw.Offset), Size: uint64(raw.Size),
				Link: raw.Link, Info: raw.Info, AddrAlign: uint64(raw.AddrAlign), EntSize: uint64(raw.EntSize),
			}
		}
		img.Sections[i] = sh
	}
	return nil
}

// resolveSectionNames uses e_shstrndx to fill in the Name field of every
// section header and builds the lookup-by-name index.
func (img *Image) resolveSectionNames() error {
	img.sectionsByName = make(map[string]*SectionHeader, len(img.Sections))
	if int(img.Header.Shstrndx) >= len(img.Sections) {
		// No string table (e.g. a stripped relocatable); names stay empty.
		return nil
	}
	strtab := img.Sections[img.Header.Shstrndx]
	for i := range img.Sections {
		name, err := img.stringAtSection(&strtab, img.Sections[i].NameOff)
		if err != nil {
			return xerrors.NewElfParseError(fmt.Sprintf("resolve name of section %d", i), err)
		}
		img.Sections[i].Name = name
		img.sectionsByName[name] = &img.Sections[i]
	}
	return nil
}

// Section looks up a section by exact name (e.g. ".dynstr").
func (img *Image) Section(name string) (*SectionHeader, bool) {
	sh, ok := img.sectionsByName[name]
	return sh, ok
}

// SectionsByType returns every section header of the given type, in table
// order.
func (img *Image) SectionsByType(t elf.SectionType) []*SectionHeader {
	var out []*SectionHeader
	for i := range img.Sections {
		if img.Sections[i].Type == t {
			out = append(out, &img.Sections[i])
		}
	}
	return out
}

// SectionContent returns the bytes covered by sh, bounds-checked against
// the file size.
func (img *Image) SectionContent(sh *SectionHeader) ([]byte, error) {
	return img.bounded(fmt.Sprintf("read content of section %q", sh.Name), sh.Offset, sh.Size)
}

// stringAtSection reads a NUL-terminated string at byte offset off within
// the given string-table section, refusing to read past that section's
// bounds (not just the file's).
func (img *Image) stringAtSection(strtab *SectionHeader, off uint32) (string, error) {
	content, err := img.SectionContent(strtab)
	if err != nil {
		return "", err
	}
	if uint64(off) >= uint64(len(content)) {
		return "", fmt.Errorf("string offset 0x%x past end of section %q (size 0x%x)", off, strtab.Name, len(content))
	}
	rest := content[off:]
	nul := bytes.IndexByte(rest, 0)
	if nul < 0 {
		return "", fmt.Errorf("unterminated string at offset 0x%x in section %q", off, strtab.Name)
	}
	return string(rest[:nul]), nil
}

// StringAt reads a NUL-terminated string at byte offset off within the
// named string-table section.
func (img *Image) StringAt(strtab *SectionHeader, off uint32) (string, error) {
	return img.stringAtSection(strtab, off)
}

func readAt(r *bytes.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
