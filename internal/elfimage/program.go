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

type rawPhdr32 struct {
	Type   uint32
	Offset uint32
	Vaddr  uint32
	Paddr  uint32
	Filesz uint32
	Memsz  uint32
	Flags  uint32
	Align  uint32
}

type rawPhdr64 struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

func (img *Image) parsePrograms(order binary.ByteOrder) error {
	if img.Header.Phnum == 0 {
		return nil
	}
	entsize := int(img.Header.Phentsize)
	if entsize == 0 {
		return xerrors.NewElfParseError("read program headers", fmt.Errorf("zero-sized program header entry"))
	}
	total := entsize * int(img.Header.Phnum)
	buf, err := img.bounded("read program headers", img.Header.Phoff, uint64(total))
	if err != nil {
		return err
	}

	img.Programs = make([]ProgramHeader, img.Header.Phnum)
	r := bytes.NewReader(buf)
	for i := 0; i < int(img.Header.Phnum); i++ {
		entry, err := readAt(r, entsize)
		if err != nil {
			return xerrors.NewElfParseError("read program headers", err)
		}
		var ph ProgramHeader
		if img.Is64() {
			var raw rawPhdr64
			if err := binary.Read(bytes.NewReader(entry), order, &raw); err != nil {
				return xerrors.NewElfParseError("decode program header", err)
			}
			ph = ProgramHeader{
				Index: i, Type: elf.ProgType(raw.Type), Flags: raw.Flags,
				Offset: raw.Offset, Vaddr: raw.Vaddr, Paddr: raw.Paddr,
				Filesz: raw.Filesz, Memsz: raw.Memsz, Align: raw.Align,
			}
		} else {
			var raw rawPhdr32
			if err := binary.Read(bytes.NewReader(entry), order, &raw); err != nil {
				return xerrors.NewElfParseError("decode program header", err)
			}
			ph = ProgramHeader{
				Index: i, Type: elf.ProgType(raw.Type), Flags: raw.Flags,
				Offset: uint64(raw.Offset), Vaddr: uint64(raw.Vaddr), Paddr: uint64(raw.Paddr),
				Filesz: uint64(raw.Filesz), Memsz: uint64(raw.Memsz), Align: uint64(raw.Align),
			}
		}
		img.Programs[i] = ph
	}
	return nil
}

// DynamicSegment returns the PT_DYNAMIC program header, if present.
func (img *Image) DynamicSegment() (*ProgramHeader, bool) {
	for i := range img.Programs {
		if img.Programs[i].Type == elf.PT_DYNAMIC {
			return &img.Programs[i], true
		}
	}
	return nil, false
}
