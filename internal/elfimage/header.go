// Copyright 2019 The UNICORE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file

package elfimage

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"unrepair/internal/xerrors"
)

type rawEhdr32 struct {
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

type rawEhdr64 struct {
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

func (img *Image) parseHeader32(order binary.ByteOrder) error {
	if len(img.Raw) < 16+36 {
		return xerrors.NewElfParseError("read ehdr32", errShort)
	}
	var h rawEhdr32
	if err := binary.Read(bytes.NewReader(img.Raw[16:]), order, &h); err != nil {
		return xerrors.NewElfParseError("read ehdr32", err)
	}
	img.Header.Type = elf.Type(h.Type)
	img.Header.Machine = elf.Machine(h.Machine)
	img.Header.Version = h.Version
	img.Header.Entry = uint64(h.Entry)
	img.Header.Phoff = uint64(h.Phoff)
	img.Header.Shoff = uint64(h.Shoff)
	img.Header.Flags = h.Flags
	img.Header.Ehsize = h.Ehsize
	img.Header.Phentsize = h.Phentsize
	img.Header.Phnum = h.Phnum
	img.Header.Shentsize = h.Shentsize
	img.Header.Shnum = h.Shnum
	img.Header.Shstrndx = h.Shstrndx
	return nil
}

func (img *Image) parseHeader64(order binary.ByteOrder) error {
	if len(img.Raw) < 16+48 {
		return xerrors.NewElfParseError("read ehdr64", errShort)
	}
	var h rawEhdr64
	if err := binary.Read(bytes.NewReader(img.Raw[16:]), order, &h); err != nil {
		return xerrors.NewElfParseError("read ehdr64", err)
	}
	img.Header.Type = elf.Type(h.Type)
	img.Header.Machine = elf.Machine(h.Machine)
	img.Header.Version = h.Version
	img.Header.Entry = h.Entry
	img.Header.Phoff = h.Phoff
	img.Header.Shoff = h.Shoff
	img.Header.Flags = h.Flags
	img.Header.Ehsize = h.Ehsize
	img.Header.Phentsize = h.Phentsize
	img.Header.Phnum = h.Phnum
	img.Header.Shentsize = h.Shentsize
	img.Header.Shnum = h.Shnum
	img.Header.Shstrndx = h.Shstrndx
	return nil
}
