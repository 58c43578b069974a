// Copyright 2019 The UNICORE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file

// Package elfimage parses ELF32 and ELF64 shared objects into an in-memory
// projection: header, section table, program table, and the dynamic
// segment, without depending on debug/elf's own file reader (which does
// not expose the .gnu.version_r / .gnu.version_d tables the analyzer
// needs). Enum values (section types, symbol types, dynamic tags, machine
// IDs) are still the ones debug/elf defines — there is no reason to
// reinvent a constant table the standard library already ships — but the
// byte-level parsing below is the teacher's own hand-rolled style
// (bytes.Reader + encoding/binary, adapted from
// srcs/binarytool/elf64core), generalized across class and endianness
// instead of assuming ELF64 little-endian.
package elfimage

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"

	"unrepair/internal/xerrors"
)

// Header is the widened, class-independent projection of the ELF file
// header: every field is stored at its natural 64-bit width regardless of
// whether the source was ELF32 or ELF64.
type Header struct {
	Class      elf.Class
	Data       elf.Data
	OSABI      elf.OSABI
	ABIVersion uint8
	Type       elf.Type
	Machine    elf.Machine
	Version    uint32
	Entry      uint64
	Phoff      uint64
	Shoff      uint64
	Flags      uint32
	Ehsize     uint16
	Phentsize  uint16
	Phnum      uint16
	Shentsize  uint16
	Shnum      uint16
	Shstrndx   uint16
}

// SectionHeader is the widened projection of one section header entry.
type SectionHeader struct {
	Index     int
	Name      string
	NameOff   uint32
	Type      elf.SectionType
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

// ProgramHeader is the widened projection of one program header entry.
type ProgramHeader struct {
	Index  int
	Type   elf.ProgType
	Flags  uint32
	Offset uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// Image is the parsed, read-only projection of one ELF file. It owns the
// raw byte buffer it was built from; no accessor here ever copies out of
// bounds, and every parse step that could run off the end of Raw instead
// returns an *xerrors.ElfParseError.
type Image struct {
	Header         Header
	Sections       []SectionHeader
	Programs       []ProgramHeader
	Raw            []byte
	sectionsByName map[string]*SectionHeader
}

var magic = [4]byte{0x7f, 'E', 'L', 'F'}

// Read parses raw as an ELF32 or ELF64 image. It is total: truncated
// input, an unsupported class/encoding, or a header field pointing past
// the end of raw is reported as an error, never a panic or an out-of-bounds
// read.
func Read(raw []byte) (*Image, error) {
	if len(raw) < 20 {
		return nil, xerrors.NewElfParseError("read ident", fmt.Errorf("file too short (%d bytes)", len(raw)))
	}
	if !bytes.Equal(raw[0:4], magic[:]) {
		return nil, xerrors.NewElfParseError("read ident", fmt.Errorf("bad magic %x", raw[0:4]))
	}

	class := elf.Class(raw[4])
	data := elf.Data(raw[5])

	var order binary.ByteOrder
	switch data {
	case elf.ELFDATA2LSB:
		order = binary.LittleEndian
	case elf.ELFDATA2MSB:
		order = binary.BigEndian
	default:
		return nil, xerrors.NewElfParseError("read ident", fmt.Errorf("unsupported data encoding %v", data))
	}

	img := &Image{Raw: raw}
	img.Header.Class = class
	img.Header.Data = data
	img.Header.OSABI = elf.OSABI(raw[7])
	img.Header.ABIVersion = raw[8]

	var err error
	switch class {
	case elf.ELFCLASS32:
		err = img.parseHeader32(order)
	case elf.ELFCLASS64:
		err = img.parseHeader64(order)
	default:
		return nil, xerrors.NewElfParseError("read ident", fmt.Errorf("unsupported class %v", class))
	}
	if err != nil {
		return nil, err
	}

	if err := img.parseSections(order); err != nil {
		return nil, err
	}
	if err := img.parsePrograms(order); err != nil {
		return nil, err
	}
	if err := img.resolveSectionNames(); err != nil {
		return nil, err
	}

	return img, nil
}

// ByteOrder returns the image's declared data encoding as a binary.ByteOrder.
func (img *Image) ByteOrder() binary.ByteOrder {
	if img.Header.Data == elf.ELFDATA2MSB {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Is64 reports whether the image is ELFCLASS64.
func (img *Image) Is64() bool { return img.Header.Class == elf.ELFCLASS64 }

// bounded returns raw[off:off+size], failing rather than panicking if the
// range runs past the end of the buffer or overflows.
func (img *Image) bounded(op string, off, size uint64) ([]byte, error) {
	end := off + size
	if end < off || end > uint64(len(img.Raw)) {
		return nil, xerrors.NewElfParseError(op,
			fmt.Errorf("range [0x%x, 0x%x) out of bounds (file size 0x%x)", off, end, len(img.Raw)))
	}
	return img.Raw[off:end], nil
}
