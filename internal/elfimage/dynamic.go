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

// DynamicEntry is one (tag, value) pair from PT_DYNAMIC. Offset is the
// absolute file offset of the value field of this entry — the patcher
// needs it to rewrite a DT_NEEDED value in place without re-deriving it.
type DynamicEntry struct {
	Tag    elf.DynTag
	Val    uint64
	Offset uint64
}

type rawDyn32 struct {
	Tag int32
	Val uint32
}

type rawDyn64 struct {
	Tag int64
	Val uint64
}

// DynamicEntries parses every entry of the PT_DYNAMIC segment, in table
// order, stopping at (and including) the first DT_NULL. Returns an empty
// slice, not an error, if the image has no PT_DYNAMIC segment (a static
// binary or object file).
func (img *Image) DynamicEntries() ([]DynamicEntry, error) {
	seg, ok := img.DynamicSegment()
	if !ok {
		return nil, nil
	}

	order := img.ByteOrder()
	entsize := 8
	if img.Is64() {
		entsize = 16
	}
	if seg.Filesz%uint64(entsize) != 0 {
		return nil, xerrors.NewElfParseError("read dynamic segment",
			fmt.Errorf("segment size 0x%x is not a multiple of entry size %d", seg.Filesz, entsize))
	}

	buf, err := img.bounded("read dynamic segment", seg.Offset, seg.Filesz)
	if err != nil {
		return nil, err
	}

	tagWidth := entsize / 2

	count := len(buf) / entsize
	entries := make([]DynamicEntry, 0, count)
	for i := 0; i < count; i++ {
		off := seg.Offset + uint64(i*entsize) + uint64(tagWidth)
		chunk := buf[i*entsize : (i+1)*entsize]

		var e DynamicEntry
		if img.Is64() {
			var raw rawDyn64
			if err := binary.Read(bytes.NewReader(chunk), order, &raw); err != nil {
				return nil, xerrors.NewElfParseError("decode dynamic entry", err)
			}
			e = DynamicEntry{Tag: elf.DynTag(raw.Tag), Val: raw.Val, Offset: off}
		} else {
			var raw rawDyn32
			if err := binary.Read(bytes.NewReader(chunk), order, &raw); err != nil {
				return nil, xerrors.NewElfParseError("decode dynamic entry", err)
			}
			e = DynamicEntry{Tag: elf.DynTag(raw.Tag), Val: uint64(raw.Val), Offset: off}
		}
		entries = append(entries, e)
		if e.Tag == elf.DT_NULL {
			break
		}
	}
	return entries, nil
}

// DynStringTable returns the .dynstr section, the string table addressed
// by DT_NEEDED/DT_SONAME offsets. It is looked up by name rather than by
// following DT_STRTAB's virtual address, since every DT_NEEDED/DT_SONAME
// offset used in practice is relative to that section and the patcher
// edits it directly (per the design's Patcher contract).
func (img *Image) DynStringTable() (*SectionHeader, error) {
	sh, ok := img.Section(".dynstr")
	if !ok {
		return nil, xerrors.NewElfParseError("locate .dynstr", fmt.Errorf(".dynstr section not present"))
	}
	return sh, nil
}
