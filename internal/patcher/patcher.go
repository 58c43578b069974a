// Copyright 2019 The UNICORE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file

// Package patcher rewrites a DT_NEEDED entry of an ELF image, replacing
// one library name with another — the in-place strategy when the new name
// fits in the old string's slot, the append-to-strtab strategy when it
// doesn't and .dynstr can be grown without moving any other section.
package patcher

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"

	"unrepair/internal/elfimage"
	"unrepair/internal/xerrors"
)

// Strategy names which rewrite approach a Plan uses.
type Strategy int

const (
	InPlace Strategy = iota
	AppendToStrtab
)

func (s Strategy) String() string {
	if s == InPlace {
		return "in_place"
	}
	return "append_to_strtab"
}

// Plan describes the byte-level edit Apply will perform. It is computed
// once against a parsed *elfimage.Image and then applied against the raw
// bytes that image was parsed from; Apply never needs the Image back.
type Plan struct {
	DynEntryOffset uint64 // absolute offset of the DT_NEEDED entry's value field
	OldName        string
	NewName        string
	Strategy       Strategy

	is64  bool
	order binary.ByteOrder

	dynstrOffset  uint64
	dynstrOldSize uint64
	oldNameOffset uint64 // offset of OldName within .dynstr, as of plan time

	// Fields used only by the append strategy.
	appendAt            uint64 // file offset at which "new_name\0" is written
	strszEntryOffset    uint64
	shdrSizeFieldOffset uint64
	shdrSizeFieldWidth  int
}

// PlanReplace selects the first DT_NEEDED entry (in segment order) whose
// current string equals oldName and decides which rewrite strategy fits
// newName. It never mutates img.
func PlanReplace(img *elfimage.Image, oldName, newName string) (*Plan, error) {
	if oldName == "" || newName == "" {
		return nil, xerrors.NewPatcherError("plan replace", fmt.Errorf("library names must be non-empty"))
	}

	entries, err := img.DynamicEntries()
	if err != nil {
		return nil, xerrors.NewPatcherError("plan replace", err)
	}
	dynstr, err := img.DynStringTable()
	if err != nil {
		return nil, xerrors.NewPatcherError("plan replace", err)
	}

	var target *elfimage.DynamicEntry
	for i := range entries {
		if entries[i].Tag != elf.DT_NEEDED {
			continue
		}
		name, err := img.StringAt(dynstr, uint32(entries[i].Val))
		if err != nil {
			continue
		}
		if name == oldName {
			target = &entries[i]
			break
		}
	}
	if target == nil {
		return nil, xerrors.NewPatcherError("plan replace", fmt.Errorf("DT_NEEDED entry %q not found", oldName))
	}

	plan := &Plan{
		DynEntryOffset: target.Offset,
		OldName:        oldName,
		NewName:        newName,
		is64:           img.Is64(),
		order:          img.ByteOrder(),
		dynstrOffset:   dynstr.Offset,
		dynstrOldSize:  dynstr.Size,
		oldNameOffset:  target.Val,
	}

	if len(newName) <= len(oldName) {
		plan.Strategy = InPlace
		return plan, nil
	}

	plan.Strategy = AppendToStrtab
	extra := uint64(len(newName) + 1)
	if !dynstrIsExtendable(img, dynstr, extra) {
		return nil, xerrors.NewPatcherError("plan replace",
			fmt.Errorf("replacement %q does not fit and .dynstr cannot be grown without moving sections", newName))
	}
	plan.appendAt = dynstr.Offset + dynstr.Size

	var strszEntry *elfimage.DynamicEntry
	for i := range entries {
		if entries[i].Tag == elf.DT_STRSZ {
			strszEntry = &entries[i]
			break
		}
	}
	if strszEntry == nil {
		return nil, xerrors.NewPatcherError("plan replace", fmt.Errorf("DT_STRSZ entry not found"))
	}
	plan.strszEntryOffset = strszEntry.Offset

	entryOffset := img.Header.Shoff + uint64(dynstr.Index)*uint64(img.Header.Shentsize)
	if plan.is64 {
		plan.shdrSizeFieldOffset = entryOffset + 32
		plan.shdrSizeFieldWidth = 8
	} else {
		plan.shdrSizeFieldOffset = entryOffset + 20
		plan.shdrSizeFieldWidth = 4
	}

	return plan, nil
}

// dynstrIsExtendable reports whether growing .dynstr by extra bytes would
// not overlap the next section in file-offset order — i.e. .dynstr is
// either the last section in the file, or there is enough padding before
// whatever follows it.
func dynstrIsExtendable(img *elfimage.Image, dynstr *elfimage.SectionHeader, extra uint64) bool {
	end := dynstr.Offset + dynstr.Size
	nextOffset := uint64(len(img.Raw))
	for i := range img.Sections {
		off := img.Sections[i].Offset
		if off > dynstr.Offset && off < nextOffset {
			nextOffset = off
		}
	}
	return end+extra <= nextOffset
}

// Apply performs the edit described by plan against raw (the full file
// image the plan was computed from) and returns the patched buffer. raw is
// never mutated in place; the returned slice shares no backing array with
// raw.
func Apply(raw []byte, plan *Plan) ([]byte, error) {
	switch plan.Strategy {
	case InPlace:
		return applyInPlace(raw, plan)
	case AppendToStrtab:
		return applyAppend(raw, plan)
	default:
		return nil, xerrors.NewPatcherError("apply", fmt.Errorf("unknown strategy %v", plan.Strategy))
	}
}

func applyInPlace(raw []byte, plan *Plan) ([]byte, error) {
	out := make([]byte, len(raw))
	copy(out, raw)

	slotStart := plan.dynstrOffset + plan.oldNameOffset
	oldLen := len(plan.OldName)
	newLen := len(plan.NewName)
	if int(slotStart)+oldLen+1 > len(out) {
		return nil, xerrors.NewPatcherError("apply in-place", fmt.Errorf("old string slot runs past end of file"))
	}
	if !bytes.Equal(out[slotStart:slotStart+uint64(oldLen)], []byte(plan.OldName)) {
		return nil, xerrors.NewPatcherError("apply in-place", fmt.Errorf("string table contents changed since plan was computed"))
	}

	copy(out[slotStart:], plan.NewName)
	for i := newLen; i <= oldLen; i++ {
		out[int(slotStart)+i] = 0
	}

	// DT_NEEDED's value (a .dynstr offset) is unchanged by design — only
	// the bytes at that offset moved.
	return out, nil
}

func applyAppend(raw []byte, plan *Plan) ([]byte, error) {
	extra := len(plan.NewName) + 1
	newSize := len(raw)
	if grown := int(plan.appendAt) + extra; grown > newSize {
		newSize = grown
	}

	out := make([]byte, newSize)
	copy(out, raw)

	copy(out[plan.appendAt:], plan.NewName)
	out[int(plan.appendAt)+len(plan.NewName)] = 0

	newDynstrSize := plan.dynstrOldSize + uint64(extra)
	newNeededOffset := plan.dynstrOldSize

	if err := writeWord(out, plan.DynEntryOffset, wordWidth(plan.is64), plan.order, newNeededOffset); err != nil {
		return nil, xerrors.NewPatcherError("apply append", err)
	}
	if err := writeWord(out, plan.strszEntryOffset, wordWidth(plan.is64), plan.order, newDynstrSize); err != nil {
		return nil, xerrors.NewPatcherError("apply append", err)
	}
	if err := writeWord(out, plan.shdrSizeFieldOffset, plan.shdrSizeFieldWidth, plan.order, newDynstrSize); err != nil {
		return nil, xerrors.NewPatcherError("apply append", err)
	}
	return out, nil
}

func wordWidth(is64 bool) int {
	if is64 {
		return 8
	}
	return 4
}

// writeWord writes val into out at off, using width bytes (4 or 8) and the
// given byte order, failing rather than panicking if the write runs past
// the end of out.
func writeWord(out []byte, off uint64, width int, order binary.ByteOrder, val uint64) error {
	if int(off)+width > len(out) {
		return fmt.Errorf("write at offset 0x%x width %d runs past end of file", off, width)
	}
	switch width {
	case 4:
		order.PutUint32(out[off:], uint32(val))
	case 8:
		order.PutUint64(out[off:], val)
	default:
		return fmt.Errorf("unsupported word width %d", width)
	}
	return nil
}
