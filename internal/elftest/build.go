// Copyright 2019 The UNICORE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file

// Package elftest builds synthetic ELF64 little-endian shared-object
// images in memory, for exercising internal/elfimage, internal/symview,
// internal/analyzer, and internal/patcher without shipping binary fixture
// files.
package elftest

import (
	"debug/elf"
	"encoding/binary"
)

// Sym describes one dynamic symbol to place in a built image.
type Sym struct {
	Name string

	// Defined symbols are exported (SHN_UNDEF is never used for them).
	// Version, if non-empty, is the Verdef name this symbol satisfies.
	Defined bool
	Version string

	// Undefined symbols import from another library. ReqLibrary, if
	// non-empty, is recorded as the requiring library in .gnu.version_r.
	// ReqVersion, if non-empty, is the version required from it.
	ReqLibrary string
	ReqVersion string
}

// Builder accumulates the inputs to a synthetic image.
type Builder struct {
	Needed  []string
	SONAME  string
	Symbols []Sym

	// DynstrSlack reserves this many unused bytes after .dynstr's real
	// content before the next section begins, letting a test exercise the
	// patcher's append-to-strtab strategy. Zero (the default) packs
	// sections tightly, which only the in-place strategy can satisfy.
	DynstrSlack int
}

var order = binary.LittleEndian

type strTab struct {
	buf     []byte
	offsets map[string]uint32
}

func newStrTab() *strTab {
	return &strTab{buf: []byte{0}, offsets: map[string]uint32{"": 0}}
}

func (t *strTab) add(s string) uint32 {
	if off, ok := t.offsets[s]; ok {
		return off
	}
	off := uint32(len(t.buf))
	t.buf = append(t.buf, []byte(s)...)
	t.buf = append(t.buf, 0)
	t.offsets[s] = off
	return off
}

// Build renders the accumulated spec into a full ELF64-LE image buffer.
func (b Builder) Build() []byte {
	dynstr := newStrTab()
	shstrtab := newStrTab()

	for _, lib := range b.Needed {
		dynstr.add(lib)
	}
	if b.SONAME != "" {
		dynstr.add(b.SONAME)
	}

	nextVerIdx := uint16(2)
	verIndex := map[string]uint16{}
	assignIdx := func(key string) uint16 {
		if idx, ok := verIndex[key]; ok {
			return idx
		}
		idx := nextVerIdx
		nextVerIdx++
		verIndex[key] = idx
		return idx
	}

	type verdefEnt struct {
		idx  uint16
		name string
	}
	var verdefs []verdefEnt
	seenVerdef := map[string]bool{}

	type verneedAux struct {
		idx     uint16
		version string
	}
	type verneedEnt struct {
		library string
		aux     []verneedAux
	}
	var verneeds []verneedEnt
	verneedIdx := map[string]int{}

	for _, s := range b.Symbols {
		dynstr.add(s.Name)
		if s.Defined && s.Version != "" {
			key := "d:" + s.Version
			idx := assignIdx(key)
			if !seenVerdef[s.Version] {
				seenVerdef[s.Version] = true
				verdefs = append(verdefs, verdefEnt{idx: idx, name: s.Version})
				dynstr.add(s.Version)
			}
		}
		if !s.Defined && s.ReqLibrary != "" && s.ReqVersion != "" {
			key := "n:" + s.ReqLibrary + ":" + s.ReqVersion
			idx := assignIdx(key)
			dynstr.add(s.ReqLibrary)
			dynstr.add(s.ReqVersion)
			vi, ok := verneedIdx[s.ReqLibrary]
			if !ok {
				vi = len(verneeds)
				verneedIdx[s.ReqLibrary] = vi
				verneeds = append(verneeds, verneedEnt{library: s.ReqLibrary})
			}
			dup := false
			for _, a := range verneeds[vi].aux {
				if a.version == s.ReqVersion {
					dup = true
					break
				}
			}
			if !dup {
				verneeds[vi].aux = append(verneeds[vi].aux, verneedAux{idx: idx, version: s.ReqVersion})
			}
		}
	}

	// .dynsym + .gnu.version, entry 0 is the mandatory null symbol.
	var dynsym []byte
	var versyms []uint16
	dynsym = append(dynsym, make([]byte, 24)...)
	versyms = append(versyms, 0)

	for _, s := range b.Symbols {
		nameOff := dynstr.offsets[s.Name]
		info := byte(elf.STB_GLOBAL)<<4 | byte(elf.STT_FUNC)
		var shndx uint16 = 1
		if !s.Defined {
			shndx = uint16(elf.SHN_UNDEF)
		}
		ent := make([]byte, 24)
		order.PutUint32(ent[0:4], nameOff)
		ent[4] = info
		ent[5] = 0
		order.PutUint16(ent[6:8], shndx)
		order.PutUint64(ent[8:16], 0)
		order.PutUint64(ent[16:24], 0)
		dynsym = append(dynsym, ent...)

		var vidx uint16 = uint16(elfVerNdxGlobal)
		if s.Defined && s.Version != "" {
			vidx = verIndex["d:"+s.Version]
		} else if !s.Defined && s.ReqLibrary != "" && s.ReqVersion != "" {
			vidx = verIndex["n:"+s.ReqLibrary+":"+s.ReqVersion]
		}
		versyms = append(versyms, vidx)
	}

	var gnuVersion []byte
	for _, v := range versyms {
		buf := make([]byte, 2)
		order.PutUint16(buf, v)
		gnuVersion = append(gnuVersion, buf...)
	}

	// .gnu.version_d
	var gnuVerdef []byte
	for i, vd := range verdefs {
		entry := make([]byte, 20)
		order.PutUint16(entry[0:2], 1) // vd_version
		order.PutUint16(entry[2:4], 0) // vd_flags
		order.PutUint16(entry[4:6], vd.idx)
		order.PutUint16(entry[6:8], 1) // vd_cnt
		order.PutUint32(entry[8:12], 0)
		order.PutUint32(entry[12:16], 20) // vd_aux
		next := uint32(0)
		if i != len(verdefs)-1 {
			next = 28
		}
		order.PutUint32(entry[16:20], next)

		aux := make([]byte, 8)
		order.PutUint32(aux[0:4], dynstr.offsets[vd.name])
		order.PutUint32(aux[4:8], 0)

		gnuVerdef = append(gnuVerdef, entry...)
		gnuVerdef = append(gnuVerdef, aux...)
	}

	// .gnu.version_r
	var gnuVerneed []byte
	for i, vn := range verneeds {
		entry := make([]byte, 16)
		order.PutUint16(entry[0:2], 1) // vn_version
		order.PutUint16(entry[2:4], uint16(len(vn.aux)))
		order.PutUint32(entry[4:8], dynstr.offsets[vn.library])
		order.PutUint32(entry[8:12], 16) // vn_aux
		next := uint32(0)
		if i != len(verneeds)-1 {
			next = uint32(16 + 16*len(vn.aux))
		}
		order.PutUint32(entry[12:16], next)
		gnuVerneed = append(gnuVerneed, entry...)

		for j, aux := range vn.aux {
			a := make([]byte, 16)
			order.PutUint32(a[0:4], 0)
			order.PutUint16(a[4:6], 0)
			order.PutUint16(a[6:8], aux.idx)
			order.PutUint32(a[8:12], dynstr.offsets[aux.version])
			anext := uint32(0)
			if j != len(vn.aux)-1 {
				anext = 16
			}
			order.PutUint32(a[12:16], anext)
			gnuVerneed = append(gnuVerneed, a...)
		}
	}

	// Section layout: assign file offsets to every payload blob, in order,
	// then lay out the section header table after all of them.
	const ehdrSize = 64
	const phdrSize = 56
	const phdrOff = ehdrSize
	dataStart := phdrOff + phdrSize

	type blob struct {
		name string
		data []byte
	}
	blobs := []blob{
		{".dynstr", dynstr.buf},
		{".dynsym", dynsym},
		{".gnu.version", gnuVersion},
	}
	if len(verneeds) > 0 {
		blobs = append(blobs, blob{".gnu.version_r", gnuVerneed})
	}
	if len(verdefs) > 0 {
		blobs = append(blobs, blob{".gnu.version_d", gnuVerdef})
	}

	offsets := map[string]uint64{}
	cursor := uint64(dataStart)
	var payload []byte
	for _, bl := range blobs {
		offsets[bl.name] = cursor
		payload = append(payload, bl.data...)
		cursor += uint64(len(bl.data))
		if bl.name == ".dynstr" && b.DynstrSlack > 0 {
			payload = append(payload, make([]byte, b.DynstrSlack)...)
			cursor += uint64(b.DynstrSlack)
		}
	}

	// .dynamic, built after we know dynstr's final size.
	type dynEnt struct {
		tag elf.DynTag
		val uint64
	}
	var dyn []dynEnt
	for _, lib := range b.Needed {
		dyn = append(dyn, dynEnt{elf.DT_NEEDED, uint64(dynstr.offsets[lib])})
	}
	if b.SONAME != "" {
		dyn = append(dyn, dynEnt{elf.DT_SONAME, uint64(dynstr.offsets[b.SONAME])})
	}
	dyn = append(dyn, dynEnt{elf.DT_STRTAB, 0})
	dyn = append(dyn, dynEnt{elf.DT_STRSZ, uint64(len(dynstr.buf))})
	dyn = append(dyn, dynEnt{elf.DT_SYMTAB, 0})
	if len(verneeds) > 0 {
		dyn = append(dyn, dynEnt{elf.DT_VERNEED, 0})
		dyn = append(dyn, dynEnt{elf.DT_VERNEEDNUM, uint64(len(verneeds))})
	}
	if len(verdefs) > 0 {
		dyn = append(dyn, dynEnt{elf.DT_VERDEF, 0})
		dyn = append(dyn, dynEnt{elf.DT_VERDEFNUM, uint64(len(verdefs))})
	}
	dyn = append(dyn, dynEnt{elf.DT_NULL, 0})

	dynamicOff := cursor
	var dynamicBuf []byte
	for _, e := range dyn {
		ent := make([]byte, 16)
		order.PutUint64(ent[0:8], uint64(e.tag))
		order.PutUint64(ent[8:16], e.val)
		dynamicBuf = append(dynamicBuf, ent...)
	}
	payload = append(payload, dynamicBuf...)
	cursor += uint64(len(dynamicBuf))

	shstrtab.add(".dynstr")
	shstrtab.add(".dynsym")
	shstrtab.add(".gnu.version")
	if len(verneeds) > 0 {
		shstrtab.add(".gnu.version_r")
	}
	if len(verdefs) > 0 {
		shstrtab.add(".gnu.version_d")
	}
	shstrtab.add(".dynamic")
	shstrtab.add(".shstrtab")

	shstrtabOff := cursor
	payload = append(payload, shstrtab.buf...)
	cursor += uint64(len(shstrtab.buf))

	type secDesc struct {
		name    string
		typ     elf.SectionType
		off     uint64
		size    uint64
		entsize uint64
	}
	var secs []secDesc
	secs = append(secs, secDesc{}) // null section
	secs = append(secs, secDesc{".dynstr", elf.SHT_STRTAB, offsets[".dynstr"], uint64(len(dynstr.buf)), 0})
	secs = append(secs, secDesc{".dynsym", elf.SHT_DYNSYM, offsets[".dynsym"], uint64(len(dynsym)), 24})
	secs = append(secs, secDesc{".gnu.version", elf.SHT_GNU_VERSYM, offsets[".gnu.version"], uint64(len(gnuVersion)), 2})
	if len(verneeds) > 0 {
		secs = append(secs, secDesc{".gnu.version_r", elf.SHT_GNU_VERNEED, offsets[".gnu.version_r"], uint64(len(gnuVerneed)), 0})
	}
	if len(verdefs) > 0 {
		secs = append(secs, secDesc{".gnu.version_d", elf.SHT_GNU_VERDEF, offsets[".gnu.version_d"], uint64(len(gnuVerdef)), 0})
	}
	secs = append(secs, secDesc{".dynamic", elf.SHT_DYNAMIC, dynamicOff, uint64(len(dynamicBuf)), 16})
	secs = append(secs, secDesc{".shstrtab", elf.SHT_STRTAB, shstrtabOff, uint64(len(shstrtab.buf)), 0})
	shstrndx := len(secs) - 1

	shdrTableOff := uint64(dataStart) + uint64(len(payload))

	var shdrBuf []byte
	for _, s := range secs {
		ent := make([]byte, 64)
		order.PutUint32(ent[0:4], shstrtab.offsets[s.name])
		order.PutUint32(ent[4:8], uint32(s.typ))
		order.PutUint64(ent[8:16], 0) // flags
		order.PutUint64(ent[16:24], 0)
		order.PutUint64(ent[24:32], s.off)
		order.PutUint64(ent[32:40], s.size)
		order.PutUint32(ent[40:44], 0) // link
		order.PutUint32(ent[44:48], 0) // info
		order.PutUint64(ent[48:56], 1) // addralign
		order.PutUint64(ent[56:64], s.entsize)
		shdrBuf = append(shdrBuf, ent...)
	}

	out := make([]byte, ehdrSize)
	out[0], out[1], out[2], out[3] = 0x7f, 'E', 'L', 'F'
	out[4] = byte(elf.ELFCLASS64)
	out[5] = byte(elf.ELFDATA2LSB)
	out[6] = 1 // EI_VERSION
	out[7] = byte(elf.ELFOSABI_NONE)
	out[8] = 0

	order.PutUint16(out[16:18], uint16(elf.ET_DYN))
	order.PutUint16(out[18:20], uint16(elf.EM_X86_64))
	order.PutUint32(out[20:24], 1)
	order.PutUint64(out[24:32], 0) // e_entry
	order.PutUint64(out[32:40], uint64(phdrOff))
	order.PutUint64(out[40:48], shdrTableOff)
	order.PutUint32(out[48:52], 0)
	order.PutUint16(out[52:54], ehdrSize)
	order.PutUint16(out[54:56], phdrSize)
	order.PutUint16(out[56:58], 1) // e_phnum
	order.PutUint16(out[58:60], 64)
	order.PutUint16(out[60:62], uint16(len(secs)))
	order.PutUint16(out[62:64], uint16(shstrndx))

	phdr := make([]byte, phdrSize)
	order.PutUint32(phdr[0:4], uint32(elf.PT_DYNAMIC))
	order.PutUint32(phdr[4:8], uint32(elf.PF_R|elf.PF_W))
	order.PutUint64(phdr[8:16], dynamicOff)
	order.PutUint64(phdr[16:24], 0)
	order.PutUint64(phdr[24:32], 0)
	order.PutUint64(phdr[32:40], uint64(len(dynamicBuf)))
	order.PutUint64(phdr[40:48], uint64(len(dynamicBuf)))
	order.PutUint64(phdr[48:56], 8)

	out = append(out, phdr...)
	out = append(out, payload...)
	out = append(out, shdrBuf...)
	return out
}

const elfVerNdxGlobal = 1
