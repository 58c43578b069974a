// Copyright 2019 The UNICORE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file

// Package symview projects a parsed ELF image (internal/elfimage) into the
// fields the analyzer actually reasons about: needed libraries, SONAME,
// defined dynamic symbols with their version labels, and undefined dynamic
// symbols with the (library, version) they require. This is the
// "SymbolView" of the design.
package symview

import (
	"debug/elf"
	"fmt"

	"unrepair/internal/elfimage"
	"unrepair/internal/xerrors"
)

// VersionRef names the library and, optionally, the version an undefined
// symbol requires.
type VersionRef struct {
	Library string
	Version string // empty if the symbol carries no version requirement
}

// SymbolView is the ELF identity plus the derived symbol/version tables
// the analyzer cross-checks between extension, bundled, and system images.
type SymbolView struct {
	Class      elf.Class
	Data       elf.Data
	OSABI      elf.OSABI
	Machine    elf.Machine
	Needed     []string // DT_NEEDED basenames, insertion order, duplicates preserved
	SONAME     string
	HasSONAME  bool
	Defined    map[string]map[string]struct{} // symbol -> set of version labels ("" excluded; empty set = unversioned)
	Undefined  map[string]VersionRef          // symbol -> what it requires
}

// Build projects img into a SymbolView.
func Build(img *elfimage.Image) (*SymbolView, error) {
	sv := &SymbolView{
		Class:     img.Header.Class,
		Data:      img.Header.Data,
		OSABI:     img.Header.OSABI,
		Machine:   img.Header.Machine,
		Defined:   make(map[string]map[string]struct{}),
		Undefined: make(map[string]VersionRef),
	}

	if err := sv.loadNeededAndSoname(img); err != nil {
		return nil, err
	}
	if err := sv.loadSymbols(img); err != nil {
		return nil, err
	}
	return sv, nil
}

func (sv *SymbolView) loadNeededAndSoname(img *elfimage.Image) error {
	entries, err := img.DynamicEntries()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	strtab, err := img.DynStringTable()
	if err != nil {
		// A dynamic segment with no .dynstr is malformed for our purposes,
		// but only if it actually declares NEEDED/SONAME entries.
		for _, e := range entries {
			if e.Tag == elf.DT_NEEDED || e.Tag == elf.DT_SONAME {
				return err
			}
		}
		return nil
	}

	for _, e := range entries {
		switch e.Tag {
		case elf.DT_NEEDED:
			name, err := img.StringAt(strtab, uint32(e.Val))
			if err != nil {
				return xerrors.NewElfParseError("resolve DT_NEEDED", err)
			}
			sv.Needed = append(sv.Needed, name)
		case elf.DT_SONAME:
			if sv.HasSONAME {
				continue // first DT_SONAME wins, per the design
			}
			name, err := img.StringAt(strtab, uint32(e.Val))
			if err != nil {
				return xerrors.NewElfParseError("resolve DT_SONAME", err)
			}
			sv.SONAME = name
			sv.HasSONAME = true
		}
	}
	return nil
}

func (sv *SymbolView) loadSymbols(img *elfimage.Image) error {
	syms, ok, err := img.DynSymbols()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	versyms, hasVersyms, err := img.VersionSymbols()
	if err != nil {
		return err
	}
	if hasVersyms && len(versyms) != len(syms) {
		return xerrors.NewElfParseError("project symbol versions",
			fmt.Errorf(".gnu.version has %d entries, .dynsym has %d", len(versyms), len(syms)))
	}

	verneedByIndex, err := buildVerneedIndex(img)
	if err != nil {
		return err
	}
	verdefByIndex, err := buildVerdefIndex(img)
	if err != nil {
		return err
	}

	for _, s := range syms {
		if s.Name == "" {
			continue
		}
		bind := s.Bind()
		if bind != elf.STB_GLOBAL && bind != elf.STB_WEAK {
			continue
		}

		var rawIdx uint16
		if hasVersyms {
			rawIdx = versyms[s.Index] &^ elfimage.VersymHidden
		}

		if s.Undefined() {
			ref := VersionRef{}
			if rawIdx != elfimage.VerNdxLocal && rawIdx != elfimage.VerNdxGlobal {
				if aux, ok := verneedByIndex[rawIdx]; ok {
					ref = VersionRef{Library: aux.library, Version: aux.version}
				}
			}
			sv.Undefined[s.Name] = ref
		} else {
			set, ok := sv.Defined[s.Name]
			if !ok {
				set = make(map[string]struct{})
				sv.Defined[s.Name] = set
			}
			if rawIdx != elfimage.VerNdxLocal && rawIdx != elfimage.VerNdxGlobal {
				if name, ok := verdefByIndex[rawIdx]; ok {
					set[name] = struct{}{}
				}
			}
		}
	}
	return nil
}

type verneedTarget struct {
	library string
	version string
}

func buildVerneedIndex(img *elfimage.Image) (map[uint16]verneedTarget, error) {
	table, ok, err := img.VerneedTable()
	if err != nil {
		return nil, err
	}
	out := make(map[uint16]verneedTarget)
	if !ok {
		return out, nil
	}
	for _, vn := range table {
		for _, aux := range vn.Aux {
			out[aux.Other&^elfimage.VersymHidden] = verneedTarget{library: vn.Library, version: aux.Name}
		}
	}
	return out, nil
}

func buildVerdefIndex(img *elfimage.Image) (map[uint16]string, error) {
	table, ok, err := img.VerdefTable()
	if err != nil {
		return nil, err
	}
	out := make(map[uint16]string)
	if !ok {
		return out, nil
	}
	for _, vd := range table {
		if len(vd.Aux) == 0 {
			continue
		}
		out[vd.Ndx] = vd.Aux[0].Name // ignore inherited/base aux entries beyond the first
	}
	return out, nil
}
