// Copyright 2019 The UNICORE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file

package wheel

import (
	"debug/elf"
	"sort"

	"unrepair/internal/elfimage"
)

// PruneBundled extends spec.md §4.6 step 5's flat removal list into a
// fixed-point closure, grounded on original_source's
// remove_safely_unneeded_bundled: a bundled library is only actually
// deleted once nothing left standing (an extension that couldn't be
// patched, or another bundled library not itself being removed) still
// declares it as a DT_NEEDED. directlyUnlinked are the bundled paths whose
// sole referencing extension was successfully patched away from them; they
// seed the set of removal candidates but are not removed outright, since
// some other surviving extension may still need the same library by name.
// allBundled and survivingExtensions are every file of that kind still on
// disk. Returns the final set of paths safe to delete.
func PruneBundled(directlyUnlinked, allBundled, survivingExtensions []string) ([]string, error) {
	identities := make(map[string]libraryIdentity, len(allBundled))
	for _, p := range allBundled {
		id, err := identify(p)
		if err != nil {
			return nil, err
		}
		identities[p] = id
	}

	candidate := make(map[string]bool, len(directlyUnlinked))
	for _, p := range directlyUnlinked {
		candidate[p] = true
	}
	removed := map[string]bool{}

	for {
		changed := false
		for _, path := range allBundled {
			if !candidate[path] || removed[path] {
				continue
			}
			if !stillNeeded(path, identities, allBundled, survivingExtensions, removed) {
				removed[path] = true
				changed = true
			}
		}
		// A bundled library that only a now-removed library depended on
		// becomes a candidate too, so its own necessity gets re-checked.
		for _, path := range allBundled {
			if candidate[path] {
				continue
			}
			for removedPath := range removed {
				raw, err := readFileFunc(removedPath)
				if err != nil {
					continue
				}
				if referencesLibrary(raw, identities[path]) {
					candidate[path] = true
					changed = true
					break
				}
			}
		}
		if !changed {
			break
		}
	}

	var out []string
	for p := range removed {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func stillNeeded(candidate string, identities map[string]libraryIdentity, allBundled, survivingExtensions []string, removed map[string]bool) bool {
	id := identities[candidate]

	for _, ext := range survivingExtensions {
		raw, err := readFileFunc(ext)
		if err != nil {
			continue
		}
		if referencesLibrary(raw, id) {
			return true
		}
	}
	for _, other := range allBundled {
		if other == candidate || removed[other] {
			continue
		}
		raw, err := readFileFunc(other)
		if err != nil {
			continue
		}
		if referencesLibrary(raw, id) {
			return true
		}
	}
	return false
}

func referencesLibrary(raw []byte, target libraryIdentity) bool {
	img, err := elfimage.Read(raw)
	if err != nil {
		return false
	}
	entries, err := img.DynamicEntries()
	if err != nil {
		return false
	}
	dynstr, err := img.DynStringTable()
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.Tag != elf.DT_NEEDED {
			continue
		}
		name, err := img.StringAt(dynstr, uint32(e.Val))
		if err != nil {
			continue
		}
		if name == target.basename || (target.hasSname && name == target.soname) {
			return true
		}
	}
	return false
}
