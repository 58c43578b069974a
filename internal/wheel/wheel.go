// Copyright 2019 The UNICORE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file

// Package wheel implements WheelMatcher: discovering compiled extensions
// and vendored shared libraries inside an unpacked wheel, pairing each
// extension's DT_NEEDED entries against those bundled libraries, and
// resolving a system-provided replacement for each pair.
package wheel

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"unrepair/internal/elfimage"
	"unrepair/internal/symview"
	"unrepair/internal/xerrors"
)

// extensionSuffixRE matches the interpreter/platform tag CPython (and
// compatible interpreters) insert before the .so suffix of a compiled
// extension module, e.g. "_speedups.cpython-311-x86_64-linux-gnu.so" or
// "_speedups.abi3.so".
var extensionSuffixRE = regexp.MustCompile(`\.(cpython-[0-9]+[a-z]*|pypy[0-9_]*|abi3)(-[\w.-]+)?\.so$`)

// bundledLibraryRE matches the generic shared-library naming convention:
// "lib<name>.so" optionally followed by a version suffix.
var bundledLibraryRE = regexp.MustCompile(`^lib[^/]+\.so(\.[0-9]+)*$`)

// IsExtension reports whether path names a compiled extension module.
func IsExtension(path string) bool {
	return extensionSuffixRE.MatchString(filepath.Base(path))
}

// IsBundledLibrary reports whether path names a vendored shared library:
// its basename matches lib*.so* and it lives under a vendor directory
// (the ".libs" convention every major wheel-repair tool uses).
func IsBundledLibrary(path string) bool {
	if !bundledLibraryRE.MatchString(filepath.Base(path)) {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if strings.HasSuffix(part, ".libs") {
			return true
		}
	}
	return false
}

// Discover walks root (an unpacked wheel) and classifies every regular
// file as an extension, a bundled library, or neither.
func Discover(root string) (extensions, bundled []string, err error) {
	err = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		switch {
		case IsExtension(path):
			extensions = append(extensions, path)
		case IsBundledLibrary(path):
			bundled = append(bundled, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, xerrors.NewWorkflowError("discover wheel contents", err)
	}
	sort.Strings(extensions)
	sort.Strings(bundled)
	return extensions, bundled, nil
}

// Pair is one (extension, needed_name, bundled_file) triple, per spec.md
// §4.5.
type Pair struct {
	Extension  string
	NeededName string
	Bundled    string
}

// libraryIdentity is what a bundled or system candidate file is known by:
// its on-disk basename and, if present, its own SONAME.
type libraryIdentity struct {
	path     string
	basename string
	soname   string
	hasSname bool
}

func identify(path string) (libraryIdentity, error) {
	raw, err := readFileFunc(path)
	if err != nil {
		return libraryIdentity{}, xerrors.NewWorkflowError("read candidate library", err)
	}
	img, err := elfimage.Read(raw)
	if err != nil {
		return libraryIdentity{}, xerrors.NewWorkflowError("parse candidate library", err)
	}
	sv, err := symview.Build(img)
	if err != nil {
		return libraryIdentity{}, xerrors.NewWorkflowError("project candidate library", err)
	}
	return libraryIdentity{
		path:     path,
		basename: filepath.Base(path),
		soname:   sv.SONAME,
		hasSname: sv.HasSONAME,
	}, nil
}

// readFileFunc is overridable in tests; production code reads from disk.
var readFileFunc = defaultReadFile

func defaultReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// BuildPairs matches every extension's DT_NEEDED list against the
// discovered bundled libraries, by basename or SONAME equality (spec.md
// §4.5's primary rule).
func BuildPairs(extensions, bundled []string) ([]Pair, error) {
	identities := make([]libraryIdentity, 0, len(bundled))
	for _, path := range bundled {
		id, err := identify(path)
		if err != nil {
			return nil, err
		}
		identities = append(identities, id)
	}

	var pairs []Pair
	for _, extPath := range extensions {
		raw, err := readFileFunc(extPath)
		if err != nil {
			return nil, xerrors.NewWorkflowError("read extension", err)
		}
		img, err := elfimage.Read(raw)
		if err != nil {
			return nil, xerrors.NewWorkflowError("parse extension", err)
		}
		sv, err := symview.Build(img)
		if err != nil {
			return nil, xerrors.NewWorkflowError("project extension", err)
		}

		for _, needed := range sv.Needed {
			match := findBundled(identities, needed)
			if match == "" {
				continue // not every DT_NEEDED is a bundled library
			}
			pairs = append(pairs, Pair{Extension: extPath, NeededName: needed, Bundled: match})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Extension != pairs[j].Extension {
			return pairs[i].Extension < pairs[j].Extension
		}
		return pairs[i].NeededName < pairs[j].NeededName
	})
	return pairs, nil
}

func findBundled(identities []libraryIdentity, needed string) string {
	for _, id := range identities {
		if id.hasSname && id.soname == needed {
			return id.path
		}
	}
	for _, id := range identities {
		if id.basename == needed {
			return id.path
		}
	}
	// Soname-prefix fallback: auditwheel-style bundled names carry a
	// content hash before the suffix (libfoo-<hash>.so.1); strip it and
	// compare the stem, per original_source's soname_prefix_match.
	neededStem := sonameStem(needed)
	for _, id := range identities {
		if sonameStem(id.basename) == neededStem {
			return id.path
		}
	}
	return ""
}

// sonameStem strips an auditwheel-style content-hash suffix
// ("-xxxxxxxx" immediately before ".so...") from a library filename.
var hashSuffixRE = regexp.MustCompile(`-[0-9a-f]{8,}(\.so(\.[0-9]+)*)$`)

func sonameStem(name string) string {
	return hashSuffixRE.ReplaceAllString(name, "$1")
}
