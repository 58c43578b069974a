// Copyright 2019 The UNICORE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file

package wheel

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/AlecAivazis/survey/v2"
	"golang.org/x/term"

	"unrepair/internal/xerrors"
)

// SystemIndex resolves a needed library name to a user-supplied candidate
// file, per spec.md §4.5: explicit files are preferred over scanned
// directories, and within each group the first match by user-specified
// (files) or lexicographic (directories) order wins.
type SystemIndex struct {
	candidates []libraryIdentity // in preference order
}

// BuildSystemIndex reads every explicit file (in the order given) and
// every file under each directory (scanned recursively, entries visited
// in lexicographic order), in that priority order.
func BuildSystemIndex(files, dirs []string) (*SystemIndex, error) {
	idx := &SystemIndex{}
	for _, f := range files {
		id, err := identify(f)
		if err != nil {
			return nil, err
		}
		idx.candidates = append(idx.candidates, id)
	}

	var scanned []string
	for _, dir := range dirs {
		err := filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if !info.IsDir() {
				scanned = append(scanned, path)
			}
			return nil
		})
		if err != nil {
			return nil, xerrors.NewWorkflowError("scan system library directory", err)
		}
	}
	sort.Strings(scanned)
	for _, path := range scanned {
		img, err := elfCandidate(path)
		if err != nil {
			continue // non-ELF files under a scanned directory are skipped, not fatal
		}
		idx.candidates = append(idx.candidates, img)
	}
	return idx, nil
}

// elfCandidate identifies path, returning an error both for I/O failure
// and for a file that fails to parse as ELF, so callers scanning a
// directory can skip it.
func elfCandidate(path string) (libraryIdentity, error) {
	return identify(path)
}

// Resolve returns the highest-priority candidate satisfying neededName,
// preferring SONAME equality over basename equality, per spec.md §4.5,
// with the soname-prefix fallback from original_source tried last. A
// *xerrors.WorkflowError is returned both when nothing matches and when
// the prefix fallback matches more than one candidate (original_source's
// ambiguous-mapping rejection).
func (idx *SystemIndex) Resolve(neededName string) (string, error) {
	for _, c := range idx.candidates {
		if c.hasSname && c.soname == neededName {
			return c.path, nil
		}
	}
	for _, c := range idx.candidates {
		if c.basename == neededName {
			return c.path, nil
		}
	}
	stem := sonameStem(neededName)
	var matches []string
	for _, c := range idx.candidates {
		if sonameStem(c.basename) == stem {
			matches = append(matches, c.path)
		}
	}
	switch len(matches) {
	case 0:
		return "", xerrors.NewWorkflowError("resolve system candidate", fmt.Errorf("no system candidate found for %q", neededName))
	case 1:
		return matches[0], nil
	default:
		return "", xerrors.NewWorkflowError("resolve system candidate",
			fmt.Errorf("ambiguous system candidates for %q: %v", neededName, matches))
	}
}

// ResolveInteractive behaves like Resolve, except that an ambiguous
// prefix-fallback match is resolved by an interactive survey prompt
// instead of being rejected outright, unless assumeYes is set or stdin
// isn't a terminal — in either of those cases it falls back to the first
// candidate in priority order, matching the documented default.
func (idx *SystemIndex) ResolveInteractive(neededName string, assumeYes bool) (string, error) {
	path, err := idx.Resolve(neededName)
	if err == nil {
		return path, nil
	}

	stem := sonameStem(neededName)
	var matches []string
	for _, c := range idx.candidates {
		if sonameStem(c.basename) == stem {
			matches = append(matches, c.path)
		}
	}
	if len(matches) < 2 {
		return "", err // not the ambiguous case; propagate the original error
	}
	if assumeYes || !term.IsTerminal(int(os.Stdin.Fd())) {
		return matches[0], nil
	}

	var chosen string
	prompt := &survey.Select{
		Message: fmt.Sprintf("Multiple system candidates match %q, pick one:", neededName),
		Options: matches,
	}
	if askErr := survey.AskOne(prompt, &chosen); askErr != nil {
		return "", xerrors.NewWorkflowError("resolve system candidate", askErr)
	}
	return chosen, nil
}
