// Copyright 2019 The UNICORE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file

// Package analyzer implements the ABI-plausibility cross-check between an
// extension's undefined symbols, the bundled library it currently links,
// and a candidate system library: the four static facts recoverable from
// ELF tables that guarantee a dynamic-link failure if violated (identity
// mismatch, missing export, missing symbol version, SONAME skew). It never
// aborts on a finding — every check in the design's §4.3 list runs to
// completion so callers get the full diagnostic list in one pass.
package analyzer

import (
	"fmt"
	"path/filepath"
	"sort"

	"unrepair/internal/symview"
)

// Severity classifies a Finding.
type Severity int

const (
	Info Severity = iota
	Warn
	Error
)

func (s Severity) String() string {
	switch s {
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Category names which subsystem raised a Finding.
type Category int

const (
	Elf Category = iota
	Workflow
)

func (c Category) String() string {
	switch c {
	case Elf:
		return "Elf"
	case Workflow:
		return "Workflow"
	default:
		return "Unknown"
	}
}

// Finding is one diagnostic emitted by a check.
type Finding struct {
	Severity Severity
	Category Category
	Symbol   string // empty if not symbol-specific
	Version  string // empty if not version-specific
	Message  string
}

// Verdict is the binary result of a check: COMPATIBLE iff no ERROR finding
// was produced.
type Verdict int

const (
	Incompatible Verdict = iota
	Compatible
)

func (v Verdict) String() string {
	if v == Compatible {
		return "COMPATIBLE"
	}
	return "INCOMPATIBLE"
}

// Result is the outcome of one Analyze call.
type Result struct {
	Findings []Finding
	Verdict  Verdict
}

// Analyze cross-checks ext (the extension), bun (the bundled library it
// currently needs), and sys (the candidate system library), identifying
// the bundled library by bundledName — its SONAME if it has one, else its
// on-disk basename, matching the string WheelMatcher used to pair it with
// the extension's DT_NEEDED entry.
func Analyze(ext, bun, sys *symview.SymbolView, bundledName string) Result {
	var findings []Finding

	// 1. ELF identity.
	if bun.Class != sys.Class || bun.Data != sys.Data || bun.OSABI != sys.OSABI || bun.Machine != sys.Machine {
		findings = append(findings, Finding{
			Severity: Error,
			Category: Elf,
			Message:  "ELF identity mismatch between bundled and system library",
		})
	}

	// 2. Relevant symbol set: undefined extension symbols that come from
	// the bundled library, matched by basename equality against the
	// requiring-library name recorded in the extension's own version
	// requirements.
	relevant := make([]string, 0, len(ext.Undefined))
	for name, ref := range ext.Undefined {
		if ref.Library == "" {
			continue
		}
		if filepath.Base(ref.Library) == filepath.Base(bundledName) {
			relevant = append(relevant, name)
		}
	}
	sort.Strings(relevant)

	// 3. Missing exports.
	for _, name := range relevant {
		if _, ok := sys.Defined[name]; !ok {
			findings = append(findings, Finding{
				Severity: Error,
				Category: Elf,
				Symbol:   name,
				Message:  fmt.Sprintf("symbol %q needed by extension but not exported by system library", name),
			})
		}
	}

	// 4. Missing required versions.
	for _, name := range relevant {
		ref := ext.Undefined[name]
		if ref.Version == "" {
			continue
		}
		defs, ok := sys.Defined[name]
		if !ok {
			continue // already reported as a missing export above
		}
		if versionSatisfied(defs, ref.Version) {
			continue
		}
		findings = append(findings, Finding{
			Severity: Error,
			Category: Elf,
			Symbol:   name,
			Version:  ref.Version,
			Message:  fmt.Sprintf("required version %q of symbol %q not provided by system library", ref.Version, name),
		})
	}

	// 5. SONAME mismatch. A missing SONAME on either side is not, by
	// itself, an error.
	if bun.HasSONAME && sys.HasSONAME && bun.SONAME != sys.SONAME {
		findings = append(findings, Finding{
			Severity: Warn,
			Category: Elf,
			Message:  fmt.Sprintf("SONAME mismatch: bundled has %q, system has %q", bun.SONAME, sys.SONAME),
		})
	}

	verdict := Compatible
	for _, f := range findings {
		if f.Severity == Error {
			verdict = Incompatible
			break
		}
	}
	return Result{Findings: findings, Verdict: verdict}
}

// versionSatisfied implements the design's Open Question resolution: an
// unversioned definition on the system side satisfies any version
// request. It does not, in the other direction, let a required-but-absent
// version fall back to an unversioned bundled definition — that
// possibility isn't reachable here since defs comes from the system
// library, not the bundled one.
func versionSatisfied(defs map[string]struct{}, required string) bool {
	if _, ok := defs[required]; ok {
		return true
	}
	if len(defs) == 0 {
		// sys.Defined[name] exists (checked by the caller) but with no
		// version labels at all: an unversioned definition.
		return true
	}
	return false
}
