// Copyright 2019 The UNICORE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file

// Package clog renders the progress and diagnostic lines the CLI prints
// while it works, in the same shape as the teacher toolkit's u.PrintErr /
// u.PrintOk / u.PrintWarning / u.PrintInfo / u.PrintHeader1 helpers built on
// github.com/fatih/color, plus a Stage banner grounded on the Rust
// original's stage() helper used by the wheel workflow.
package clog

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// ColorMode mirrors the CLI's --color {auto,always,never} flag.
type ColorMode int

const (
	ColorAuto ColorMode = iota
	ColorAlways
	ColorNever
)

func ParseColorMode(s string) (ColorMode, error) {
	switch s {
	case "", "auto":
		return ColorAuto, nil
	case "always":
		return ColorAlways, nil
	case "never":
		return ColorNever, nil
	default:
		return ColorAuto, fmt.Errorf("unknown color mode %q", s)
	}
}

// Use resolves the mode against whether stderr is a terminal, and applies
// it to the fatih/color package global so every color.*SprintFunc call
// below honors it.
func Use(mode ColorMode) {
	switch mode {
	case ColorAlways:
		color.NoColor = false
	case ColorNever:
		color.NoColor = true
	default:
		color.NoColor = !term.IsTerminal(int(os.Stderr.Fd()))
	}
}

var (
	errColor  = color.New(color.FgRed, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	infoColor = color.New(color.FgBlue, color.Bold)
	okColor   = color.New(color.FgGreen, color.Bold)
	stageCol  = color.New(color.FgCyan, color.Bold)
)

// PrintErr reports a fatal condition to stderr. Callers that must stop the
// process do so themselves; PrintErr never calls os.Exit.
func PrintErr(err error) {
	_, _ = errColor.Fprint(os.Stderr, "ERROR")
	fmt.Fprintf(os.Stderr, ": %s\n", err)
}

// PrintWarning reports a non-fatal condition to stderr.
func PrintWarning(msg string) {
	_, _ = warnColor.Fprint(os.Stderr, "WARN")
	fmt.Fprintf(os.Stderr, ": %s\n", msg)
}

// PrintInfo reports progress to stderr.
func PrintInfo(msg string) {
	_, _ = infoColor.Fprint(os.Stderr, "INFO")
	fmt.Fprintf(os.Stderr, ": %s\n", msg)
}

// PrintOk reports a successful step to stderr.
func PrintOk(msg string) {
	_, _ = okColor.Fprint(os.Stderr, "OK")
	fmt.Fprintf(os.Stderr, ": %s\n", msg)
}

// PrintHeader1 prints a top-level banner, e.g. "(*) RUN WHEEL WORKFLOW".
func PrintHeader1(msg string) {
	_, _ = infoColor.Fprintln(os.Stderr, msg)
}

// Stage announces a workflow phase, e.g. "Discovering wheel contents".
// Grounded on the Rust implementation's stage() helper.
func Stage(name string) {
	_, _ = stageCol.Fprint(os.Stderr, "==>")
	fmt.Fprintf(os.Stderr, " %s\n", name)
}
