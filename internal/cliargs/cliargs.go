// Copyright 2019 The UNICORE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file

// Package cliargs is unrepair's argument-parsing layer, built on
// github.com/akamensky/argparse the same way the rest of this toolchain's
// subcommands are: a typed Kind constant selects which argparse.Parser
// method to call, and the resulting pointer is stashed in a map keyed by
// flag name so callers dereference it by name instead of threading a
// pointer through every function signature.
package cliargs

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
)

// Kind selects which argparse flag constructor InitArgParse calls.
type Kind int

const (
	STRING Kind = iota
	BOOL
	INT
)

// Arguments holds every flag registered across a command's subparsers,
// indexed by long flag name.
type Arguments struct {
	StringArg     map[string]*string
	BoolArg       map[string]*bool
	IntArg        map[string]*int
	StringListArg map[string]*[]string
}

// NewArguments returns an Arguments with its maps allocated.
func NewArguments() *Arguments {
	return &Arguments{
		StringArg:     make(map[string]*string),
		BoolArg:       make(map[string]*bool),
		IntArg:        make(map[string]*int),
		StringListArg: make(map[string]*[]string),
	}
}

// InitArgParse registers one flag of kind on p and records the pointer
// argparse fills in under name.
func (args *Arguments) InitArgParse(p *argparse.Command, kind Kind, short, name string, opts *argparse.Options) {
	switch kind {
	case STRING:
		args.StringArg[name] = p.String(short, name, opts)
	case BOOL:
		args.BoolArg[name] = p.Flag(short, name, opts)
	case INT:
		args.IntArg[name] = p.Int(short, name, opts)
	}
}

// InitArgParseList registers a repeatable string flag (e.g. --system-lib,
// passed more than once) and records the resulting slice pointer.
func (args *Arguments) InitArgParseList(p *argparse.Command, short, name string, opts *argparse.Options) {
	args.StringListArg[name] = p.StringList(short, name, opts)
}

// ParserWrapper runs p.Parse against argv, printing argparse's own usage
// text on failure the way the teacher's ParserWrapper does.
func ParserWrapper(p *argparse.Parser, argv []string) error {
	if err := p.Parse(argv); err != nil {
		fmt.Fprint(os.Stderr, p.Usage(err))
		return err
	}
	return nil
}

// Str dereferences a registered string flag, returning "" if it was never
// registered (a programmer error, not a user-facing one).
func (args *Arguments) Str(name string) string {
	if p, ok := args.StringArg[name]; ok && p != nil {
		return *p
	}
	return ""
}

// BoolVal dereferences a registered bool flag.
func (args *Arguments) BoolVal(name string) bool {
	if p, ok := args.BoolArg[name]; ok && p != nil {
		return *p
	}
	return false
}

// IntVal dereferences a registered int flag.
func (args *Arguments) IntVal(name string) int {
	if p, ok := args.IntArg[name]; ok && p != nil {
		return *p
	}
	return 0
}

// StrList dereferences a registered repeatable string flag.
func (args *Arguments) StrList(name string) []string {
	if p, ok := args.StringListArg[name]; ok && p != nil {
		return *p
	}
	return nil
}
