// Copyright 2019 The UNICORE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file

package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"

	"unrepair/internal/cliargs"
	"unrepair/internal/clog"
	"unrepair/internal/report"
	"unrepair/internal/workflow"
)

func main() {
	os.Exit(run(os.Args))
}

func run(argv []string) int {
	parser := argparse.NewParser("unrepair", "Undoes an auditwheel/delocate-style wheel repair by relinking against system libraries")
	checkCmd := parser.NewCommand("check", "Analyze (and optionally patch) one extension against one bundled and one system library")
	wheelCmd := parser.NewCommand("wheel", "Run the full unpack/match/patch/prune/repackage pipeline against a wheel")

	checkArgs := registerCheckArgs(checkCmd)
	wheelArgs := registerWheelArgs(wheelCmd)

	if err := cliargs.ParserWrapper(parser, argv); err != nil {
		return 2
	}

	switch {
	case checkCmd.Happened():
		return runCheckCommand(checkArgs)
	case wheelCmd.Happened():
		return runWheelCommand(wheelArgs)
	default:
		fmt.Fprintln(os.Stderr, parser.Usage(nil))
		return 2
	}
}

func registerCheckArgs(p *argparse.Command) *cliargs.Arguments {
	args := cliargs.NewArguments()
	args.InitArgParse(p, cliargs.STRING, "e", "extension", &argparse.Options{Required: true, Help: "Path to the compiled extension module"})
	args.InitArgParse(p, cliargs.STRING, "b", "bundled", &argparse.Options{Required: true, Help: "Path to the bundled (vendored) shared library"})
	args.InitArgParse(p, cliargs.STRING, "s", "system", &argparse.Options{Required: true, Help: "Path to the candidate system-provided shared library"})
	args.InitArgParse(p, cliargs.BOOL, "", "patch", &argparse.Options{Required: false, Default: false, Help: "Rewrite the extension's DT_NEEDED entry if the pair is COMPATIBLE"})
	args.InitArgParse(p, cliargs.STRING, "", "patch-needed-from", &argparse.Options{Required: false, Default: "soname", Help: "What to write into DT_NEEDED on patch: soname or system-path"})
	args.InitArgParse(p, cliargs.STRING, "o", "output", &argparse.Options{Required: false, Help: "Output path for the patched extension (required with --patch)"})
	args.InitArgParse(p, cliargs.BOOL, "v", "verbose", &argparse.Options{Required: false, Default: false, Help: "Show INFO-level findings too"})
	args.InitArgParse(p, cliargs.STRING, "", "format", &argparse.Options{Required: false, Default: "text", Help: "Report format: text or json"})
	args.InitArgParse(p, cliargs.STRING, "", "color", &argparse.Options{Required: false, Default: "auto", Help: "Color mode: auto, always, or never"})
	return args
}

func registerWheelArgs(p *argparse.Command) *cliargs.Arguments {
	args := cliargs.NewArguments()
	args.InitArgParse(p, cliargs.STRING, "w", "wheel", &argparse.Options{Required: true, Help: "Path to the input wheel"})
	args.InitArgParse(p, cliargs.STRING, "o", "output-wheel", &argparse.Options{Required: true, Help: "Path to write the repaired wheel"})
	args.InitArgParseList(p, "", "system-lib", &argparse.Options{Required: false, Help: "Explicit system library file (repeatable)"})
	args.InitArgParseList(p, "", "system-lib-dir", &argparse.Options{Required: false, Help: "Directory of system libraries to scan (repeatable)"})
	args.InitArgParse(p, cliargs.STRING, "", "workdir", &argparse.Options{Required: false, Help: "Scratch directory to unpack into (reused across runs against the same wheel)"})
	args.InitArgParse(p, cliargs.BOOL, "", "no-strict", &argparse.Options{Required: false, Default: false, Help: "Continue past INCOMPATIBLE pairs instead of aborting"})
	args.InitArgParse(p, cliargs.BOOL, "", "assume-yes", &argparse.Options{Required: false, Default: false, Help: "Never prompt for ambiguous system-candidate matches"})
	args.InitArgParse(p, cliargs.INT, "j", "jobs", &argparse.Options{Required: false, Default: 1, Help: "Bounded-concurrency pair analysis"})
	args.InitArgParse(p, cliargs.STRING, "", "patch-needed-from", &argparse.Options{Required: false, Default: "soname", Help: "What to write into DT_NEEDED on patch: soname or system-path"})
	args.InitArgParse(p, cliargs.STRING, "", "graph", &argparse.Options{Required: false, Help: "Write a Graphviz .dot dependency graph here too"})
	args.InitArgParse(p, cliargs.BOOL, "v", "verbose", &argparse.Options{Required: false, Default: false, Help: "Show INFO-level findings too"})
	args.InitArgParse(p, cliargs.STRING, "", "format", &argparse.Options{Required: false, Default: "text", Help: "Report format: text or json"})
	args.InitArgParse(p, cliargs.STRING, "", "color", &argparse.Options{Required: false, Default: "auto", Help: "Color mode: auto, always, or never"})
	return args
}

func runCheckCommand(args *cliargs.Arguments) int {
	colorMode, err := clog.ParseColorMode(args.Str("color"))
	if err != nil {
		clog.PrintErr(err)
		return 2
	}
	clog.Use(colorMode)

	format, err := report.ParseFormat(args.Str("format"))
	if err != nil {
		clog.PrintErr(err)
		return 2
	}
	patchSource, err := workflow.ParsePatchSource(args.Str("patch-needed-from"))
	if err != nil {
		clog.PrintErr(err)
		return 2
	}

	opts := workflow.CheckOptions{
		ExtensionPath: args.Str("extension"),
		BundledPath:   args.Str("bundled"),
		SystemPath:    args.Str("system"),
		Patch:         args.BoolVal("patch"),
		PatchSource:   patchSource,
		OutputPath:    args.Str("output"),
	}
	if opts.Patch && opts.OutputPath == "" {
		clog.PrintErr(fmt.Errorf("--output is required with --patch"))
		return 2
	}

	clog.PrintHeader1("(*) RUN ABI CHECK")
	rep, err := workflow.RunCheck(opts)
	if err != nil {
		clog.PrintErr(err)
		return 1
	}

	renderCheck(rep, format, args.BoolVal("verbose"))
	if rep.Summary.Error > 0 {
		return 1
	}
	return 0
}

func runWheelCommand(args *cliargs.Arguments) int {
	colorMode, err := clog.ParseColorMode(args.Str("color"))
	if err != nil {
		clog.PrintErr(err)
		return 2
	}
	clog.Use(colorMode)

	format, err := report.ParseFormat(args.Str("format"))
	if err != nil {
		clog.PrintErr(err)
		return 2
	}
	patchSource, err := workflow.ParsePatchSource(args.Str("patch-needed-from"))
	if err != nil {
		clog.PrintErr(err)
		return 2
	}

	opts := workflow.WheelOptions{
		WheelPath:     args.Str("wheel"),
		OutputWheel:   args.Str("output-wheel"),
		SystemLibs:    args.StrList("system-lib"),
		SystemLibDirs: args.StrList("system-lib-dir"),
		WorkDir:       args.Str("workdir"),
		NoStrict:      args.BoolVal("no-strict"),
		AssumeYes:     args.BoolVal("assume-yes"),
		Jobs:          args.IntVal("jobs"),
		PatchSource:   patchSource,
	}

	clog.PrintHeader1("(*) RUN WHEEL REPAIR WORKFLOW")
	rep, err := workflow.RunWheel(opts)
	if err != nil {
		clog.PrintErr(err)
		return 1
	}

	renderWheel(rep, format, args.BoolVal("verbose"))

	if graphPath := args.Str("graph"); graphPath != "" {
		if err := writeGraph(rep, graphPath); err != nil {
			clog.PrintWarning(fmt.Sprintf("could not write dependency graph: %s", err))
		}
	}

	if rep.Summary.Error > 0 {
		return 1
	}
	return 0
}

func renderCheck(rep report.CheckReport, format report.Format, verbose bool) {
	if format == report.JSON {
		_ = report.WriteJSON(os.Stdout, rep)
		return
	}
	report.WriteCheckText(os.Stdout, rep, verbose)
}

func renderWheel(rep report.WheelReport, format report.Format, verbose bool) {
	if format == report.JSON {
		_ = report.WriteJSON(os.Stdout, rep)
		return
	}
	report.WriteWheelText(os.Stdout, rep, verbose)
}

func writeGraph(rep report.WheelReport, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return report.WriteDependencyGraph(f, rep.Pairs)
}
