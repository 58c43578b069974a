// Copyright 2019 The UNICORE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file

package workflow

import (
	"os"
	"path/filepath"

	"unrepair/internal/analyzer"
	"unrepair/internal/elfimage"
	"unrepair/internal/patcher"
	"unrepair/internal/report"
	"unrepair/internal/symview"
)

// CheckOptions configures the `check` subcommand's single-pair flow.
type CheckOptions struct {
	ExtensionPath string
	BundledPath   string
	SystemPath    string
	Patch         bool
	PatchSource   PatchSource
	OutputPath    string // where the patched extension is written; required if Patch
}

// RunCheck analyzes one (extension, bundled, system) triple and, if
// opts.Patch is set and the pair is COMPATIBLE, writes a patched copy of
// the extension to opts.OutputPath.
func RunCheck(opts CheckOptions) (report.CheckReport, error) {
	extView, extImg, extRaw, err := loadView(opts.ExtensionPath)
	if err != nil {
		return report.CheckReport{}, err
	}
	bunView, _, _, err := loadView(opts.BundledPath)
	if err != nil {
		return report.CheckReport{}, err
	}
	sysView, _, _, err := loadView(opts.SystemPath)
	if err != nil {
		return report.CheckReport{}, err
	}

	bundledName := filepath.Base(opts.BundledPath)
	if bunView.HasSONAME {
		bundledName = bunView.SONAME
	}
	result := analyzer.Analyze(extView, bunView, sysView, bundledName)
	rep := report.NewCheckReport(opts.ExtensionPath, opts.BundledPath, opts.SystemPath, result)

	if opts.Patch && result.Verdict == analyzer.Compatible {
		if err := patchExtension(extImg, extRaw, opts.ExtensionPath, bundledName, opts.SystemPath, sysView, opts.PatchSource, opts.OutputPath); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// patchExtension rewrites extImg/extRaw's DT_NEEDED entry named oldName to
// the name replacementName selects, writing the result to outputPath with
// origExtPath's file mode.
func patchExtension(extImg *elfimage.Image, extRaw []byte, origExtPath, oldName, sysPath string, sysView *symview.SymbolView, source PatchSource, outputPath string) error {
	newName, err := replacementName(source, sysPath, sysView)
	if err != nil {
		return err
	}
	plan, err := patcher.PlanReplace(extImg, oldName, newName)
	if err != nil {
		return err
	}
	patched, err := patcher.Apply(extRaw, plan)
	if err != nil {
		return err
	}
	mode := os.FileMode(0o755)
	if info, statErr := os.Stat(origExtPath); statErr == nil {
		mode = info.Mode()
	}
	return os.WriteFile(outputPath, patched, mode)
}
