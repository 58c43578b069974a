// Copyright 2019 The UNICORE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file

package workflow

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"unrepair/internal/analyzer"
	"unrepair/internal/clog"
	"unrepair/internal/patcher"
	"unrepair/internal/report"
	"unrepair/internal/wheel"
	"unrepair/internal/xerrors"
)

// WheelOptions configures the `wheel` subcommand's full repair pipeline.
type WheelOptions struct {
	WheelPath     string
	OutputWheel   string
	SystemLibs    []string // explicit files, highest priority
	SystemLibDirs []string // scanned directories, lower priority
	WorkDir       string   // reused across runs if its fingerprint matches
	NoStrict      bool     // when true, an INCOMPATIBLE pair does not abort the run
	AssumeYes     bool
	Jobs          int // bounded concurrency for the analyze stage; 0 or 1 means sequential
	PatchSource   PatchSource
}

type pairOutcome struct {
	pair   wheel.Pair
	detail report.PairDetail
	err    error
}

// RunWheel drives the full unpack -> match -> validate/patch -> prune ->
// repackage pipeline against opts.WheelPath.
func RunWheel(opts WheelOptions) (report.WheelReport, error) {
	clog.Stage("Discovering wheel contents")
	workDir, reused, err := resolveWorkDir(opts.WheelPath, opts.WorkDir)
	if err != nil {
		return report.WheelReport{}, err
	}
	if reused {
		clog.PrintInfo(fmt.Sprintf("reusing work directory %s (fingerprint matches)", workDir))
	} else {
		if err := wheel.Unpack(opts.WheelPath, workDir); err != nil {
			return report.WheelReport{}, err
		}
	}

	extensions, bundled, err := wheel.Discover(workDir)
	if err != nil {
		return report.WheelReport{}, err
	}

	clog.Stage("Matching vendored libs to system libs")
	pairs, err := wheel.BuildPairs(extensions, bundled)
	if err != nil {
		return report.WheelReport{}, err
	}
	index, err := wheel.BuildSystemIndex(opts.SystemLibs, opts.SystemLibDirs)
	if err != nil {
		return report.WheelReport{}, err
	}

	clog.Stage("Validating ABI and patching extensions")
	outcomes, err := analyzePairs(pairs, index, opts)
	if err != nil {
		return report.WheelReport{}, err
	}

	var details []report.PairDetail
	directlyUnlinked := map[string]bool{}
	hadError := false
	for _, o := range outcomes {
		if o.err != nil {
			return report.WheelReport{}, o.err
		}
		details = append(details, o.detail)
		if o.detail.Verdict == analyzer.Compatible.String() {
			directlyUnlinked[o.pair.Bundled] = true
		} else {
			hadError = true
		}
	}
	if hadError && !opts.NoStrict {
		return report.NewWheelReport(details, nil),
			xerrors.NewWorkflowError("wheel workflow", fmt.Errorf("one or more pairs are INCOMPATIBLE; rerun with --no-strict to continue anyway"))
	}

	clog.Stage("Removing unneeded bundled libs")
	var directlyUnlinkedList []string
	for p := range directlyUnlinked {
		directlyUnlinkedList = append(directlyUnlinkedList, p)
	}
	survivingExtensions := append([]string(nil), extensions...)
	removed, err := wheel.PruneBundled(directlyUnlinkedList, bundled, survivingExtensions)
	if err != nil {
		return report.WheelReport{}, err
	}
	for _, path := range removed {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return report.WheelReport{}, xerrors.NewWorkflowError("remove pruned bundled library", err)
		}
	}

	recordPath, err := wheel.FindRecord(workDir)
	if err != nil {
		return report.WheelReport{}, err
	}
	if err := wheel.RegenerateRecord(workDir, recordPath); err != nil {
		return report.WheelReport{}, err
	}

	clog.Stage("Repacking wheel")
	if err := wheel.Repack(workDir, opts.OutputWheel); err != nil {
		return report.WheelReport{}, err
	}

	return report.NewWheelReport(details, removed), nil
}

// analyzePairs runs Analyze (and, on a COMPATIBLE verdict, the patch) for
// every pair, using a bounded worker pool when opts.Jobs > 1. Output order
// matches pairs' order regardless of how many goroutines ran, per
// SPEC_FULL.md §5.
func analyzePairs(pairs []wheel.Pair, index *wheel.SystemIndex, opts WheelOptions) ([]pairOutcome, error) {
	outcomes := make([]pairOutcome, len(pairs))

	jobs := opts.Jobs
	if jobs < 1 {
		jobs = 1
	}

	var g errgroup.Group
	g.SetLimit(jobs)
	var mu sync.Mutex

	for i, pair := range pairs {
		i, pair := i, pair
		g.Go(func() error {
			outcome := analyzeOnePair(pair, index, opts)
			mu.Lock()
			outcomes[i] = outcome
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(outcomes, func(i, j int) bool {
		if outcomes[i].pair.Extension != outcomes[j].pair.Extension {
			return outcomes[i].pair.Extension < outcomes[j].pair.Extension
		}
		return outcomes[i].pair.NeededName < outcomes[j].pair.NeededName
	})
	return outcomes, nil
}

func analyzeOnePair(pair wheel.Pair, index *wheel.SystemIndex, opts WheelOptions) pairOutcome {
	systemPath, err := index.ResolveInteractive(pair.NeededName, opts.AssumeYes)
	if err != nil {
		return pairOutcome{pair: pair, err: err}
	}

	extView, extImg, extRaw, err := loadView(pair.Extension)
	if err != nil {
		return pairOutcome{pair: pair, err: err}
	}
	bunView, _, _, err := loadView(pair.Bundled)
	if err != nil {
		return pairOutcome{pair: pair, err: err}
	}
	sysView, _, _, err := loadView(systemPath)
	if err != nil {
		return pairOutcome{pair: pair, err: err}
	}

	result := analyzer.Analyze(extView, bunView, sysView, pair.NeededName)
	detail := report.NewCheckReport(pair.Extension, pair.Bundled, systemPath, result).Pair

	if result.Verdict == analyzer.Compatible {
		newName, err := replacementName(opts.PatchSource, systemPath, sysView)
		if err != nil {
			return pairOutcome{pair: pair, detail: detail, err: err}
		}
		plan, err := patcher.PlanReplace(extImg, pair.NeededName, newName)
		if err != nil {
			return pairOutcome{pair: pair, detail: detail, err: err}
		}
		patched, err := patcher.Apply(extRaw, plan)
		if err != nil {
			return pairOutcome{pair: pair, detail: detail, err: err}
		}
		mode := os.FileMode(0o755)
		if info, statErr := os.Stat(pair.Extension); statErr == nil {
			mode = info.Mode()
		}
		if err := os.WriteFile(pair.Extension, patched, mode); err != nil {
			return pairOutcome{pair: pair, detail: detail, err: xerrors.NewWorkflowError("write patched extension", err)}
		}
	}

	return pairOutcome{pair: pair, detail: detail}
}
