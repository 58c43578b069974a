// Copyright 2019 The UNICORE Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file

// Package report renders analyzer/workflow output as text or JSON, and
// exports an optional dependency-pair graph, mirroring how the teacher
// toolchain's veriftool renders a diff and how a wheel run's findings map
// onto spec.md §6's report shape.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/awalterschulze/gographviz"
	"github.com/fatih/color"
	"github.com/sergi/go-diff/diffmatchpatch"

	"unrepair/internal/analyzer"
)

// Format selects the output encoding.
type Format int

const (
	Text Format = iota
	JSON
)

// ParseFormat parses --format's value.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "text", "":
		return Text, nil
	case "json":
		return JSON, nil
	default:
		return Text, fmt.Errorf("unknown format %q (want text or json)", s)
	}
}

// PairDetail is one analyzed (extension, bundled, system) triple.
type PairDetail struct {
	Extension string          `json:"extension"`
	Bundled   string          `json:"bundled"`
	System    string          `json:"system"`
	Verdict   string          `json:"verdict"`
	Findings  []FindingDetail `json:"findings"`
}

// FindingDetail is the JSON projection of an analyzer.Finding.
type FindingDetail struct {
	Severity string `json:"severity"`
	Category string `json:"category"`
	Symbol   string `json:"symbol,omitempty"`
	Version  string `json:"version,omitempty"`
	Message  string `json:"message"`
}

func toDetail(f analyzer.Finding) FindingDetail {
	return FindingDetail{
		Severity: f.Severity.String(),
		Category: f.Category.String(),
		Symbol:   f.Symbol,
		Version:  f.Version,
		Message:  f.Message,
	}
}

// Summary counts findings by severity across every pair.
type Summary struct {
	Info  int `json:"info"`
	Warn  int `json:"warn"`
	Error int `json:"error"`
}

// CheckReport is the output of the `check` subcommand: one pair.
type CheckReport struct {
	Summary  Summary         `json:"summary"`
	Failures []FindingDetail `json:"failures"`
	Warnings []FindingDetail `json:"warnings"`
	Pair     PairDetail      `json:"pair"`
}

// WheelReport is the output of the `wheel` subcommand: many pairs plus the
// bookkeeping spec.md §6.4 requires.
type WheelReport struct {
	Summary             Summary         `json:"summary"`
	Failures            []FindingDetail `json:"failures"`
	Warnings            []FindingDetail `json:"warnings"`
	RemovedBundledPaths []string        `json:"removed_bundled_paths"`
	Pairs               []PairDetail    `json:"pairs"`
}

// NewCheckReport builds a CheckReport from one Analyze result.
func NewCheckReport(extension, bundled, system string, result analyzer.Result) CheckReport {
	pair := PairDetail{Extension: extension, Bundled: bundled, System: system, Verdict: result.Verdict.String()}
	var failures, warnings []FindingDetail
	for _, f := range result.Findings {
		d := toDetail(f)
		pair.Findings = append(pair.Findings, d)
		switch f.Severity {
		case analyzer.Error:
			failures = append(failures, d)
		case analyzer.Warn:
			warnings = append(warnings, d)
		}
	}
	summary := summarize(result.Findings)
	return CheckReport{Summary: summary, Failures: failures, Warnings: warnings, Pair: pair}
}

func summarize(findings []analyzer.Finding) Summary {
	var s Summary
	for _, f := range findings {
		switch f.Severity {
		case analyzer.Info:
			s.Info++
		case analyzer.Warn:
			s.Warn++
		case analyzer.Error:
			s.Error++
		}
	}
	return s
}

// NewWheelReport aggregates per-pair results into one WheelReport, sorting
// pairs by extension path for the ordering spec.md §5 requires.
func NewWheelReport(pairs []PairDetail, removed []string) WheelReport {
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Extension < pairs[j].Extension })

	var summary Summary
	var failures, warnings []FindingDetail
	for _, p := range pairs {
		for _, d := range p.Findings {
			switch d.Severity {
			case "ERROR":
				failures = append(failures, d)
				summary.Error++
			case "WARN":
				warnings = append(warnings, d)
				summary.Warn++
			default:
				summary.Info++
			}
		}
	}
	sorted := append([]string(nil), removed...)
	sort.Strings(sorted)

	return WheelReport{
		Summary:             summary,
		Failures:            failures,
		Warnings:            warnings,
		RemovedBundledPaths: sorted,
		Pairs:               pairs,
	}
}

// WriteJSON writes report (a CheckReport or WheelReport) as one JSON
// document.
func WriteJSON(w io.Writer, report interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// WriteCheckText writes r as severity-prefixed lines followed by a
// summary and verdict line, per spec.md §7's user-visible text mode.
func WriteCheckText(w io.Writer, r CheckReport, verbose bool) {
	writeFindingsText(w, r.Pair.Findings, verbose)
	fmt.Fprintf(w, "\nSummary: %d error(s), %d warning(s), %d info\n", r.Summary.Error, r.Summary.Warn, r.Summary.Info)
	fmt.Fprintf(w, "Verdict: %s\n", r.Pair.Verdict)
}

// WriteWheelText writes r's per-pair findings, the removed-bundled-library
// list, and an overall summary.
func WriteWheelText(w io.Writer, r WheelReport, verbose bool) {
	for _, p := range r.Pairs {
		fmt.Fprintf(w, "== %s ==\n", p.Extension)
		writeFindingsText(w, p.Findings, verbose)
		fmt.Fprintf(w, "Verdict: %s\n\n", p.Verdict)
	}
	if len(r.RemovedBundledPaths) > 0 {
		fmt.Fprintln(w, "Removed bundled libraries:")
		for _, p := range r.RemovedBundledPaths {
			fmt.Fprintf(w, "  %s\n", p)
		}
	}
	fmt.Fprintf(w, "Summary: %d error(s), %d warning(s), %d info across %d pair(s)\n",
		r.Summary.Error, r.Summary.Warn, r.Summary.Info, len(r.Pairs))
}

func writeFindingsText(w io.Writer, findings []FindingDetail, verbose bool) {
	for _, f := range findings {
		if f.Severity == "INFO" && !verbose {
			continue
		}
		line := fmt.Sprintf("[%s] %s", f.Severity, f.Message)
		if f.Symbol != "" {
			line = fmt.Sprintf("[%s] %s: %s", f.Severity, f.Symbol, f.Message)
		}
		switch f.Severity {
		case "ERROR":
			color.New(color.FgRed, color.Bold).Fprintln(w, line)
		case "WARN":
			color.New(color.FgYellow).Fprintln(w, line)
		default:
			fmt.Fprintln(w, line)
		}
	}
}

// DTNeededDiff renders a human-readable diff of a patched DT_NEEDED
// string, the same diffmatchpatch idiom the teacher's veriftool uses to
// compare expected vs. actual program output.
func DTNeededDiff(oldName, newName string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(oldName, newName, false)
	return dmp.DiffPrettyText(diffs)
}

// WriteDependencyGraph writes a Graphviz .dot document with one
// extension -> bundled -> system edge chain per pair, for `--graph`.
func WriteDependencyGraph(w io.Writer, pairs []PairDetail) error {
	g := gographviz.NewGraph()
	if err := g.SetName("unrepair"); err != nil {
		return err
	}
	if err := g.SetDir(true); err != nil {
		return err
	}

	seen := map[string]bool{}
	addNode := func(name string) error {
		id := quoteNode(name)
		if seen[id] {
			return nil
		}
		seen[id] = true
		return g.AddNode("unrepair", id, nil)
	}

	for _, p := range pairs {
		ext, bun, sys := quoteNode(p.Extension), quoteNode(p.Bundled), quoteNode(p.System)
		if err := addNode(p.Extension); err != nil {
			return err
		}
		if err := addNode(p.Bundled); err != nil {
			return err
		}
		if err := addNode(p.System); err != nil {
			return err
		}
		if err := g.AddEdge(ext, bun, true, nil); err != nil {
			return err
		}
		if err := g.AddEdge(bun, sys, true, map[string]string{"label": p.Verdict}); err != nil {
			return err
		}
	}

	var buf bytes.Buffer
	buf.WriteString(g.String())
	_, err := w.Write(buf.Bytes())
	return err
}

// quoteNode escapes a path for use as a Graphviz node identifier.
func quoteNode(name string) string {
	return fmt.Sprintf("%q", name)
}
