package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"unrepair/internal/analyzer"
	"unrepair/internal/elfimage"
	"unrepair/internal/elftest"
	"unrepair/internal/symview"
)

func writeElf(t *testing.T, dir, name string, b elftest.Builder) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, b.Build(), 0o755))
	return path
}

func TestRunCheckCompatiblePair(t *testing.T) {
	dir := t.TempDir()
	ext := writeElf(t, dir, "ext.so", elftest.Builder{
		Needed:  []string{"libfoo.so.1"},
		Symbols: []elftest.Sym{{Name: "do_thing", ReqLibrary: "libfoo.so.1", ReqVersion: "FOO_1.0"}},
	})
	bun := writeElf(t, dir, "libfoo-bundled.so.1", elftest.Builder{SONAME: "libfoo.so.1"})
	sys := writeElf(t, dir, "libfoo-system.so.1", elftest.Builder{
		SONAME:  "libfoo.so.1",
		Symbols: []elftest.Sym{{Name: "do_thing", Defined: true, Version: "FOO_1.0"}},
	})

	rep, err := RunCheck(CheckOptions{ExtensionPath: ext, BundledPath: bun, SystemPath: sys})
	require.NoError(t, err)
	require.Equal(t, analyzer.Compatible.String(), rep.Pair.Verdict)
	require.Equal(t, 0, rep.Summary.Error)
}

func TestRunCheckPatchWritesNewNeeded(t *testing.T) {
	dir := t.TempDir()
	ext := writeElf(t, dir, "ext.so", elftest.Builder{Needed: []string{"libfoo.so.1"}})
	bun := writeElf(t, dir, "libfoo-bundled.so.1", elftest.Builder{SONAME: "libfoo.so.1"})
	sys := writeElf(t, dir, "libfoo-system.so.1", elftest.Builder{SONAME: "libfoo.so.2"})
	out := filepath.Join(dir, "patched.so")

	rep, err := RunCheck(CheckOptions{
		ExtensionPath: ext,
		BundledPath:   bun,
		SystemPath:    sys,
		Patch:         true,
		PatchSource:   FromSoname,
		OutputPath:    out,
	})
	require.NoError(t, err)
	require.Equal(t, analyzer.Compatible.String(), rep.Pair.Verdict)

	patchedRaw, err := os.ReadFile(out)
	require.NoError(t, err)
	require.NotEmpty(t, patchedRaw)

	img, err := elfimage.Read(patchedRaw)
	require.NoError(t, err)
	sv, err := symview.Build(img)
	require.NoError(t, err)
	require.Equal(t, []string{"libfoo.so.2"}, sv.Needed)
}

func TestRunCheckMissingExportIsIncompatible(t *testing.T) {
	dir := t.TempDir()
	ext := writeElf(t, dir, "ext.so", elftest.Builder{
		Needed:  []string{"libfoo.so.1"},
		Symbols: []elftest.Sym{{Name: "do_thing", ReqLibrary: "libfoo.so.1", ReqVersion: "FOO_1.0"}},
	})
	bun := writeElf(t, dir, "libfoo-bundled.so.1", elftest.Builder{SONAME: "libfoo.so.1"})
	sys := writeElf(t, dir, "libfoo-system.so.1", elftest.Builder{SONAME: "libfoo.so.1"}) // no do_thing export

	rep, err := RunCheck(CheckOptions{ExtensionPath: ext, BundledPath: bun, SystemPath: sys})
	require.NoError(t, err)
	require.Equal(t, analyzer.Incompatible.String(), rep.Pair.Verdict)
	require.Greater(t, rep.Summary.Error, 0)
}
