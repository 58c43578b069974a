package workflow

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"unrepair/internal/elftest"
)

const bundledLibName = "libfoo-a1b2c3d4e5f6.so.1"

func buildTestWheel(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)

	ext := elftest.Builder{Needed: []string{bundledLibName}}.Build()
	bun := elftest.Builder{SONAME: bundledLibName}.Build()
	record := "pkg/_mod.cpython-311-x86_64-linux-gnu.so,,\npkg/pkg.libs/" + bundledLibName + ",,\npkg-1.0.dist-info/RECORD,,\n"

	writeEntry(t, zw, "pkg/_mod.cpython-311-x86_64-linux-gnu.so", ext)
	writeEntry(t, zw, "pkg/pkg.libs/"+bundledLibName, bun)
	writeEntry(t, zw, "pkg-1.0.dist-info/RECORD", []byte(record))

	require.NoError(t, zw.Close())
}

func writeEntry(t *testing.T, zw *zip.Writer, name string, content []byte) {
	t.Helper()
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
}

// TestRunWheelEndToEndPrunesAndRepacks exercises the realistic
// auditwheel-repair-undo shape: the bundled library carries a
// content-hash-suffixed name (and matching SONAME) the extension's
// DT_NEEDED was rewritten to when the wheel was originally repaired, and
// a plain-named system library satisfies it once the stem-prefix match
// resolves the pairing. A successful patch rewrites DT_NEEDED back to the
// system SONAME, after which nothing left on disk still needs the
// hash-suffixed bundled copy, so it gets pruned and the RECORD/zip are
// rewritten without it.
func TestRunWheelEndToEndPrunesAndRepacks(t *testing.T) {
	root := t.TempDir()
	wheelPath := filepath.Join(root, "pkg-1.0.whl")
	buildTestWheel(t, wheelPath)

	sysDir := t.TempDir()
	sysLib := filepath.Join(sysDir, "libfoo.so.1")
	require.NoError(t, os.WriteFile(sysLib, elftest.Builder{SONAME: "libfoo.so.1"}.Build(), 0o755))

	outPath := filepath.Join(root, "pkg-1.0-repaired.whl")
	rep, err := RunWheel(WheelOptions{
		WheelPath:   wheelPath,
		OutputWheel: outPath,
		SystemLibs:  []string{sysLib},
		PatchSource: FromSoname,
		WorkDir:     filepath.Join(root, "work"),
	})
	require.NoError(t, err)
	require.Equal(t, 0, rep.Summary.Error)
	require.Len(t, rep.Pairs, 1)
	require.Len(t, rep.RemovedBundledPaths, 1)
	require.Contains(t, rep.RemovedBundledPaths[0], bundledLibName)

	_, err = os.Stat(outPath)
	require.NoError(t, err)

	r, err := zip.OpenReader(outPath)
	require.NoError(t, err)
	defer r.Close()
	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	require.Contains(t, names, "pkg/_mod.cpython-311-x86_64-linux-gnu.so")
	require.NotContains(t, names, "pkg/pkg.libs/"+bundledLibName)
}

// TestRunWheelNoStrictContinuesPastIncompatiblePair confirms an
// INCOMPATIBLE pair aborts the run by default but --no-strict lets the
// pipeline finish (leaving the offending bundled library in place, since
// its extension was never patched away from it).
func TestRunWheelNoStrictContinuesPastIncompatiblePair(t *testing.T) {
	root := t.TempDir()
	wheelPath := filepath.Join(root, "pkg-1.0.whl")

	f, err := os.Create(wheelPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	ext := elftest.Builder{
		Needed: []string{"libfoo.so.1"},
		Symbols: []elftest.Sym{
			{Name: "do_thing", ReqLibrary: "libfoo.so.1", ReqVersion: "FOO_1.0"},
		},
	}.Build()
	bun := elftest.Builder{SONAME: "libfoo.so.1"}.Build()
	writeEntry(t, zw, "pkg/_mod.cpython-311-x86_64-linux-gnu.so", ext)
	writeEntry(t, zw, "pkg/pkg.libs/libfoo.so.1", bun)
	writeEntry(t, zw, "pkg-1.0.dist-info/RECORD", []byte("pkg-1.0.dist-info/RECORD,,\n"))
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	sysDir := t.TempDir()
	sysLib := filepath.Join(sysDir, "libfoo-system.so.1")
	// System candidate is missing do_thing: the pair is INCOMPATIBLE.
	require.NoError(t, os.WriteFile(sysLib, elftest.Builder{SONAME: "libfoo.so.1"}.Build(), 0o755))

	strictOut := filepath.Join(root, "strict.whl")
	_, err = RunWheel(WheelOptions{
		WheelPath:   wheelPath,
		OutputWheel: strictOut,
		SystemLibs:  []string{sysLib},
		PatchSource: FromSoname,
		WorkDir:     filepath.Join(root, "work-strict"),
	})
	require.Error(t, err)

	noStrictOut := filepath.Join(root, "no-strict.whl")
	rep, err := RunWheel(WheelOptions{
		WheelPath:   wheelPath,
		OutputWheel: noStrictOut,
		SystemLibs:  []string{sysLib},
		PatchSource: FromSoname,
		NoStrict:    true,
		WorkDir:     filepath.Join(root, "work-no-strict"),
	})
	require.NoError(t, err)
	require.Greater(t, rep.Summary.Error, 0)
	require.Empty(t, rep.RemovedBundledPaths)

	_, err = os.Stat(noStrictOut)
	require.NoError(t, err)
}
