package wheel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"unrepair/internal/elftest"
	"unrepair/internal/xerrors"
)

func writeSystemLib(t *testing.T, dir, name string, b elftest.Builder) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, b.Build(), 0o755))
	return path
}

func TestSystemIndexResolveExactSoname(t *testing.T) {
	dir := t.TempDir()
	lib := writeSystemLib(t, dir, "libfoo.so.1.2.3", elftest.Builder{SONAME: "libfoo.so.1"})

	idx, err := BuildSystemIndex([]string{lib}, nil)
	require.NoError(t, err)

	got, err := idx.Resolve("libfoo.so.1")
	require.NoError(t, err)
	require.Equal(t, lib, got)
}

func TestSystemIndexResolveNotFound(t *testing.T) {
	idx, err := BuildSystemIndex(nil, nil)
	require.NoError(t, err)

	_, err = idx.Resolve("libfoo.so.1")
	require.Error(t, err)
	var werr *xerrors.WorkflowError
	require.ErrorAs(t, err, &werr)
}

func TestSystemIndexResolveAmbiguousPrefixFallback(t *testing.T) {
	dir := t.TempDir()
	a := writeSystemLib(t, dir, "libfoo-aaaaaaaa.so.1", elftest.Builder{})
	b := writeSystemLib(t, dir, "libfoo-bbbbbbbb.so.1", elftest.Builder{})

	idx, err := BuildSystemIndex([]string{a, b}, nil)
	require.NoError(t, err)

	_, err = idx.Resolve("libfoo.so.1")
	require.Error(t, err)
}

func TestSystemIndexResolveInteractiveFallsBackWithAssumeYes(t *testing.T) {
	dir := t.TempDir()
	a := writeSystemLib(t, dir, "libfoo-aaaaaaaa.so.1", elftest.Builder{})
	b := writeSystemLib(t, dir, "libfoo-bbbbbbbb.so.1", elftest.Builder{})

	idx, err := BuildSystemIndex([]string{a, b}, nil)
	require.NoError(t, err)

	got, err := idx.ResolveInteractive("libfoo.so.1", true)
	require.NoError(t, err)
	require.Equal(t, a, got) // first by user-specified order
}

func TestSystemIndexPrefersExplicitFilesOverDirs(t *testing.T) {
	fileDir := t.TempDir()
	scanDir := t.TempDir()
	explicit := writeSystemLib(t, fileDir, "libfoo.so.1", elftest.Builder{SONAME: "libfoo.so.1"})
	writeSystemLib(t, scanDir, "libfoo.so.1", elftest.Builder{SONAME: "libfoo.so.1"})

	idx, err := BuildSystemIndex([]string{explicit}, []string{scanDir})
	require.NoError(t, err)

	got, err := idx.Resolve("libfoo.so.1")
	require.NoError(t, err)
	require.Equal(t, explicit, got)
}
