package wheel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"unrepair/internal/elftest"
)

func TestPruneBundledRemovesUnreferencedLibrary(t *testing.T) {
	dir := t.TempDir()
	bundled := writeFixture(t, dir, "pkg.libs/libfoo.so.1", elftest.Builder{SONAME: "libfoo.so.1"})
	survivor := writeFixture(t, dir, "pkg/_mod.cpython-311-x86_64-linux-gnu.so", elftest.Builder{Needed: []string{"libc.so.6"}})

	removed, err := PruneBundled([]string{bundled}, []string{bundled}, []string{survivor})
	require.NoError(t, err)
	require.Equal(t, []string{bundled}, removed)
}

func TestPruneBundledKeepsLibraryStillNeededByAnotherExtension(t *testing.T) {
	dir := t.TempDir()
	bundled := writeFixture(t, dir, "pkg.libs/libfoo.so.1", elftest.Builder{SONAME: "libfoo.so.1"})
	stillNeeding := writeFixture(t, dir, "pkg/_other.cpython-311-x86_64-linux-gnu.so", elftest.Builder{Needed: []string{"libfoo.so.1"}})

	removed, err := PruneBundled([]string{bundled}, []string{bundled}, []string{stillNeeding})
	require.NoError(t, err)
	require.Empty(t, removed)
}

func TestPruneBundledTransitiveRemoval(t *testing.T) {
	dir := t.TempDir()
	// libb depends on liba; nothing survives referencing either once the
	// extension that needed libb is patched away from it.
	liba := writeFixture(t, dir, "pkg.libs/liba.so.1", elftest.Builder{SONAME: "liba.so.1"})
	libb := writeFixture(t, dir, "pkg.libs/libb.so.1", elftest.Builder{SONAME: "libb.so.1", Needed: []string{"liba.so.1"}})

	removed, err := PruneBundled([]string{libb}, []string{liba, libb}, nil)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{liba, libb}, removed)
}

func TestPruneBundledDeterministicOrder(t *testing.T) {
	dir := t.TempDir()
	a := writeFixture(t, dir, "pkg.libs/liba.so.1", elftest.Builder{SONAME: "liba.so.1"})
	b := writeFixture(t, dir, "pkg.libs/libb.so.1", elftest.Builder{SONAME: "libb.so.1"})

	removed, err := PruneBundled([]string{a, b}, []string{a, b}, nil)
	require.NoError(t, err)
	require.True(t, removed[0] < removed[1])
}

func TestPruneBundledIdentifyFailurePropagates(t *testing.T) {
	dir := t.TempDir()
	bogus := filepath.Join(dir, "pkg.libs", "libbroken.so")
	require.NoError(t, os.MkdirAll(filepath.Dir(bogus), 0o755))
	require.NoError(t, os.WriteFile(bogus, []byte("not an elf file"), 0o644))

	_, err := PruneBundled(nil, []string{bogus}, nil)
	require.Error(t, err)
}
