package wheel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"unrepair/internal/elftest"
)

func TestIsExtension(t *testing.T) {
	require.True(t, IsExtension("_speedups.cpython-311-x86_64-linux-gnu.so"))
	require.True(t, IsExtension("foo.abi3.so"))
	require.False(t, IsExtension("libfoo.so.1"))
	require.False(t, IsExtension("plain.so"))
}

func TestIsBundledLibrary(t *testing.T) {
	require.True(t, IsBundledLibrary("pkg/pkg.libs/libfoo-abc12345.so.1"))
	require.False(t, IsBundledLibrary("pkg/libfoo.so.1")) // not under a .libs directory
	require.False(t, IsBundledLibrary("pkg/pkg.libs/notlib.txt"))
}

func writeFixture(t *testing.T, dir, rel string, b elftest.Builder) string {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, b.Build(), 0o755))
	return path
}

func TestDiscoverClassifiesExtensionsAndBundledLibraries(t *testing.T) {
	dir := t.TempDir()
	ext := writeFixture(t, dir, "pkg/_mod.cpython-311-x86_64-linux-gnu.so", elftest.Builder{Needed: []string{"libfoo.so.1"}})
	bun := writeFixture(t, dir, "pkg/pkg.libs/libfoo.so.1", elftest.Builder{SONAME: "libfoo.so.1"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "__init__.py"), []byte("# pkg"), 0o644))

	extensions, bundled, err := Discover(dir)
	require.NoError(t, err)
	require.Equal(t, []string{ext}, extensions)
	require.Equal(t, []string{bun}, bundled)
}

func TestBuildPairsMatchesBySoname(t *testing.T) {
	dir := t.TempDir()
	ext := writeFixture(t, dir, "pkg/_mod.cpython-311-x86_64-linux-gnu.so", elftest.Builder{Needed: []string{"libfoo.so.1"}})
	bun := writeFixture(t, dir, "pkg/pkg.libs/libfoo.so.1", elftest.Builder{SONAME: "libfoo.so.1"})

	pairs, err := BuildPairs([]string{ext}, []string{bun})
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	require.Equal(t, Pair{Extension: ext, NeededName: "libfoo.so.1", Bundled: bun}, pairs[0])
}

func TestBuildPairsSonamePrefixFallback(t *testing.T) {
	dir := t.TempDir()
	ext := writeFixture(t, dir, "pkg/_mod.cpython-311-x86_64-linux-gnu.so", elftest.Builder{Needed: []string{"libfoo.so.1"}})
	// Bundled copy carries an auditwheel-style content-hash suffix and no SONAME.
	bun := writeFixture(t, dir, "pkg/pkg.libs/libfoo-deadbeef.so.1", elftest.Builder{})

	pairs, err := BuildPairs([]string{ext}, []string{bun})
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	require.Equal(t, bun, pairs[0].Bundled)
}

func TestBuildPairsIgnoresUnrelatedNeeded(t *testing.T) {
	dir := t.TempDir()
	ext := writeFixture(t, dir, "pkg/_mod.cpython-311-x86_64-linux-gnu.so", elftest.Builder{Needed: []string{"libc.so.6"}})

	pairs, err := BuildPairs([]string{ext}, nil)
	require.NoError(t, err)
	require.Empty(t, pairs)
}
