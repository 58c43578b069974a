package elfimage_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"unrepair/internal/elfimage"
	"unrepair/internal/elftest"
)

func build(t *testing.T, b elftest.Builder) *elfimage.Image {
	t.Helper()
	raw := b.Build()
	img, err := elfimage.Read(raw)
	require.NoError(t, err)
	return img
}

func TestReadBasicIdentity(t *testing.T) {
	img := build(t, elftest.Builder{
		Needed: []string{"libfoo.so.1"},
		SONAME: "libbar.so.1",
	})
	require.True(t, img.Is64())
	require.NotNil(t, img)

	dynstr, err := img.DynStringTable()
	require.NoError(t, err)
	require.Equal(t, ".dynstr", dynstr.Name)
}

func TestDynamicEntriesHasNeededAndSoname(t *testing.T) {
	img := build(t, elftest.Builder{
		Needed: []string{"libfoo.so.1", "libbaz.so.2"},
		SONAME: "libbar.so.1",
	})
	dynstr, err := img.DynStringTable()
	require.NoError(t, err)

	entries, err := img.DynamicEntries()
	require.NoError(t, err)

	var needed []string
	var soname string
	for _, e := range entries {
		switch e.Tag {
		case 1: // DT_NEEDED
			name, err := img.StringAt(dynstr, uint32(e.Val))
			require.NoError(t, err)
			needed = append(needed, name)
		case 14: // DT_SONAME
			name, err := img.StringAt(dynstr, uint32(e.Val))
			require.NoError(t, err)
			soname = name
		}
	}
	require.Equal(t, []string{"libfoo.so.1", "libbaz.so.2"}, needed)
	require.Equal(t, "libbar.so.1", soname)
}

func TestReadRejectsTruncated(t *testing.T) {
	_, err := elfimage.Read([]byte{0x7f, 'E', 'L'})
	require.Error(t, err)
}

func TestReadRejectsBadMagic(t *testing.T) {
	raw := elftest.Builder{Needed: []string{"libfoo.so.1"}}.Build()
	raw[0] = 0x00
	_, err := elfimage.Read(raw)
	require.Error(t, err)
}

func TestDynSymbolsAndVersionSymbols(t *testing.T) {
	img := build(t, elftest.Builder{
		Needed: []string{"libfoo.so.1"},
		Symbols: []elftest.Sym{
			{Name: "do_thing", Defined: true, Version: "FOO_1.0"},
			{Name: "take_thing", Defined: false, ReqLibrary: "libfoo.so.1", ReqVersion: "FOO_1.0"},
		},
	})

	syms, ok, err := img.DynSymbols()
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, syms, 3) // null + 2

	versyms, ok, err := img.VersionSymbols()
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, versyms, 3)
}
