package symview_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"unrepair/internal/elfimage"
	"unrepair/internal/elftest"
	"unrepair/internal/symview"
)

func build(t *testing.T, b elftest.Builder) *symview.SymbolView {
	t.Helper()
	img, err := elfimage.Read(b.Build())
	require.NoError(t, err)
	sv, err := symview.Build(img)
	require.NoError(t, err)
	return sv
}

func TestBuildBasic(t *testing.T) {
	sv := build(t, elftest.Builder{
		Needed: []string{"libfoo.so.1"},
		SONAME: "libbar.so.1",
		Symbols: []elftest.Sym{
			{Name: "exported_fn", Defined: true},
			{Name: "versioned_fn", Defined: true, Version: "FOO_1.0"},
			{Name: "imported_fn", Defined: false, ReqLibrary: "libfoo.so.1", ReqVersion: "FOO_2.0"},
			{Name: "imported_unversioned", Defined: false},
		},
	})

	require.Equal(t, []string{"libfoo.so.1"}, sv.Needed)
	require.True(t, sv.HasSONAME)
	require.Equal(t, "libbar.so.1", sv.SONAME)

	require.Contains(t, sv.Defined, "exported_fn")
	require.Contains(t, sv.Defined, "versioned_fn")
	_, hasVer := sv.Defined["versioned_fn"]["FOO_1.0"]
	require.True(t, hasVer)

	ref, ok := sv.Undefined["imported_fn"]
	require.True(t, ok)
	require.Equal(t, "libfoo.so.1", ref.Library)
	require.Equal(t, "FOO_2.0", ref.Version)

	ref2, ok := sv.Undefined["imported_unversioned"]
	require.True(t, ok)
	require.Empty(t, ref2.Version)
}

func TestBuildNoSoname(t *testing.T) {
	sv := build(t, elftest.Builder{Needed: []string{"libx.so"}})
	require.False(t, sv.HasSONAME)
	require.Empty(t, sv.SONAME)
}
