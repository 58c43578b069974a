package patcher_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"unrepair/internal/elfimage"
	"unrepair/internal/elftest"
	"unrepair/internal/patcher"
)

func neededNames(t *testing.T, raw []byte) []string {
	t.Helper()
	img, err := elfimage.Read(raw)
	require.NoError(t, err)
	dynstr, err := img.DynStringTable()
	require.NoError(t, err)
	entries, err := img.DynamicEntries()
	require.NoError(t, err)

	var out []string
	for _, e := range entries {
		if e.Tag != 1 { // DT_NEEDED
			continue
		}
		name, err := img.StringAt(dynstr, uint32(e.Val))
		require.NoError(t, err)
		out = append(out, name)
	}
	return out
}

func TestPlanReplaceInPlaceShorterOrEqual(t *testing.T) {
	raw := elftest.Builder{Needed: []string{"libfoo.so.1", "libbaz.so.1"}}.Build()
	img, err := elfimage.Read(raw)
	require.NoError(t, err)

	plan, err := patcher.PlanReplace(img, "libfoo.so.1", "libfo.so.1")
	require.NoError(t, err)
	require.Equal(t, patcher.InPlace, plan.Strategy)

	out, err := patcher.Apply(raw, plan)
	require.NoError(t, err)
	require.Equal(t, len(raw), len(out))
	require.Equal(t, []string{"libfo.so.1", "libbaz.so.1"}, neededNames(t, out))
}

func TestPlanReplaceInPlaceSameLength(t *testing.T) {
	raw := elftest.Builder{Needed: []string{"libfoo.so.1"}}.Build()
	img, err := elfimage.Read(raw)
	require.NoError(t, err)

	plan, err := patcher.PlanReplace(img, "libfoo.so.1", "libqux.so.1")
	require.NoError(t, err)
	require.Equal(t, patcher.InPlace, plan.Strategy)

	out, err := patcher.Apply(raw, plan)
	require.NoError(t, err)
	require.Equal(t, []string{"libqux.so.1"}, neededNames(t, out))
}

func TestPlanReplaceAppendToStrtabGrowsDynstr(t *testing.T) {
	raw := elftest.Builder{Needed: []string{"libfoo.so.1"}, DynstrSlack: 128}.Build()
	img, err := elfimage.Read(raw)
	require.NoError(t, err)
	oldDynstr, err := img.DynStringTable()
	require.NoError(t, err)

	newName := "libfoo-with-a-much-longer-replacement-name.so.1"
	plan, err := patcher.PlanReplace(img, "libfoo.so.1", newName)
	require.NoError(t, err)
	require.Equal(t, patcher.AppendToStrtab, plan.Strategy)

	out, err := patcher.Apply(raw, plan)
	require.NoError(t, err)
	// The new name lands in the slack after .dynstr, so the file keeps its size.
	require.Equal(t, len(raw), len(out))
	require.Equal(t, []string{newName}, neededNames(t, out))

	// The patched file must still parse cleanly end to end, with .dynstr
	// reporting the grown size.
	patchedImg, err := elfimage.Read(out)
	require.NoError(t, err)
	dynstr, err := patchedImg.DynStringTable()
	require.NoError(t, err)
	require.Equal(t, oldDynstr.Size+uint64(len(newName)+1), dynstr.Size)
}

func TestPlanReplaceAppendFailsWithoutRoom(t *testing.T) {
	raw := elftest.Builder{Needed: []string{"libfoo.so.1"}}.Build() // no slack: sections packed tight
	img, err := elfimage.Read(raw)
	require.NoError(t, err)

	_, err = patcher.PlanReplace(img, "libfoo.so.1", "libfoo-with-a-much-longer-replacement-name.so.1")
	require.Error(t, err)
}

func TestPlanReplaceNotFound(t *testing.T) {
	raw := elftest.Builder{Needed: []string{"libfoo.so.1"}}.Build()
	img, err := elfimage.Read(raw)
	require.NoError(t, err)

	_, err = patcher.PlanReplace(img, "libmissing.so.1", "libother.so.1")
	require.Error(t, err)
}

func TestPlanReplaceRejectsEmptyNames(t *testing.T) {
	raw := elftest.Builder{Needed: []string{"libfoo.so.1"}}.Build()
	img, err := elfimage.Read(raw)
	require.NoError(t, err)

	_, err = patcher.PlanReplace(img, "", "libother.so.1")
	require.Error(t, err)
	_, err = patcher.PlanReplace(img, "libfoo.so.1", "")
	require.Error(t, err)
}
