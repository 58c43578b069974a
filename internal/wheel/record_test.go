package wheel

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindRecordLocatesDistInfoRecord(t *testing.T) {
	dir := t.TempDir()
	recordPath := filepath.Join(dir, "pkg-1.0.dist-info", "RECORD")
	require.NoError(t, os.MkdirAll(filepath.Dir(recordPath), 0o755))
	require.NoError(t, os.WriteFile(recordPath, []byte("pkg/__init__.py,,\n"), 0o644))

	found, err := FindRecord(dir)
	require.NoError(t, err)
	require.Equal(t, recordPath, found)
}

func TestFindRecordMissing(t *testing.T) {
	_, err := FindRecord(t.TempDir())
	require.Error(t, err)
}

func TestRegenerateRecordListsEveryFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "__init__.py"), []byte("# pkg\n"), 0o644))
	recordPath := filepath.Join(dir, "pkg-1.0.dist-info", "RECORD")
	require.NoError(t, os.MkdirAll(filepath.Dir(recordPath), 0o755))
	require.NoError(t, os.WriteFile(recordPath, nil, 0o644))

	require.NoError(t, RegenerateRecord(dir, recordPath))

	content, err := os.ReadFile(recordPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")

	var sawInit, sawRecord bool
	for _, line := range lines {
		if strings.HasPrefix(line, "pkg/__init__.py,sha256=") {
			sawInit = true
		}
		if strings.HasSuffix(line, "dist-info/RECORD,,") {
			sawRecord = true
		}
	}
	require.True(t, sawInit, "expected a RECORD line for pkg/__init__.py, got %v", lines)
	require.True(t, sawRecord, "expected the RECORD's own hash-less line, got %v", lines)
}
