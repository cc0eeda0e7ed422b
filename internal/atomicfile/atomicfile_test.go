package atomicfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileReplacesAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "doc.json")

	require.NoError(t, WriteFile(path, []byte("one"), 0o644))
	require.NoError(t, WriteFile(path, []byte("two"), 0o644))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(b))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteFileCleansUpOnRenameFailure(t *testing.T) {
	dir := t.TempDir()
	// A directory at the target path makes the rename fail.
	target := filepath.Join(dir, "target")
	require.NoError(t, os.MkdirAll(filepath.Join(target, "child"), 0o755))

	err := WriteFile(target, []byte("data"), 0o644)
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "target", entries[0].Name())
}

func TestWriteJSONAndYAML(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, WriteJSON(filepath.Join(dir, "a.json"), map[string]int{"n": 1}))
	b, err := os.ReadFile(filepath.Join(dir, "a.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":1}`, string(b))

	require.NoError(t, WriteYAML(filepath.Join(dir, "a.yaml"), map[string]int{"n": 1}))
	b, err = os.ReadFile(filepath.Join(dir, "a.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "n: 1\n", string(b))
}
