package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestTableLoadsAllEngines(t *testing.T) {
	table, err := manifestTable()
	require.NoError(t, err)
	assert.Contains(t, table, Streaming)
	assert.Contains(t, table, Segmented)
	assert.Contains(t, table, VAD)
	assert.True(t, table[VAD].SingleFile != "")
	assert.True(t, table[Streaming].MultiFile())
}

func TestResolveRequiredFilesMatchesPrefix(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "encoder.int8.onnx"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tokens.txt"), []byte("x"), 0o644))

	found, err := resolveRequiredFiles(dir, []string{"encoder", "decoder", "tokens.txt"})
	require.NoError(t, err)
	assert.Contains(t, found, "encoder")
	assert.Contains(t, found, "tokens.txt")
	assert.NotContains(t, found, "decoder")
}

func TestResolveRequiredFilesMissingDirReturnsNil(t *testing.T) {
	found, err := resolveRequiredFiles(filepath.Join(t.TempDir(), "missing"), []string{"encoder"})
	require.NoError(t, err)
	assert.Nil(t, found)
}
