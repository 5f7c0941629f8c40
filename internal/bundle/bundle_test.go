package bundle

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestExportListExtract(t *testing.T) {
	src := filepath.Join(t.TempDir(), "chain-84532")
	writeTree(t, src, map[string]string{
		"LansellerModule/deployment.json":         `{"status":"completed"}`,
		"LansellerModule/deployed_addresses.json": `{"LansellerModule#Token":"0x01"}`,
		"LansellerModule/journal.jsonl":           "{}\n",
	})

	var buf bytes.Buffer
	m, err := Export(src, &buf)
	require.NoError(t, err)
	assert.Equal(t, "chain-84532", m.Root)
	assert.Len(t, m.Files, 3)
	assert.Len(t, m.Files["chain-84532/LansellerModule/journal.jsonl"], 64)

	entries, err := List(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{
		"chain-84532/LansellerModule/deployed_addresses.json",
		"chain-84532/LansellerModule/deployment.json",
		"chain-84532/LansellerModule/journal.jsonl",
		ManifestFile,
	}, names)

	dest := t.TempDir()
	require.NoError(t, Extract(bytes.NewReader(buf.Bytes()), dest))

	data, err := os.ReadFile(filepath.Join(dest, "chain-84532", "LansellerModule", "deployment.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"completed"}`, string(data))
	assert.FileExists(t, filepath.Join(dest, ManifestFile))
}

func TestExport_Empty(t *testing.T) {
	var buf bytes.Buffer
	_, err := Export(t.TempDir(), &buf)
	assert.ErrorIs(t, err, ErrEmptyBundle)
}

func TestExportFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "chain-1")
	writeTree(t, src, map[string]string{"M/deployment.json": "{}"})

	out := filepath.Join(t.TempDir(), "chain-1.tar.zst")
	_, err := ExportFile(src, out)
	require.NoError(t, err)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()

	entries, err := List(f)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[0].Size)
}

func TestExportFile_RemovesPartialOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "empty.tar.zst")
	_, err := ExportFile(t.TempDir(), out)
	require.ErrorIs(t, err, ErrEmptyBundle)
	assert.NoFileExists(t, out)
}
