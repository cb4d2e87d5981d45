package output

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/botexport/internal/document"
)

var at = time.Date(2024, 5, 1, 9, 4, 5, 0, time.UTC)

func sampleDoc() *document.Document {
	d := document.New()
	d.Set("bot_info", document.MustFrom(map[string]any{"id": "42"}))
	d.Set("guilds", document.MustFrom([]any{}))
	return d
}

func TestDefaultName(t *testing.T) {
	assert.Equal(t, "discord_bot_export_42_20240501_090405.json", DefaultName("42", at, FormatJSON))
	assert.Equal(t, "discord_bot_export_unknown_20240501_090405.yaml", DefaultName("", at, FormatYAML))
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatJSON, "JSON": FormatJSON, "yml": FormatYAML, " yaml ": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestWriteDocumentToDir(t *testing.T) {
	dir := t.TempDir()
	w := New(Options{Dir: dir})
	path, err := w.WriteDocument(sampleDoc(), "42", at)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "discord_bot_export_42_20240501_090405.json"), path)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"bot_info\":{\"id\":\"42\"},\"guilds\":[]}\n", string(b))
}

func TestWriteDocumentExplicitPathYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.yaml")
	w := New(Options{Path: path, Format: FormatYAML})
	got, err := w.WriteDocument(sampleDoc(), "42", at)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "bot_info:\n  id: \"42\"\n")
	assert.Contains(t, string(b), "guilds: []")
}

func TestWriteDocumentStdout(t *testing.T) {
	var out bytes.Buffer
	w := New(Options{Stdout: true, Pretty: true})
	w.Stdout = &out
	path, err := w.WriteDocument(sampleDoc(), "", at)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Contains(t, out.String(), "\n  \"bot_info\": {\n")
}

func TestWriteResult(t *testing.T) {
	dir := t.TempDir()
	w := New(Options{Dir: dir, Pretty: true, Format: FormatYAML})
	path, err := w.WriteResult("role_mods.json", document.MustFrom(map[string]any{"id": "7"}))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "role_mods.json"), path)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"id\": \"7\"\n}\n", string(b))

	path, err = w.WriteResult("pins_1.json", nil)
	require.NoError(t, err)
	b, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "null\n", string(b))
}
