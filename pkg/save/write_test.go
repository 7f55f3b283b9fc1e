package save_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/grimoire/pkg/save"
)

func TestEncodeJSONIsSortedAndIndented(t *testing.T) {
	data, err := save.Encode(map[string]any{"b": 1, "a": "x<y"}, save.FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": \"x<y\",\n  \"b\": 1\n}\n", string(data))
}

func TestEncodeYAML(t *testing.T) {
	data, err := save.Encode(map[string]any{"name": "Moonlight Greatsword"}, save.FormatYAML)
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: Moonlight Greatsword")
}

func TestEncodeUnknownFormat(t *testing.T) {
	_, err := save.Encode(1, save.Format(42))
	require.Error(t, err)
	assert.False(t, save.Format(42).IsValid())
	assert.Equal(t, "unknown", save.Format(42).String())
}

func TestWriteFileCreatesParentsAndReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "out.json")

	require.NoError(t, save.WriteFile(path, []byte("one")))
	require.NoError(t, save.WriteFile(path, []byte("two")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestWriteToWriter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, save.Write([]int{1, 2}, save.WithWriter(&buf)))
	assert.Equal(t, "[\n  1,\n  2\n]\n", buf.String())
}

func TestWriteRequiresDestination(t *testing.T) {
	assert.Error(t, save.Write(1))
}
