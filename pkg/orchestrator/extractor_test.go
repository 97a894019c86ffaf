package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileExtractor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("  # Notes\nbody text\n"), 0o600))

	pc, err := FileExtractor{Path: path}.Extract(context.Background())
	require.NoError(t, err)
	require.NotNil(t, pc)
	assert.Equal(t, "notes.md", pc.Title)
	assert.Equal(t, "# Notes\nbody text", pc.Text)
	assert.True(t, strings.HasPrefix(pc.URL, "file://"))

	pc, err = FileExtractor{Path: path, URL: "https://example.com/notes", MaxBytes: 9}.Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "# Notes", pc.Text)
	assert.Equal(t, "https://example.com/notes", pc.URL)
}

func TestFileExtractor_EmptyAndMissing(t *testing.T) {
	pc, err := FileExtractor{}.Extract(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, pc)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("   \n"), 0o600))
	pc, err = FileExtractor{Path: empty}.Extract(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, pc)

	_, err = FileExtractor{Path: filepath.Join(t.TempDir(), "missing")}.Extract(context.Background())
	assert.Error(t, err)
}

func TestStaticExtractor(t *testing.T) {
	pc, err := StaticExtractor{}.Extract(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, pc)

	pc, err = StaticExtractor{Title: "t", Text: "body"}.Extract(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "body", pc.Text)
}
