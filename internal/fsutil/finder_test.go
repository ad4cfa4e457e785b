package fsutil

import (
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

func TestFindFilesByExtension(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"pipeline.hcl":     "",
		"stages/cdn.hcl":   "",
		"stages/notes.txt": "",
	})

	files, err := FindFilesByExtension(root, ".hcl")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(root, "pipeline.hcl"),
		filepath.Join(root, "stages", "cdn.hcl"),
	}, files)

	single, err := FindFilesByExtension(filepath.Join(root, "pipeline.hcl"), ".hcl")
	require.NoError(t, err)
	assert.Len(t, single, 1)

	_, err = FindFilesByExtension(filepath.Join(root, "missing"), ".hcl")
	assert.Error(t, err)
}

func TestListFilesAndCopy(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"index.html":       "<html></html>",
		"img/logo.svg":     "<svg/>",
		".DS_Store":        "junk",
		".git/HEAD":        "ref",
		"img/.DS_Store":    "junk",
		"fonts/inter.woff": "font",
	})

	files, err := ListFiles(src, ".DS_Store", ".git")
	require.NoError(t, err)
	assert.Equal(t, []string{"fonts/inter.woff", "img/logo.svg", "index.html"}, files)

	dst := t.TempDir()
	require.NoError(t, CopyFiles(src, dst, files))
	copied, err := os.ReadFile(filepath.Join(dst, "img", "logo.svg"))
	require.NoError(t, err)
	assert.Equal(t, "<svg/>", string(copied))
}
