package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeddenator/embeddenator/internal/vsa"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func defaultConfig() Config {
	return Config{Dimension: 4000, TargetNonzero: 100, ChunkSize: 8, Workers: 4}
}

func TestPaths_SingleFileIsNotNamespaced(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "greeting.txt")
	require.NoError(t, os.WriteFile(file, []byte("Hello holographic world\n"), 0o644))

	res, err := Paths(context.Background(), []string{file}, defaultConfig())
	require.NoError(t, err)

	require.Len(t, res.Manifest.Files, 1)
	assert.Equal(t, file, res.Manifest.Files[0].Path)
	assert.NotEmpty(t, res.Manifest.Files[0].ChunkIDs)
}

func TestPaths_MultipleInputsGetNamespacePrefixes(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	writeFile(t, dirA, "README.md", "alpha content")
	writeFile(t, dirB, "README.md", "beta content")

	res, err := Paths(context.Background(), []string{dirA, dirB}, defaultConfig())
	require.NoError(t, err)

	var paths []string
	for _, f := range res.Manifest.Files {
		paths = append(paths, f.Path)
	}
	assert.Contains(t, paths, filepath.ToSlash(filepath.Join(filepath.Base(dirA), "README.md")))
	assert.Contains(t, paths, filepath.ToSlash(filepath.Join(filepath.Base(dirB), "README.md")))
}

func TestDisambiguatePrefixes_NumbersCollidingBasenames(t *testing.T) {
	prefixes := disambiguatePrefixes([]string{"/a/docs", "/b/docs", "/c/docs"})
	assert.Equal(t, []string{"docs", "docs_2", "docs_3"}, prefixes)
}

func TestPaths_IsDeterministicAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "aaaaaaaaaaaaaaaaaaaa")
	writeFile(t, dir, "b.txt", "bbbbbbbbbbbbbbbbbbbb")
	writeFile(t, dir, "c/d.txt", "cccccccccccccccccccc")

	res1, err := Paths(context.Background(), []string{dir}, defaultConfig())
	require.NoError(t, err)
	res2, err := Paths(context.Background(), []string{dir}, defaultConfig())
	require.NoError(t, err)

	assert.True(t, res1.Root.Equal(res2.Root))
	require.Equal(t, len(res1.Manifest.Files), len(res2.Manifest.Files))
	for i := range res1.Manifest.Files {
		assert.Equal(t, res1.Manifest.Files[i].Path, res2.Manifest.Files[i].Path)
		assert.Equal(t, res1.Manifest.Files[i].ChunkIDs, res2.Manifest.Files[i].ChunkIDs)
	}
}

func TestPaths_RootIsNonEmptyAndChunkVectorsResolve(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "only.txt", "just one small file")

	res, err := Paths(context.Background(), []string{dir}, defaultConfig())
	require.NoError(t, err)

	require.NoError(t, res.Root.Validate())
	assert.Greater(t, res.Root.NNZ(), 0)

	var ids []uint64
	for _, f := range res.Manifest.Files {
		ids = append(ids, f.ChunkIDs...)
	}
	require.NotEmpty(t, ids)
	v, err := res.Codebook.Vector(ids[0])
	require.NoError(t, err)
	cos, err := vsa.Cosine(v, v)
	require.NoError(t, err)
	assert.Equal(t, 1.0, cos)
}
