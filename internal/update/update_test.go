package update

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeddenator/embeddenator/internal/codebook"
	"github.com/embeddenator/embeddenator/internal/errorsx"
	"github.com/embeddenator/embeddenator/internal/manifest"
	"github.com/embeddenator/embeddenator/internal/vsa"
)

func newTestHandle(t *testing.T) *Handle {
	t.Helper()
	cfg := Config{Dimension: 4000, TargetNonzero: 100, ChunkSize: 8}
	cb, err := codebook.New(codebook.Config{Dimension: cfg.Dimension, TargetNonzero: cfg.TargetNonzero})
	require.NoError(t, err)
	return Open(cfg, vsa.Zero(cfg.Dimension), cb, manifest.NewFlat())
}

func TestAddFile_InsertsChunksAndBundlesRoot(t *testing.T) {
	h := newTestHandle(t)
	require.NoError(t, h.AddFile("a.txt", []byte("some content bytes")))

	entry := h.Manifest.Find("a.txt")
	require.NotNil(t, entry)
	assert.NotEmpty(t, entry.ChunkIDs)
	assert.Greater(t, h.Root.NNZ(), 0)
}

func TestAddFile_MultiChunkAddMatchesBundleSumMany(t *testing.T) {
	h := newTestHandle(t)
	data := []byte("some content bytes that spans several eight-byte chunks easily")
	require.NoError(t, h.AddFile("a.txt", data))

	entry := h.Manifest.Find("a.txt")
	require.NotNil(t, entry)
	require.Greater(t, len(entry.ChunkIDs), 1, "fixture must produce multiple chunks to exercise the multiway fold")

	vecs := []*vsa.SparseVector{vsa.Zero(h.cfg.Dimension)}
	for _, id := range entry.ChunkIDs {
		v, err := h.Codebook.Vector(id)
		require.NoError(t, err)
		vecs = append(vecs, v)
	}
	expected, err := vsa.BundleSumMany(vecs)
	require.NoError(t, err)

	assert.Equal(t, expected.Pos, h.Root.Pos)
	assert.Equal(t, expected.Neg, h.Root.Neg)
}

func TestAddFile_FailsIfAlreadyLive(t *testing.T) {
	h := newTestHandle(t)
	require.NoError(t, h.AddFile("a.txt", []byte("content")))

	err := h.AddFile("a.txt", []byte("other content"))
	require.Error(t, err)
	assert.Equal(t, errorsx.KindAlreadyPresent, errorsx.GetKind(err))
}

func TestRemoveFile_SoftDeletesWithoutTouchingCodebook(t *testing.T) {
	h := newTestHandle(t)
	require.NoError(t, h.AddFile("a.txt", []byte("content")))
	preRemoveActive := h.Codebook.ActiveCount()

	require.NoError(t, h.RemoveFile("a.txt"))

	entry := h.Manifest.Find("a.txt")
	require.NotNil(t, entry)
	assert.True(t, entry.Deleted)
	assert.Equal(t, preRemoveActive, h.Codebook.ActiveCount())
}

func TestRemoveFile_FailsIfNotFound(t *testing.T) {
	h := newTestHandle(t)
	err := h.RemoveFile("missing.txt")
	require.Error(t, err)
	assert.Equal(t, errorsx.KindNotFound, errorsx.GetKind(err))
}

func TestRemoveFile_FailsIfAlreadyDeleted(t *testing.T) {
	h := newTestHandle(t)
	require.NoError(t, h.AddFile("a.txt", []byte("content")))
	require.NoError(t, h.RemoveFile("a.txt"))

	err := h.RemoveFile("a.txt")
	require.Error(t, err)
	assert.Equal(t, errorsx.KindAlreadyDeleted, errorsx.GetKind(err))
}

func TestModifyFile_ReplacesEntryContentInPlace(t *testing.T) {
	h := newTestHandle(t)
	require.NoError(t, h.AddFile("a.txt", []byte("old content")))
	oldIDs := append([]uint64{}, h.Manifest.Find("a.txt").ChunkIDs...)

	require.NoError(t, h.ModifyFile("a.txt", []byte("brand new content, different length")))

	entry := h.Manifest.Find("a.txt")
	require.NotNil(t, entry)
	assert.False(t, entry.Deleted)
	assert.NotEqual(t, oldIDs, entry.ChunkIDs)

	// Exactly one manifest entry for the path, not two.
	count := 0
	for _, f := range h.Manifest.Files {
		if f.Path == "a.txt" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestCompact_ReclaimsTombstonedEntriesAndPreservesLiveBytes(t *testing.T) {
	h := newTestHandle(t)
	require.NoError(t, h.AddFile("keep.txt", []byte("keep this content around")))
	require.NoError(t, h.AddFile("drop.txt", []byte("this one gets removed")))
	require.NoError(t, h.RemoveFile("drop.txt"))

	compacted, err := h.Compact(context.Background())
	require.NoError(t, err)

	assert.Nil(t, compacted.Manifest.Find("drop.txt"))
	keepEntry := compacted.Manifest.Find("keep.txt")
	require.NotNil(t, keepEntry)

	var rebuilt []byte
	for _, id := range keepEntry.ChunkIDs {
		b, err := compacted.Codebook.Lookup(id)
		require.NoError(t, err)
		rebuilt = append(rebuilt, b...)
	}
	assert.Equal(t, "keep this content around", string(rebuilt))

	// Fresh codebook starts chunk-ids at 0 again.
	assert.Equal(t, uint64(0), keepEntry.ChunkIDs[0])
}
