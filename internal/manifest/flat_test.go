package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeddenator/embeddenator/internal/errorsx"
)

func TestAddFile_KeepsFilesSortedByPath(t *testing.T) {
	m := NewFlat()
	m.AddFile(FileEntry{Path: "zebra.txt"})
	m.AddFile(FileEntry{Path: "alpha.txt"})
	m.AddFile(FileEntry{Path: "mango.txt"})

	require.Len(t, m.Files, 3)
	assert.Equal(t, "alpha.txt", m.Files[0].Path)
	assert.Equal(t, "mango.txt", m.Files[1].Path)
	assert.Equal(t, "zebra.txt", m.Files[2].Path)
}

func TestMarshalSorted_IsByteStableAcrossInsertOrder(t *testing.T) {
	m1 := NewFlat()
	m1.AddFile(FileEntry{Path: "b.txt", ChunkIDs: []uint64{1, 2}})
	m1.AddFile(FileEntry{Path: "a.txt", ChunkIDs: []uint64{0}})

	m2 := NewFlat()
	m2.AddFile(FileEntry{Path: "a.txt", ChunkIDs: []uint64{0}})
	m2.AddFile(FileEntry{Path: "b.txt", ChunkIDs: []uint64{1, 2}})

	b1, err := m1.MarshalSorted()
	require.NoError(t, err)
	b2, err := m2.MarshalSorted()
	require.NoError(t, err)

	assert.Equal(t, b1, b2)
}

func TestUnmarshalFlat_RejectsUnknownFormatVersion(t *testing.T) {
	_, err := UnmarshalFlat([]byte(`{"format_version": 99, "files": []}`))
	require.Error(t, err)
	assert.Equal(t, errorsx.KindInvalidManifestVersion, errorsx.GetKind(err))
}

func TestFind_ReturnsNilForAbsentPath(t *testing.T) {
	m := NewFlat()
	m.AddFile(FileEntry{Path: "present.txt"})
	assert.Nil(t, m.Find("missing.txt"))
	assert.NotNil(t, m.Find("present.txt"))
}

func TestRoundTrip_PreservesFileEntries(t *testing.T) {
	m := NewFlat()
	m.AddFile(FileEntry{Path: "docs/readme.md", IsText: true, Size: 42, ChunkIDs: []uint64{0, 1}})

	data, err := m.MarshalSorted()
	require.NoError(t, err)

	restored, err := UnmarshalFlat(data)
	require.NoError(t, err)
	require.Len(t, restored.Files, 1)
	assert.Equal(t, "docs/readme.md", restored.Files[0].Path)
	assert.Equal(t, []uint64{0, 1}, restored.Files[0].ChunkIDs)
}
