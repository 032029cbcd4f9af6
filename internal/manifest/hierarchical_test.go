package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeddenator/embeddenator/internal/errorsx"
)

func TestAddLevel_SortsLevelsByDepthAndItemsByPath(t *testing.T) {
	m := NewHierarchical("/repo")
	m.AddLevel(ManifestLevel{Depth: 1, Items: []ManifestItem{
		{Path: "src/b.go", ItemType: ItemTypeFile}, {Path: "src/a.go", ItemType: ItemTypeFile},
	}})
	m.AddLevel(ManifestLevel{Depth: 0, Items: []ManifestItem{
		{Path: "src", ItemType: ItemTypeDirectory},
	}})

	require.Len(t, m.Levels, 2)
	assert.Equal(t, 0, m.Levels[0].Depth)
	assert.Equal(t, 1, m.Levels[1].Depth)
	assert.Equal(t, "src/a.go", m.Levels[1].Items[0].Path)
	assert.Equal(t, "src/b.go", m.Levels[1].Items[1].Path)
}

func TestUnmarshalHierarchical_RejectsVersion2(t *testing.T) {
	_, err := UnmarshalHierarchical([]byte(`{"hierarchical_version": 2, "levels": []}`))
	require.Error(t, err)
	assert.Equal(t, errorsx.KindInvalidManifestVersion, errorsx.GetKind(err))
}

func TestAddSubEngram_RegistersReference(t *testing.T) {
	m := NewHierarchical("/repo")
	m.AddSubEngram("src/lib", SubEngramRef{ArtifactFile: "__shard_0000.engram", Hash: "deadbeef"})

	ref, ok := m.SubEngramFor("src/lib")
	require.True(t, ok)
	assert.Equal(t, "__shard_0000.engram", ref.ArtifactFile)
	assert.Equal(t, "src/lib", ref.Path)

	_, ok = m.SubEngramFor("missing")
	assert.False(t, ok)
}

func TestMarshalSorted_RoundTripsSubEngrams(t *testing.T) {
	m := NewHierarchical("/repo")
	m.AddSubEngram("src", SubEngramRef{ArtifactFile: "__shard_0000.engram", Hash: "abc123"})

	data, err := m.MarshalSorted()
	require.NoError(t, err)

	restored, err := UnmarshalHierarchical(data)
	require.NoError(t, err)
	assert.Equal(t, "/repo", restored.RootPath)
	ref, ok := restored.SubEngramFor("src")
	require.True(t, ok)
	assert.Equal(t, "abc123", ref.Hash)
}
