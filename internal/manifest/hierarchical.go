package manifest

import (
	"encoding/json"
	"sort"

	"github.com/embeddenator/embeddenator/internal/errorsx"
)

// HierarchicalFormatVersion is the only hierarchical-manifest major
// version this implementation accepts. Version 2 is reserved and
// rejected outright — there is no migration path (SPEC_FULL.md §9,
// Decided Open Question 3).
const HierarchicalFormatVersion = 1

// Item type enum values for ManifestItem.ItemType (spec.md §6's
// hierarchical-manifest field contract).
const (
	ItemTypeFile      = "File"
	ItemTypeDirectory = "Directory"
)

// ManifestItem is one path entry at a given tree depth: either a file
// (with its ordered chunk-ids) or a directory marker.
type ManifestItem struct {
	Path     string   `json:"path"`
	ChunkIDs []uint64 `json:"chunk_ids,omitempty"`
	ItemType string   `json:"item_type"`
}

// ManifestLevel holds every item at one tree depth, ordered
// lexicographically by path.
type ManifestLevel struct {
	Depth int            `json:"depth"`
	Items []ManifestItem `json:"items"`
}

// SubEngramRef points at another engram artifact that holds a
// router/shard node's contents (spec.md §3 "sub-engrams map", §6's
// field contract). Path duplicates the map key it's stored under in
// HierarchicalManifest.SubEngrams, so a ref is self-describing even
// when handled outside that map (e.g. copied into a list).
type SubEngramRef struct {
	Path         string `json:"path"`
	ArtifactFile string `json:"artifact_file"`
	Hash         string `json:"hash"`
}

// HierarchicalManifest is the tree-of-levels manifest format used by
// the hierarchical bundler (spec.md §3, §4.6, §6).
type HierarchicalManifest struct {
	HierarchicalVersion int                     `json:"hierarchical_version"`
	RootPath            string                  `json:"root_path"`
	Levels              []ManifestLevel         `json:"levels"`
	SubEngrams          map[string]SubEngramRef `json:"sub_engrams,omitempty"`
}

// NewHierarchical returns an empty hierarchical manifest at the
// current version, rooted at rootPath.
func NewHierarchical(rootPath string) *HierarchicalManifest {
	return &HierarchicalManifest{
		HierarchicalVersion: HierarchicalFormatVersion,
		RootPath:            rootPath,
		SubEngrams:          make(map[string]SubEngramRef),
	}
}

// AddLevel appends a level, keeping Levels sorted by depth and each
// level's Items sorted by path.
func (m *HierarchicalManifest) AddLevel(level ManifestLevel) {
	sort.Slice(level.Items, func(i, j int) bool { return level.Items[i].Path < level.Items[j].Path })
	m.Levels = append(m.Levels, level)
	sort.Slice(m.Levels, func(i, j int) bool { return m.Levels[i].Depth < m.Levels[j].Depth })
}

// AddSubEngram registers a sub-engram reference keyed by directory
// path, filling in ref.Path from dirPath so the ref is self-describing
// independent of the map it's stored in.
func (m *HierarchicalManifest) AddSubEngram(dirPath string, ref SubEngramRef) {
	if m.SubEngrams == nil {
		m.SubEngrams = make(map[string]SubEngramRef)
	}
	ref.Path = dirPath
	m.SubEngrams[dirPath] = ref
}

// MarshalSorted serializes the manifest with stable ordering at every
// level (spec.md §4.3's byte-stability requirement).
func (m *HierarchicalManifest) MarshalSorted() ([]byte, error) {
	sort.Slice(m.Levels, func(i, j int) bool { return m.Levels[i].Depth < m.Levels[j].Depth })
	for i := range m.Levels {
		items := m.Levels[i].Items
		sort.Slice(items, func(a, b int) bool { return items[a].Path < items[b].Path })
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errorsx.IoError("failed to marshal hierarchical manifest", err)
	}
	return data, nil
}

// UnmarshalHierarchical parses a hierarchical manifest and rejects any
// major version other than HierarchicalFormatVersion, per the decided
// "no migration path" policy.
func UnmarshalHierarchical(data []byte) (*HierarchicalManifest, error) {
	var m HierarchicalManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errorsx.IoError("failed to parse hierarchical manifest", err)
	}
	if m.HierarchicalVersion != HierarchicalFormatVersion {
		return nil, errorsx.New(errorsx.KindInvalidManifestVersion, "unsupported hierarchical_version", nil).
			WithDetail("hierarchical_version", itoa(m.HierarchicalVersion)).
			WithSuggestion("rebuild the hierarchical engram with the current tool version")
	}
	return &m, nil
}

// SubEngramFor returns the sub-engram reference for dirPath and
// whether one is registered.
func (m *HierarchicalManifest) SubEngramFor(dirPath string) (SubEngramRef, bool) {
	ref, ok := m.SubEngrams[dirPath]
	return ref, ok
}
