package manifest

import (
	"encoding/json"
	"sort"

	"github.com/embeddenator/embeddenator/internal/errorsx"
)

// FlatFormatVersion is the only flat-manifest format version this
// implementation writes or accepts.
const FlatFormatVersion = 1

// FileEntry is one logical file indexed by a manifest: its path, its
// ordered chunk-ids, and soft-delete state (spec.md §3 "File entry").
type FileEntry struct {
	Path     string   `json:"path"`
	IsText   bool     `json:"is_text"`
	Size     int64    `json:"size"`
	ChunkIDs []uint64 `json:"chunk_ids"`
	Deleted  bool     `json:"deleted"`
}

// FlatManifest is a list of file entries plus optional per-chunk
// hashes and a format-version tag (spec.md §3 "Flat manifest").
type FlatManifest struct {
	FormatVersion int               `json:"format_version"`
	Files         []FileEntry       `json:"files"`
	ChunkHashes   map[uint64]string `json:"chunk_hashes,omitempty"`
}

// NewFlat returns an empty flat manifest at the current format version.
func NewFlat() *FlatManifest {
	return &FlatManifest{FormatVersion: FlatFormatVersion}
}

// AddFile appends a file entry, keeping Files sorted by path so that
// serialization is byte-stable regardless of insertion order.
func (m *FlatManifest) AddFile(entry FileEntry) {
	m.Files = append(m.Files, entry)
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Path < m.Files[j].Path })
}

// Find returns the file entry at path, or nil if absent.
func (m *FlatManifest) Find(path string) *FileEntry {
	for i := range m.Files {
		if m.Files[i].Path == path {
			return &m.Files[i]
		}
	}
	return nil
}

// MarshalSorted serializes the manifest with every nesting level's
// keys and slices in sorted order, as spec.md §4.3 requires for
// byte-stable output. encoding/json already sorts map keys, including
// ChunkHashes' numeric keys; the explicit sort here orders Files by
// Path.
func (m *FlatManifest) MarshalSorted() ([]byte, error) {
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Path < m.Files[j].Path })
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errorsx.IoError("failed to marshal flat manifest", err)
	}
	return data, nil
}

// UnmarshalFlat parses a flat manifest and rejects unknown format versions.
func UnmarshalFlat(data []byte) (*FlatManifest, error) {
	var m FlatManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errorsx.IoError("failed to parse flat manifest", err)
	}
	if m.FormatVersion != FlatFormatVersion {
		return nil, errorsx.New(errorsx.KindInvalidManifestVersion, "unsupported flat manifest format version", nil).
			WithDetail("format_version", itoa(m.FormatVersion))
	}
	return &m, nil
}

func itoa(v int) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
