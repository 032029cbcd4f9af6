package update

import (
	"context"

	"github.com/embeddenator/embeddenator/internal/chunker"
	"github.com/embeddenator/embeddenator/internal/codebook"
	"github.com/embeddenator/embeddenator/internal/errorsx"
	"github.com/embeddenator/embeddenator/internal/manifest"
	"github.com/embeddenator/embeddenator/internal/vsa"
)

// Config carries the VSA and chunking parameters a Handle needs to
// derive vectors for newly added content identically to ingest.
type Config struct {
	Dimension     int
	TargetNonzero int
	ChunkSize     int
	CacheSize     int
}

// Handle is an open, mutable flat engram: the live root vector, its
// codebook, and its manifest. All mutators on Handle run against a
// single in-memory state; callers persist the result (internal/engram)
// after each call or batch of calls.
type Handle struct {
	cfg      Config
	Root     *vsa.SparseVector
	Codebook *codebook.Store
	Manifest *manifest.FlatManifest
}

// Open wraps an already-loaded root/codebook/manifest triple — as
// produced by internal/ingest or internal/engram.Load — for
// incremental mutation.
func Open(cfg Config, root *vsa.SparseVector, cb *codebook.Store, m *manifest.FlatManifest) *Handle {
	return &Handle{cfg: cfg, Root: root, Codebook: cb, Manifest: m}
}

// AddFile chunks data, inserts each chunk into the codebook, and
// bundles all of the new chunks' id-vectors into the current root in
// a single sum-then-threshold pass. If path already names a live
// (non-deleted) entry this fails with AlreadyPresent. If path names a
// tombstoned entry, that entry's slot is reused and resurrected
// rather than appending a duplicate path — the net effect the spec's
// "remove then add" modify composition needs.
//
// The new id-vectors must be folded with BundleSumMany, not repeated
// pairwise Bundle calls: pairwise bundling is not associative across
// 3+ vectors (spec.md §4.1), and §9 explicitly requires the sum-then-
// threshold form for large add batches — collapsing it into a fold
// would silently break deterministic builds.
func (h *Handle) AddFile(path string, data []byte) error {
	if existing := h.Manifest.Find(path); existing != nil && !existing.Deleted {
		return errorsx.New(errorsx.KindAlreadyPresent, "path already has a live manifest entry", nil).
			WithDetail("path", path)
	}

	chunks, err := chunker.Split(data, h.chunkSize())
	if err != nil {
		return err
	}

	newVectors := []*vsa.SparseVector{h.Root}
	var chunkIDs []uint64
	for _, c := range chunks {
		id, err := h.Codebook.Insert(c.Bytes)
		if err != nil {
			return err
		}
		v, err := h.Codebook.Vector(id)
		if err != nil {
			return err
		}
		newVectors = append(newVectors, v)
		chunkIDs = append(chunkIDs, id)
	}

	root, err := vsa.BundleSumMany(newVectors)
	if err != nil {
		return err
	}
	h.Root = root

	entry := manifest.FileEntry{
		Path:     path,
		IsText:   chunker.IsText(data),
		Size:     int64(len(data)),
		ChunkIDs: chunkIDs,
		Deleted:  false,
	}
	if existing := h.Manifest.Find(path); existing != nil {
		*existing = entry
		return nil
	}
	h.Manifest.AddFile(entry)
	return nil
}

// RemoveFile soft-deletes path's manifest entry. The codebook and root
// are untouched: VSA bundling is not generally invertible, so deletion
// is a manifest-only flag (spec.md §4.5 "Rationale").
func (h *Handle) RemoveFile(path string) error {
	existing := h.Manifest.Find(path)
	if existing == nil {
		return errorsx.New(errorsx.KindNotFound, "path not found in manifest", nil).WithDetail("path", path)
	}
	if existing.Deleted {
		return errorsx.New(errorsx.KindAlreadyDeleted, "path is already tombstoned", nil).WithDetail("path", path)
	}
	existing.Deleted = true
	return nil
}

// ModifyFile composes RemoveFile then AddFile: old chunks become
// unreferenced in the codebook (but are not removed from it) and the
// manifest entry is replaced with the new content.
func (h *Handle) ModifyFile(path string, data []byte) error {
	if err := h.RemoveFile(path); err != nil {
		return err
	}
	return h.AddFile(path, data)
}

func (h *Handle) chunkSize() int {
	if h.cfg.ChunkSize <= 0 {
		return chunker.DefaultChunkSize
	}
	return h.cfg.ChunkSize
}

// Compact rebuilds a fresh Handle by iterating the current manifest in
// sorted order, extracting bytes for live entries from the current
// codebook, and re-ingesting them into a brand-new codebook with
// sequential chunk-ids starting at 0. This is the only operation that
// reclaims the space held by tombstoned or unreferenced entries.
func (h *Handle) Compact(ctx context.Context) (*Handle, error) {
	freshCodebook, err := codebook.New(codebook.Config{
		Dimension:     h.cfg.Dimension,
		TargetNonzero: h.cfg.TargetNonzero,
		CacheSize:     h.cfg.CacheSize,
	})
	if err != nil {
		return nil, err
	}
	freshManifest := manifest.NewFlat()
	var idVectors []*vsa.SparseVector

	for _, entry := range h.Manifest.Files {
		if entry.Deleted {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, errorsx.Wrap(errorsx.KindCancelled, err)
		}

		content, err := h.extractBytes(entry)
		if err != nil {
			return nil, err
		}

		chunks, err := chunker.Split(content, h.chunkSize())
		if err != nil {
			return nil, err
		}
		newEntry := manifest.FileEntry{Path: entry.Path, IsText: entry.IsText, Size: entry.Size}
		for _, c := range chunks {
			id, err := freshCodebook.Insert(c.Bytes)
			if err != nil {
				return nil, err
			}
			v, err := freshCodebook.Vector(id)
			if err != nil {
				return nil, err
			}
			idVectors = append(idVectors, v)
			newEntry.ChunkIDs = append(newEntry.ChunkIDs, id)
		}
		freshManifest.AddFile(newEntry)
	}

	root, err := vsa.BundleSumMany(idVectors)
	if err != nil {
		return nil, err
	}

	return &Handle{cfg: h.cfg, Root: root, Codebook: freshCodebook, Manifest: freshManifest}, nil
}

// extractBytes concatenates the codebook bytes of entry's chunk-ids in
// order, reproducing the original file content exactly (spec.md §3's
// "File entry" invariant).
func (h *Handle) extractBytes(entry manifest.FileEntry) ([]byte, error) {
	var out []byte
	for _, id := range entry.ChunkIDs {
		b, err := h.Codebook.Lookup(id)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}
