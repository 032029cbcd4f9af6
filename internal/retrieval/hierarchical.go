package retrieval

import (
	"sort"

	"github.com/embeddenator/embeddenator/internal/codebook"
	"github.com/embeddenator/embeddenator/internal/errorsx"
	"github.com/embeddenator/embeddenator/internal/manifest"
	"github.com/embeddenator/embeddenator/internal/vsa"
)

// SubEngram is a loaded sub-engram's searchable state: its local
// inverted index, the codebook backing that index's content-vectors,
// and the flat manifest mapping its chunk-ids back to file paths.
type SubEngram struct {
	Index    *Index
	Codebook *codebook.Store
	Manifest *manifest.FlatManifest
}

// filePathForChunk scans m's live entries for the one owning chunkID,
// lifting a retrieved chunk-id back to its file path (spec.md §4.7).
func filePathForChunk(m *manifest.FlatManifest, chunkID uint64) (string, bool) {
	for _, f := range m.Files {
		if f.Deleted {
			continue
		}
		for _, id := range f.ChunkIDs {
			if id == chunkID {
				return f.Path, true
			}
		}
	}
	return "", false
}

// SubEngramLoader resolves a router node's shard reference to its
// searchable contents, typically by opening the named engram file
// (internal/engram.Load) and building its index (BuildIndex). A
// loader that cannot find or open the referenced artifact should
// return an error; QueryHierarchical wraps it as MissingSubEngram and
// degrades to the levels it already has.
type SubEngramLoader func(ref manifest.SubEngramRef) (*SubEngram, error)

// NodeVector is one top-level hierarchical node's aggregate vector,
// keyed by its directory path — the same shape internal/hierarchy's
// Build produces in its Result.Nodes.
type NodeVector struct {
	DirPath string
	Vector  *vsa.SparseVector
}

// HierarchicalResult is one ranked match from a hierarchical query,
// identifying both the directory node it descended through and the
// chunk-id found within.
type HierarchicalResult struct {
	DirPath  string
	FilePath string
	ChunkID  uint64
	Score    float64
}

// QueryHierarchical scores every top-level node against query, and
// only descends into (loads and searches) the nodes whose score
// exceeds threshold — the selective unfolding of spec.md §4.7. Nodes
// at or below threshold are skipped entirely, never paying the cost
// of loading their sub-engram. A node whose loader fails degrades:
// the failure is recorded but does not abort the remaining nodes,
// matching §7's "degrade to flat retrieval over available levels"
// policy for MissingSubEngram.
func QueryHierarchical(
	nodes []NodeVector,
	hm *manifest.HierarchicalManifest,
	query *vsa.SparseVector,
	threshold float64,
	k int,
	load SubEngramLoader,
) ([]HierarchicalResult, []error) {
	var results []HierarchicalResult
	var degraded []error

	sorted := append([]NodeVector(nil), nodes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].DirPath < sorted[j].DirPath })

	for _, node := range sorted {
		score, err := vsa.CosineAuto(query, node.Vector)
		if err != nil {
			degraded = append(degraded, err)
			continue
		}
		if score <= threshold {
			continue
		}

		ref, hasSubEngram := hm.SubEngramFor(node.DirPath)
		if !hasSubEngram {
			// A non-router node's own vector already represents its
			// members directly; without a sub-engram there is nothing
			// further to unfold, so the node-level score stands in
			// for its (unknown) best member.
			results = append(results, HierarchicalResult{DirPath: node.DirPath, Score: score})
			continue
		}

		sub, err := load(ref)
		if err != nil {
			degraded = append(degraded, errorsx.New(errorsx.KindMissingSubEngram,
				"failed to load hierarchical sub-engram", err).WithDetail("path", node.DirPath))
			continue
		}

		local, err := Query(sub.Index, query, sub.Codebook, k)
		if err != nil {
			degraded = append(degraded, err)
			continue
		}
		for _, r := range local {
			path, _ := filePathForChunk(sub.Manifest, r.ChunkID)
			results = append(results, HierarchicalResult{
				DirPath: node.DirPath, FilePath: path, ChunkID: r.ChunkID, Score: r.Score,
			})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].DirPath != results[j].DirPath {
			return results[i].DirPath < results[j].DirPath
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, degraded
}
