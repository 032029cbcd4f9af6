package retrieval

import (
	"sort"

	"github.com/embeddenator/embeddenator/internal/codebook"
	"github.com/embeddenator/embeddenator/internal/errorsx"
	"github.com/embeddenator/embeddenator/internal/vsa"
)

// DefaultShiftWidth is the bucket-shift sweep's default neighbouring-
// component window (SPEC_FULL.md §9, Decided Open Question 1).
const DefaultShiftWidth = 2

// DefaultCandidatePoolSize bounds how many chunk-ids survive each
// bucket's local vote before merging into the global candidate set.
const DefaultCandidatePoolSize = 64

// Config tunes the inverted index and its query sweep.
type Config struct {
	ShiftWidth        int
	CandidatePoolSize int
}

func (c Config) shiftWidth() int {
	if c.ShiftWidth <= 0 {
		return DefaultShiftWidth
	}
	return c.ShiftWidth
}

func (c Config) candidatePoolSize() int {
	if c.CandidatePoolSize <= 0 {
		return DefaultCandidatePoolSize
	}
	return c.CandidatePoolSize
}

// posting is one (chunk-id, sign) pair in a component's bucket.
type posting struct {
	ChunkID uint64
	Sign    int8
}

// Index is the bucketed posting-list inverted index over a codebook's
// content-vectors: for every component in [0, Dim), the set of active
// chunks with a nonzero there (spec.md §4.7). It is built once and
// reused across queries.
type Index struct {
	Dim     int
	Config  Config
	buckets map[uint32][]posting
}

// BuildIndex scans every active (non-unreferenced) codebook entry's
// content-vector and populates one posting per nonzero component.
func BuildIndex(cb *codebook.Store, dim int, cfg Config) (*Index, error) {
	idx := &Index{Dim: dim, Config: cfg, buckets: make(map[uint32][]posting)}

	err := cb.Iterate(func(e *codebook.Entry) error {
		if e.Unreferenced {
			return nil
		}
		for _, c := range e.ContentVector.Pos {
			idx.buckets[c] = append(idx.buckets[c], posting{ChunkID: e.ID, Sign: 1})
		}
		for _, c := range e.ContentVector.Neg {
			idx.buckets[c] = append(idx.buckets[c], posting{ChunkID: e.ID, Sign: -1})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// Result is one ranked match: the chunk-id and its exact cosine
// similarity against the query vector.
type Result struct {
	ChunkID uint64
	Score   float64
}

// Query runs the bucket-shift sweep: for every query-nonzero
// component, it consults that component's bucket and a shift-width
// window of neighbours, casts a weighted vote per candidate chunk-id
// (positive for a matching sign, negative for the opposite sign),
// keeps a bounded per-bucket pool, merges pools into a global
// candidate set, and reranks the merged set by cosine (vsa.CosineAuto,
// scalar or SIMD-dense depending on density) against cb's content-
// vectors (spec.md §4.7).
func Query(idx *Index, query *vsa.SparseVector, cb *codebook.Store, k int) ([]Result, error) {
	if query.Dim != idx.Dim {
		return nil, errorsx.DimensionMismatch(idx.Dim, query.Dim)
	}
	if k <= 0 {
		return nil, errorsx.New(errorsx.KindInternal, "k must be positive", nil)
	}

	votes := make(map[uint64]float64)
	width := idx.Config.shiftWidth()
	pool := idx.Config.candidatePoolSize()

	sweep := func(component uint32, querySign int8) {
		bucketVotes := make(map[uint64]float64)
		for offset := -width; offset <= width; offset++ {
			shifted := int(component) + offset
			if shifted < 0 || shifted >= idx.Dim {
				continue
			}
			weight := 1.0 / float64(1+abs(offset))
			for _, p := range idx.buckets[uint32(shifted)] {
				if p.Sign == querySign {
					bucketVotes[p.ChunkID] += weight
				} else {
					bucketVotes[p.ChunkID] -= weight
				}
			}
		}
		for id, v := range topN(bucketVotes, pool) {
			votes[id] += v
		}
	}

	for _, c := range query.Pos {
		sweep(c, 1)
	}
	for _, c := range query.Neg {
		sweep(c, -1)
	}

	candidates := make([]uint64, 0, len(votes))
	for id := range votes {
		candidates = append(candidates, id)
	}

	results := make([]Result, 0, len(candidates))
	for _, id := range candidates {
		v, err := cb.ContentVector(id)
		if err != nil {
			return nil, err
		}
		score, err := vsa.CosineAuto(query, v)
		if err != nil {
			return nil, err
		}
		results = append(results, Result{ChunkID: id, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// topN returns the n highest-vote entries of m, keyed by chunk-id, as
// a plain map — the bounded per-bucket candidate pool (spec.md §4.7).
func topN(m map[uint64]float64, n int) map[uint64]float64 {
	if len(m) <= n {
		return m
	}
	type kv struct {
		id   uint64
		vote float64
	}
	all := make([]kv, 0, len(m))
	for id, v := range m {
		all = append(all, kv{id, v})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].vote != all[j].vote {
			return all[i].vote > all[j].vote
		}
		return all[i].id < all[j].id
	})
	out := make(map[uint64]float64, n)
	for _, e := range all[:n] {
		out[e.id] = e.vote
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
