package vsa

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
)

// stream is a deterministic, platform-independent pseudo-random byte
// stream built from repeated SHA-256 hashing of seed||counter
// ("cryptographic-hash-seeded pseudo-random stream", spec.md §4.1).
// It never depends on time, goroutine scheduling, or machine word
// size, so Encode is bit-identical across platforms and runs.
type stream struct {
	seed    []byte
	counter uint64
}

func newStream(seed []byte) *stream {
	s := make([]byte, len(seed))
	copy(s, seed)
	return &stream{seed: s}
}

// next64 returns the next 8 bytes of the stream as a uint64.
func (s *stream) next64() uint64 {
	var counterBuf [8]byte
	binary.LittleEndian.PutUint64(counterBuf[:], s.counter)
	s.counter++

	h := sha256.New()
	h.Write(s.seed)
	h.Write(counterBuf[:])
	digest := h.Sum(nil)

	return binary.LittleEndian.Uint64(digest[:8])
}

// Encode derives a deterministic SparseVector from seed with exactly
// targetNonzero components (adjusting down if targetNonzero > dim).
// The first ceil(targetNonzero/2) distinct indices drawn from the
// stream are assigned +1, the remaining assigned -1 — so two calls
// with the same seed and parameters always produce bit-identical
// vectors, and cosine(Encode(s), Encode(s)) == 1.0 exactly (spec.md §4.1, §8).
func Encode(seed []byte, dim int, targetNonzero int) *SparseVector {
	if targetNonzero > dim {
		targetNonzero = dim
	}
	if targetNonzero <= 0 || dim <= 0 {
		return Zero(dim)
	}

	numPos := (targetNonzero + 1) / 2 // ceil(T/2)
	numNeg := targetNonzero / 2       // floor(T/2)

	s := newStream(seed)
	chosen := make(map[uint32]struct{}, targetNonzero)
	order := make([]uint32, 0, targetNonzero)

	for len(order) < targetNonzero {
		idx := uint32(s.next64() % uint64(dim))
		if _, dup := chosen[idx]; dup {
			continue
		}
		chosen[idx] = struct{}{}
		order = append(order, idx)
	}

	pos := append([]uint32(nil), order[:numPos]...)
	neg := append([]uint32(nil), order[numPos:numPos+numNeg]...)

	sort.Slice(pos, func(i, j int) bool { return pos[i] < pos[j] })
	sort.Slice(neg, func(i, j int) bool { return neg[i] < neg[j] })

	return &SparseVector{Dim: dim, Pos: pos, Neg: neg}
}

// EncodeChunkID derives the id-vector bundled into an engram's root:
// seeded by the chunk-id alone (never the chunk's bytes), so that two
// chunks storing identical content still get different, decorrelated
// vectors and don't cancel each other under bundling (spec.md §4.1).
func EncodeChunkID(chunkID uint64, dim, targetNonzero int) *SparseVector {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], chunkID)
	return Encode(buf[:], dim, targetNonzero)
}

// EncodeContent derives the content-vector used only by the retrieval
// engine's inverted index (never bundled into any root): seeded by a
// content hash, so that a query over the same bytes — or a byte-for-
// byte subsequence hashed consistently — maps to the same seed space
// as the stored chunk (SPEC_FULL.md §3 "Dual per-chunk vector roles").
func EncodeContent(content []byte, dim, targetNonzero int) *SparseVector {
	sum := sha256.Sum256(content)
	return Encode(sum[:], dim, targetNonzero)
}
