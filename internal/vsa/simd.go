package vsa

import (
	"math"

	"github.com/viterin/vek/vek32"

	"github.com/embeddenator/embeddenator/internal/packed"
)

// DenseDensityThreshold is the active-component fraction above which
// a vector is considered "dense enough" to unpack and score with the
// SIMD path instead of the scalar sorted-set merge (spec.md §4.2). It
// is a performance tuning knob, not a contract.
const DenseDensityThreshold = 0.25

// DefaultBlockSize is the block width, in trits, ToDenseViaBlocks packs
// through internal/packed's block-sparse representation: MaxTrits is
// the widest a single packed.Word can hold (spec.md §4.2).
const DefaultBlockSize = packed.MaxTrits

// ToDense materializes a SparseVector's local (block-relative) support
// into a dense ±1/0 float32 array of length v.Dim. Intended only for
// small blocks (block-sparse sub-vectors), never for the full D-
// dimensional root — that would defeat the O(T) contract.
func ToDense(v *SparseVector) []float32 {
	dense := make([]float32, v.Dim)
	for _, idx := range v.Pos {
		dense[idx] = 1
	}
	for _, idx := range v.Neg {
		dense[idx] = -1
	}
	return dense
}

// ToDenseViaBlocks packs v's support into a packed.BlockVector —
// spec.md §4.2's block-sparse variant, only the blocks that carry a
// nonzero trit are ever stored or visited — then unpacks just those
// active blocks' packed.Words back into a dense ±1/0 float32 array of
// length v.Dim for the SIMD rerank path. Blocks with no nonzero trit
// are left zeroed without ever being packed, unpacked, or iterated.
func ToDenseViaBlocks(v *SparseVector, blockSize int) ([]float32, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	blocks := (v.Dim + blockSize - 1) / blockSize
	bv, err := packed.NewBlockVector(blocks*blockSize, blockSize)
	if err != nil {
		return nil, err
	}

	trits := make(map[uint32][]int8, blocks)
	mark := func(idx uint32, val int8) {
		b := idx / uint32(blockSize)
		if trits[b] == nil {
			trits[b] = make([]int8, blockSize)
		}
		trits[b][idx%uint32(blockSize)] = val
	}
	for _, idx := range v.Pos {
		mark(idx, 1)
	}
	for _, idx := range v.Neg {
		mark(idx, -1)
	}
	for b, t := range trits {
		w, err := packed.FromTrits(t)
		if err != nil {
			return nil, err
		}
		if err := bv.SetBlock(b, w); err != nil {
			return nil, err
		}
	}

	dense := make([]float32, v.Dim)
	for _, b := range bv.ActiveBlocks() {
		base := int(b) * blockSize
		for i, t := range bv.Block(b).ToTrits(blockSize) {
			if pos := base + i; pos < v.Dim {
				dense[pos] = float32(t)
			}
		}
	}
	return dense, nil
}

// DenseCosine computes cosine similarity between two dense ±1/0
// float32 vectors using viterin/vek's SIMD dot products. The dot
// products of ±1/0 vectors are exact integers; the square root and
// division are done in float64 with the same formula as the scalar,
// sorted-set Cosine, so the two agree on the same logical vector
// within 1e-10 (spec.md §4.1's SIMD-acceleration contract; verified in
// simd_test.go).
func DenseCosine(a, b []float32) float64 {
	numerator := vek32.Dot(a, b)
	sqA := vek32.Dot(a, a)
	sqB := vek32.Dot(b, b)
	if sqA == 0 || sqB == 0 {
		return 0
	}
	return float64(numerator) / math.Sqrt(float64(sqA)*float64(sqB))
}

// CosineAuto picks between the scalar sorted-set Cosine and the SIMD
// dense path by density: once either vector's nonzero fraction
// reaches DenseDensityThreshold, unpacking it through
// ToDenseViaBlocks and scoring with DenseCosine is cheaper than the
// sparse merge (spec.md §4.1a). It is the rerank-time entry point
// internal/retrieval uses; it must agree with Cosine within 1e-10 for
// the same logical vectors (verified in simd_test.go).
func CosineAuto(a, b *SparseVector) (float64, error) {
	if err := requireSameDim(a, b); err != nil {
		return 0, err
	}

	densityA := float64(a.NNZ()) / float64(a.Dim)
	densityB := float64(b.NNZ()) / float64(b.Dim)
	if densityA < DenseDensityThreshold && densityB < DenseDensityThreshold {
		return Cosine(a, b)
	}

	da, err := ToDenseViaBlocks(a, DefaultBlockSize)
	if err != nil {
		return 0, err
	}
	db, err := ToDenseViaBlocks(b, DefaultBlockSize)
	if err != nil {
		return 0, err
	}
	return DenseCosine(da, db), nil
}
