package packed

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/embeddenator/embeddenator/internal/errorsx"
)

// BlockVector partitions a full VSA dimension into Blocks equal-sized
// blocks of BlockSize trits each, storing only the blocks that carry a
// nonzero Word — the block-sparse representation named in spec.md
// §4.2 for high-dimensional vectors where nonzeros cluster.
type BlockVector struct {
	Dim       int
	BlockSize int
	Blocks    int

	active *roaring.Bitmap
	words  map[uint32]Word
}

// NewBlockVector builds an all-zero block-sparse vector over dim
// trits, each block holding blockSize trits (dim must be an exact
// multiple of blockSize).
func NewBlockVector(dim, blockSize int) (*BlockVector, error) {
	if blockSize <= 0 || blockSize > MaxTrits {
		return nil, errorsx.New(errorsx.KindInternal, "block size must be in [1, 39]", nil)
	}
	if dim%blockSize != 0 {
		return nil, errorsx.New(errorsx.KindInternal, "dimension must be an exact multiple of block size", nil)
	}
	return &BlockVector{
		Dim:       dim,
		BlockSize: blockSize,
		Blocks:    dim / blockSize,
		active:    roaring.New(),
		words:     make(map[uint32]Word),
	}, nil
}

// SetBlock installs w as the packed contents of block index b,
// marking it active. Setting the zero word removes the block from
// the active set (it carries no information worth storing).
func (bv *BlockVector) SetBlock(b uint32, w Word) error {
	if int(b) >= bv.Blocks {
		return errorsx.New(errorsx.KindInternal, "block index out of range", nil)
	}
	if w == 0 {
		bv.active.Remove(b)
		delete(bv.words, b)
		return nil
	}
	bv.active.Add(b)
	bv.words[b] = w
	return nil
}

// Block returns the packed word at block index b, or the zero Word if
// the block is inactive.
func (bv *BlockVector) Block(b uint32) Word {
	return bv.words[b]
}

// ActiveBlocks returns the sorted indices of blocks carrying nonzero
// content.
func (bv *BlockVector) ActiveBlocks() []uint32 {
	out := make([]uint32, 0, bv.active.GetCardinality())
	it := bv.active.Iterator()
	for it.HasNext() {
		out = append(out, it.Next())
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NNZBlocks reports how many blocks are active.
func (bv *BlockVector) NNZBlocks() int {
	return int(bv.active.GetCardinality())
}

func (bv *BlockVector) requireSameShape(other *BlockVector) error {
	if bv.Dim != other.Dim || bv.BlockSize != other.BlockSize {
		return errorsx.DimensionMismatch(bv.Dim, other.Dim)
	}
	return nil
}

// BlockDot computes the dot product of two block-sparse vectors by
// iterating only the intersection of their active blocks: a block
// active in exactly one operand contributes zero (the other side is
// the zero Word there), so only shared blocks need a packed Dot call.
func BlockDot(a, b *BlockVector, n int) (int64, error) {
	if err := a.requireSameShape(b); err != nil {
		return 0, err
	}
	inter := roaring.And(a.active, b.active)
	var sum int64
	it := inter.Iterator()
	for it.HasNext() {
		idx := it.Next()
		sum += Dot(a.words[idx], b.words[idx], n)
	}
	return sum, nil
}

// Bundle applies pairwise conflict-cancel bundling block-by-block over
// the union of active blocks, mirroring vsa.Bundle's semantics at the
// packed-word granularity (spec.md §4.1, specialized per §4.2).
func Bundle(a, b *BlockVector, n int) (*BlockVector, error) {
	if err := a.requireSameShape(b); err != nil {
		return nil, err
	}
	out, err := NewBlockVector(a.Dim, a.BlockSize)
	if err != nil {
		return nil, err
	}
	union := roaring.Or(a.active, b.active)
	it := union.Iterator()
	for it.HasNext() {
		idx := it.Next()
		aw := a.words[idx]
		bw := b.words[idx]
		at := aw.ToTrits(n)
		bt := bw.ToTrits(n)
		sum := make([]int8, n)
		for i := 0; i < n; i++ {
			s := at[i] + bt[i]
			switch {
			case s > 0:
				sum[i] = 1
			case s < 0:
				sum[i] = -1
			default:
				sum[i] = 0
			}
		}
		w, err := FromTrits(sum)
		if err != nil {
			return nil, err
		}
		if err := out.SetBlock(idx, w); err != nil {
			return nil, err
		}
	}
	return out, nil
}
