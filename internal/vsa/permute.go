package vsa

// Permutation is a fixed, invertible pseudo-random permutation of
// [0, Dim), used for position-encoding in sequences and path
// components (spec.md §4.1). It is generated once per seed and reused
// across every vector permuted with it.
type Permutation struct {
	Dim     int
	forward []uint32 // forward[i] = where index i maps to
	inverse []uint32 // inverse[forward[i]] = i
}

// NewPermutation derives a deterministic permutation of [0, dim) from
// seed via a Fisher-Yates shuffle driven by the same hash-seeded
// stream used for vector derivation (vsa.stream), so it is
// reproducible across platforms and runs.
func NewPermutation(seed []byte, dim int) *Permutation {
	forward := make([]uint32, dim)
	for i := range forward {
		forward[i] = uint32(i)
	}

	s := newStream(seed)
	for i := dim - 1; i > 0; i-- {
		j := int(s.next64() % uint64(i+1))
		forward[i], forward[j] = forward[j], forward[i]
	}

	inverse := make([]uint32, dim)
	for i, v := range forward {
		inverse[v] = uint32(i)
	}

	return &Permutation{Dim: dim, forward: forward, inverse: inverse}
}

// Apply returns the vector with the permutation's forward mapping
// applied to every index in v's support. The result's index sets are
// re-sorted to preserve the canonical invariant.
func (p *Permutation) Apply(v *SparseVector) *SparseVector {
	return &SparseVector{
		Dim: v.Dim,
		Pos: p.mapSorted(v.Pos),
		Neg: p.mapSorted(v.Neg),
	}
}

// Invert returns the vector with the permutation's inverse mapping
// applied, undoing a prior Apply with the same Permutation.
func (p *Permutation) Invert(v *SparseVector) *SparseVector {
	inv := &Permutation{Dim: p.Dim, forward: p.inverse, inverse: p.forward}
	return inv.Apply(v)
}

func (p *Permutation) mapSorted(indices []uint32) []uint32 {
	out := make([]uint32, len(indices))
	for i, idx := range indices {
		out[i] = p.forward[idx]
	}
	sort32(out)
	return out
}
