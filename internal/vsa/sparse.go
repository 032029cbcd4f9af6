package vsa

import (
	"sort"

	"github.com/embeddenator/embeddenator/internal/errorsx"
)

// SparseVector is the canonical VSA value: two disjoint, sorted,
// deduplicated index sets over a fixed dimension Dim — the positive
// set (components at +1) and the negative set (components at -1).
// Every other component is implicitly 0.
type SparseVector struct {
	Dim int
	Pos []uint32
	Neg []uint32
}

// New builds a SparseVector, validating the positive/negative/sorted/
// disjoint invariants from spec.md §3. The caller's slices are not
// copied; pass ownership or Clone first.
func New(dim int, pos, neg []uint32) (*SparseVector, error) {
	v := &SparseVector{Dim: dim, Pos: pos, Neg: neg}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

// Zero returns the all-zero vector of the given dimension.
func Zero(dim int) *SparseVector {
	return &SparseVector{Dim: dim, Pos: nil, Neg: nil}
}

// Validate checks the invariants that must hold before and after every
// operation: sorted ascending, deduplicated, and disjoint positive and
// negative sets, and total support not exceeding Dim. A violation here
// is a programming error, not a user-facing failure (spec.md §7).
func (v *SparseVector) Validate() error {
	if !isSortedUnique(v.Pos) {
		return errorsx.InternalError("positive index set is not sorted/deduplicated", nil)
	}
	if !isSortedUnique(v.Neg) {
		return errorsx.InternalError("negative index set is not sorted/deduplicated", nil)
	}
	if len(v.Pos)+len(v.Neg) > v.Dim {
		return errorsx.InternalError("support exceeds dimension", nil)
	}
	if intersectCount(v.Pos, v.Neg) != 0 {
		return errorsx.InternalError("positive and negative index sets are not disjoint", nil)
	}
	for _, idx := range v.Pos {
		if int(idx) >= v.Dim {
			return errorsx.InternalError("positive index out of range", nil)
		}
	}
	for _, idx := range v.Neg {
		if int(idx) >= v.Dim {
			return errorsx.InternalError("negative index out of range", nil)
		}
	}
	return nil
}

// NNZ returns the number of nonzero components (|positive| + |negative|).
func (v *SparseVector) NNZ() int {
	return len(v.Pos) + len(v.Neg)
}

// Clone returns a deep copy of v.
func (v *SparseVector) Clone() *SparseVector {
	pos := make([]uint32, len(v.Pos))
	copy(pos, v.Pos)
	neg := make([]uint32, len(v.Neg))
	copy(neg, v.Neg)
	return &SparseVector{Dim: v.Dim, Pos: pos, Neg: neg}
}

// Equal reports whether v and w have identical dimension and index sets.
func (v *SparseVector) Equal(w *SparseVector) bool {
	if v.Dim != w.Dim || len(v.Pos) != len(w.Pos) || len(v.Neg) != len(w.Neg) {
		return false
	}
	for i := range v.Pos {
		if v.Pos[i] != w.Pos[i] {
			return false
		}
	}
	for i := range v.Neg {
		if v.Neg[i] != w.Neg[i] {
			return false
		}
	}
	return true
}

// requireSameDim returns DimensionMismatch unless a and b share a dimension.
func requireSameDim(a, b *SparseVector) error {
	if a.Dim != b.Dim {
		return errorsx.DimensionMismatch(a.Dim, b.Dim)
	}
	return nil
}

// isSortedUnique reports whether s is strictly ascending (implies no duplicates).
func isSortedUnique(s []uint32) bool {
	for i := 1; i < len(s); i++ {
		if s[i] <= s[i-1] {
			return false
		}
	}
	return true
}

// intersectCount returns |a ∩ b| for two sorted, deduplicated slices, in O(|a|+|b|).
func intersectCount(a, b []uint32) int {
	i, j, count := 0, 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			count++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return count
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys(m map[uint32]int32) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
