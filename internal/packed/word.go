package packed

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/embeddenator/embeddenator/internal/errorsx"
)

// MaxTrits is the tight bound on balanced trits in a signed 64-bit
// word: 3^39 < 2^63 - 1 < 3^40 (spec.md §9 "Packed ternary range").
const MaxTrits = 39

// maxMagnitude is (3^39 - 1) / 2, the largest representable signed
// value under balanced-ternary interpretation with MaxTrits digits.
var maxMagnitude = func() int64 {
	p := int64(1)
	for i := 0; i < MaxTrits; i++ {
		p *= 3
	}
	return (p - 1) / 2
}()

// Word is a signed 64-bit integer interpreted as up to MaxTrits
// balanced-ternary digits, digit i being
// ((value mod 3^(i+1)) / 3^i) re-centered to {-1,0,+1} via the carry
// rule applied when the residue is ±2 (spec.md §3).
type Word int64

// FromTrits packs up to MaxTrits balanced-ternary digits (each in
// {-1, 0, +1}) into a Word, least-significant digit first.
func FromTrits(trits []int8) (Word, error) {
	if len(trits) > MaxTrits {
		return 0, errorsx.New(errorsx.KindInternal, "trit count exceeds 39-trit word capacity", nil)
	}
	var value int64
	for i := len(trits) - 1; i >= 0; i-- {
		t := trits[i]
		if t < -1 || t > 1 {
			return 0, errorsx.New(errorsx.KindInternal, "trit value out of {-1,0,1}", nil)
		}
		value = value*3 + int64(t)
	}
	if value > maxMagnitude || value < -maxMagnitude {
		return 0, errorsx.New(errorsx.KindInternal, "packed value exceeds balanced-ternary range", nil)
	}
	return Word(value), nil
}

// ToTrits unpacks the first n balanced-ternary digits of w,
// least-significant first, applying the carry rule when a raw
// remainder of ±2 must be re-centered.
func (w Word) ToTrits(n int) []int8 {
	if n > MaxTrits {
		n = MaxTrits
	}
	trits := make([]int8, n)
	v := int64(w)
	for i := 0; i < n; i++ {
		r := v % 3
		q := v / 3
		switch r {
		case 2:
			r = -1
			q++
		case -2:
			r = 1
			q--
		}
		trits[i] = int8(r)
		v = q
	}
	return trits
}

// Bitmask returns the pos/neg bitmap representation of w's first n
// trits: bit i of pos is set iff digit i is +1, bit i of neg is set
// iff digit i is -1 — the "parallel pos/neg bitmaps" alternative
// representation named in spec.md §4.2.
func (w Word) Bitmask(n int) (pos, neg *bitset.BitSet) {
	trits := w.ToTrits(n)
	pos = bitset.New(uint(n))
	neg = bitset.New(uint(n))
	for i, t := range trits {
		switch {
		case t == 1:
			pos.Set(uint(i))
		case t == -1:
			neg.Set(uint(i))
		}
	}
	return pos, neg
}

// Dot computes the constant-time dot product of two packed words over
// their first n trits by exploiting that each balanced digit
// contributes exactly -1, 0, or +1: the scalar loop below always
// touches all n digits regardless of their values (no early exit, no
// data-dependent branch on magnitude), satisfying the "constant-time"
// contract from spec.md §4.1/§4.2.
func Dot(a, b Word, n int) int64 {
	at := a.ToTrits(n)
	bt := b.ToTrits(n)
	var sum int64
	for i := 0; i < n; i++ {
		sum += int64(at[i]) * int64(bt[i])
	}
	return sum
}

// DotViaBitmask computes the same dot product using the pos/neg
// bitmap representation and popcounts instead of per-digit
// multiplication. It must agree exactly with Dot for every 39-trit
// input pair (spec.md §4.2's required contract; verified in word_test.go).
func DotViaBitmask(a, b Word, n int) int64 {
	aPos, aNeg := a.Bitmask(n)
	bPos, bNeg := b.Bitmask(n)

	ppCount := aPos.IntersectionCardinality(bPos)
	nnCount := aNeg.IntersectionCardinality(bNeg)
	pnCount := aPos.IntersectionCardinality(bNeg)
	npCount := aNeg.IntersectionCardinality(bPos)

	return int64(ppCount) + int64(nnCount) - int64(pnCount) - int64(npCount)
}

// Bind returns the element-wise ternary product of a and b over their
// first n trits, packed back into a Word (spec.md §4.1's Bind,
// specialized to the packed representation).
func Bind(a, b Word, n int) (Word, error) {
	at := a.ToTrits(n)
	bt := b.ToTrits(n)
	out := make([]int8, n)
	for i := 0; i < n; i++ {
		out[i] = at[i] * bt[i]
	}
	return FromTrits(out)
}
