package packed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromTrits_ToTrits_RoundTrips(t *testing.T) {
	trits := []int8{1, 0, -1, 1, -1, 0, 0, 1}
	w, err := FromTrits(trits)
	require.NoError(t, err)

	got := w.ToTrits(len(trits))
	assert.Equal(t, trits, got)
}

// Hand-verified carry-rule cases: w=5 -> [-1,-1,1], w=-5 -> [1,1,-1].
func TestToTrits_CarryRule(t *testing.T) {
	assert.Equal(t, []int8{-1, -1, 1}, Word(5).ToTrits(3))
	assert.Equal(t, []int8{1, 1, -1}, Word(-5).ToTrits(3))
}

func TestFromTrits_RejectsTooManyTrits(t *testing.T) {
	trits := make([]int8, MaxTrits+1)
	_, err := FromTrits(trits)
	require.Error(t, err)
}

func TestFromTrits_RejectsOutOfRangeDigit(t *testing.T) {
	_, err := FromTrits([]int8{2})
	require.Error(t, err)
}

func TestDot_AgreesWithBitmaskDot(t *testing.T) {
	a, err := FromTrits([]int8{1, -1, 0, 1, 1, -1, 0, 0, 1, -1})
	require.NoError(t, err)
	b, err := FromTrits([]int8{-1, -1, 1, 1, 0, 0, 1, -1, 1, 0})
	require.NoError(t, err)

	n := 10
	scalar := Dot(a, b, n)
	viaBitmask := DotViaBitmask(a, b, n)

	assert.Equal(t, scalar, viaBitmask)
}

func TestDot_SelfDotEqualsNonzeroCount(t *testing.T) {
	trits := []int8{1, -1, 1, 0, -1, 0, 1}
	w, err := FromTrits(trits)
	require.NoError(t, err)

	var nnz int64
	for _, tr := range trits {
		if tr != 0 {
			nnz++
		}
	}
	assert.Equal(t, nnz, Dot(w, w, len(trits)))
}

func TestBind_ElementwiseTernaryProduct(t *testing.T) {
	a, err := FromTrits([]int8{1, -1, 0, 1})
	require.NoError(t, err)
	b, err := FromTrits([]int8{1, 1, 1, -1})
	require.NoError(t, err)

	bound, err := Bind(a, b, 4)
	require.NoError(t, err)

	assert.Equal(t, []int8{1, -1, 0, -1}, bound.ToTrits(4))
}
