package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeddenator/embeddenator/internal/codebook"
	"github.com/embeddenator/embeddenator/internal/vsa"
)

const testDim = 4000
const testTarget = 100

func newTestCodebook(t *testing.T, payloads ...[]byte) *codebook.Store {
	t.Helper()
	cb, err := codebook.New(codebook.Config{Dimension: testDim, TargetNonzero: testTarget})
	require.NoError(t, err)
	for _, p := range payloads {
		_, err := cb.Insert(p)
		require.NoError(t, err)
	}
	return cb
}

func TestBuildIndex_PopulatesBucketsForEveryNonzero(t *testing.T) {
	cb := newTestCodebook(t, []byte("hello holographic world"))
	idx, err := BuildIndex(cb, testDim, Config{})
	require.NoError(t, err)

	total := 0
	for _, postings := range idx.buckets {
		total += len(postings)
	}
	assert.Equal(t, testTarget, total)
}

func TestBuildIndex_SkipsUnreferencedEntries(t *testing.T) {
	cb := newTestCodebook(t, []byte("alpha"))
	id, err := cb.Insert([]byte("beta"))
	require.NoError(t, err)
	require.NoError(t, cb.MarkUnreferenced(id))

	idx, err := BuildIndex(cb, testDim, Config{})
	require.NoError(t, err)

	for _, postings := range idx.buckets {
		for _, p := range postings {
			assert.NotEqual(t, id, p.ChunkID)
		}
	}
}

func TestQuery_FindsExactContentMatchAtTop(t *testing.T) {
	cb := newTestCodebook(t,
		[]byte("the quick brown fox jumps over the lazy dog"),
		[]byte("completely unrelated filler payload bytes here"),
		[]byte("another distinct chunk of content for the codebook"),
	)
	idx, err := BuildIndex(cb, testDim, Config{})
	require.NoError(t, err)

	query := vsa.EncodeContent([]byte("the quick brown fox jumps over the lazy dog"), testDim, testTarget)
	results, err := Query(idx, query, cb, 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	assert.Equal(t, uint64(0), results[0].ChunkID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestQuery_RejectsDimensionMismatch(t *testing.T) {
	cb := newTestCodebook(t, []byte("payload"))
	idx, err := BuildIndex(cb, testDim, Config{})
	require.NoError(t, err)

	_, err = Query(idx, vsa.Zero(testDim+1), cb, 1)
	require.Error(t, err)
}

func TestQuery_ReturnsAtMostK(t *testing.T) {
	payloads := make([][]byte, 0, 10)
	for i := 0; i < 10; i++ {
		payloads = append(payloads, []byte{byte(i), byte(i + 1), byte(i + 2)})
	}
	cb := newTestCodebook(t, payloads...)
	idx, err := BuildIndex(cb, testDim, Config{})
	require.NoError(t, err)

	query := vsa.EncodeContent(payloads[0], testDim, testTarget)
	results, err := Query(idx, query, cb, 3)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 3)
}

func TestQuery_NoiseScoresLow(t *testing.T) {
	cb := newTestCodebook(t, []byte("a natural language sentence about holographic storage"))
	idx, err := BuildIndex(cb, testDim, Config{})
	require.NoError(t, err)

	noise := vsa.EncodeContent([]byte("zzz qux plonk unrelated gibberish token stream"), testDim, testTarget)
	results, err := Query(idx, noise, cb, 1)
	require.NoError(t, err)
	if len(results) > 0 {
		assert.Less(t, results[0].Score, 0.30)
	}
}
