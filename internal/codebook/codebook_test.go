package codebook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embeddenator/embeddenator/internal/errorsx"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Dimension: 2000, TargetNonzero: 60})
	require.NoError(t, err)
	return s
}

func TestInsert_AllocatesMonotonicIDs(t *testing.T) {
	s := newTestStore(t)

	id1, err := s.Insert([]byte("alpha"))
	require.NoError(t, err)
	id2, err := s.Insert([]byte("beta"))
	require.NoError(t, err)

	assert.Equal(t, uint64(0), id1)
	assert.Equal(t, uint64(1), id2)
}

func TestLookup_ReturnsVerbatimBytes(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Insert([]byte("hello chunk"))
	require.NoError(t, err)

	got, err := s.Lookup(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello chunk"), got)
}

func TestLookup_UnknownIDFails(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Lookup(99)
	require.Error(t, err)
	assert.Equal(t, errorsx.KindChunkNotFound, errorsx.GetKind(err))
}

// Two chunks with identical bytes must get different id-vectors (the
// whole point of seeding by chunk-id, not content, per spec.md §4.1).
func TestInsert_IdenticalBytesGetDifferentIDVectors(t *testing.T) {
	s := newTestStore(t)
	id1, err := s.Insert([]byte("same payload"))
	require.NoError(t, err)
	id2, err := s.Insert([]byte("same payload"))
	require.NoError(t, err)

	v1, err := s.Vector(id1)
	require.NoError(t, err)
	v2, err := s.Vector(id2)
	require.NoError(t, err)

	assert.False(t, v1.Equal(v2))
}

// But their content-vectors must be identical, since content-vectors
// are seeded by bytes and exist precisely so a verbatim-content query
// can find either duplicate (spec.md §4.7, Scenario 6).
func TestInsert_IdenticalBytesGetEqualContentVectors(t *testing.T) {
	s := newTestStore(t)
	id1, err := s.Insert([]byte("same payload"))
	require.NoError(t, err)
	id2, err := s.Insert([]byte("same payload"))
	require.NoError(t, err)

	c1, err := s.ContentVector(id1)
	require.NoError(t, err)
	c2, err := s.ContentVector(id2)
	require.NoError(t, err)

	assert.True(t, c1.Equal(c2))
}

func TestMarkUnreferenced_DoesNotRemoveEntry(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Insert([]byte("will be orphaned"))
	require.NoError(t, err)

	require.NoError(t, s.MarkUnreferenced(id))

	// Bytes and vector remain readable until a compact rebuild.
	got, err := s.Lookup(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("will be orphaned"), got)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 0, s.ActiveCount())
}

func TestIterate_VisitsEntriesInChunkIDOrder(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Insert([]byte("a"))
	require.NoError(t, err)
	_, err = s.Insert([]byte("b"))
	require.NoError(t, err)
	_, err = s.Insert([]byte("c"))
	require.NoError(t, err)

	var seen []uint64
	err = s.Iterate(func(e *Entry) error {
		seen = append(seen, e.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 1, 2}, seen)
}
