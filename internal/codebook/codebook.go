package codebook

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/embeddenator/embeddenator/internal/errorsx"
	"github.com/embeddenator/embeddenator/internal/vsa"
)

// Entry is one codebook record: the chunk's raw bytes, its two
// derived vectors (see the package doc for why there are two), and a
// soft-delete marker toggled by MarkUnreferenced.
type Entry struct {
	ID            uint64
	Bytes         []byte
	IDVector      *vsa.SparseVector
	ContentVector *vsa.SparseVector
	Unreferenced  bool
}

// Store is the append-only chunk-id -> (bytes, vectors) mapping
// described in spec.md §4.3: insert/lookup/vector/mark_unreferenced
// plus sorted iteration over active entries.
type Store struct {
	mu      sync.RWMutex
	dim     int
	target  int
	nextID  uint64
	entries []*Entry
	cache   *lru.Cache[uint64, []byte]
}

// Config carries the VSA parameters every insert needs to derive its
// pair of vectors, plus the size of the recently-looked-up byte cache.
type Config struct {
	Dimension     int
	TargetNonzero int
	CacheSize     int
}

// New creates an empty codebook store. Chunk-ids are allocated
// starting at 0 and are never reused within the store's lifetime.
func New(cfg Config) (*Store, error) {
	if cfg.Dimension <= 0 || cfg.TargetNonzero <= 0 {
		return nil, errorsx.New(errorsx.KindInternal, "codebook requires positive dimension and target density", nil)
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 4096
	}
	cache, err := lru.New[uint64, []byte](size)
	if err != nil {
		return nil, errorsx.IoError("failed to allocate codebook byte cache", err)
	}
	return &Store{
		dim:    cfg.Dimension,
		target: cfg.TargetNonzero,
		cache:  cache,
	}, nil
}

// Insert allocates the next chunk-id, derives its id-vector (seeded by
// the new id) and content-vector (seeded by a hash of bytes), stores
// all three, and returns the id.
func (s *Store) Insert(bytes []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++

	stored := make([]byte, len(bytes))
	copy(stored, bytes)

	entry := &Entry{
		ID:            id,
		Bytes:         stored,
		IDVector:      vsa.EncodeChunkID(id, s.dim, s.target),
		ContentVector: vsa.EncodeContent(stored, s.dim, s.target),
	}
	s.entries = append(s.entries, entry)
	s.cache.Add(id, stored)
	return id, nil
}

// Lookup returns the verbatim bytes stored for chunkID. This is the
// only path extraction uses; VSA similarity never substitutes for it.
func (s *Store) Lookup(chunkID uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if cached, ok := s.cache.Get(chunkID); ok {
		return cached, nil
	}
	e, err := s.find(chunkID)
	if err != nil {
		return nil, err
	}
	s.cache.Add(chunkID, e.Bytes)
	return e.Bytes, nil
}

// Vector returns the id-vector for chunkID — the one that was (or
// would be) bundled into a root, per §4.1's content-independence
// requirement.
func (s *Store) Vector(chunkID uint64) (*vsa.SparseVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, err := s.find(chunkID)
	if err != nil {
		return nil, err
	}
	return e.IDVector, nil
}

// ContentVector returns the retrieval-only, bytes-seeded vector for
// chunkID, used exclusively by the inverted index (§4.7).
func (s *Store) ContentVector(chunkID uint64) (*vsa.SparseVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, err := s.find(chunkID)
	if err != nil {
		return nil, err
	}
	return e.ContentVector, nil
}

// MarkUnreferenced flags chunkID as no longer referenced by any live
// manifest entry. It does not remove the entry; only Compact (in
// internal/update) reclaims space by rebuilding the codebook.
func (s *Store) MarkUnreferenced(chunkID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.find(chunkID)
	if err != nil {
		return err
	}
	e.Unreferenced = true
	s.cache.Remove(chunkID)
	return nil
}

// Iterate calls fn for every entry in chunk-id order, active
// (referenced) entries first-class; fn receives unreferenced entries
// too so callers (e.g. compact) can decide what to keep.
func (s *Store) Iterate(fn func(*Entry) error) error {
	s.mu.RLock()
	snapshot := make([]*Entry, len(s.entries))
	copy(snapshot, s.entries)
	s.mu.RUnlock()

	for _, e := range snapshot {
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Len reports the total number of entries ever inserted, including
// unreferenced ones.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// ActiveCount reports the number of entries not yet marked
// unreferenced.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if !e.Unreferenced {
			n++
		}
	}
	return n
}

// RestoreRecord is the minimal persisted state of one codebook entry:
// its bytes and soft-delete flag. Vectors are never persisted — they
// are re-derived deterministically from the chunk-id/bytes on
// Restore, which halves the on-disk codebook footprint and doubles as
// a determinism self-check (see internal/engram).
type RestoreRecord struct {
	Bytes        []byte
	Unreferenced bool
}

// Restore rebuilds a Store from a sequence of persisted records,
// re-inserting them in order so chunk-ids come out identical to the
// run that produced them, then reapplying soft-delete flags.
func Restore(cfg Config, records []RestoreRecord) (*Store, error) {
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		id, err := s.Insert(rec.Bytes)
		if err != nil {
			return nil, err
		}
		if rec.Unreferenced {
			if err := s.MarkUnreferenced(id); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

// find is the unlocked lookup helper; callers must hold s.mu.
func (s *Store) find(chunkID uint64) (*Entry, error) {
	if chunkID >= uint64(len(s.entries)) {
		return nil, errorsx.New(errorsx.KindChunkNotFound, "chunk-id not found in codebook", nil).
			WithDetail("chunk_id", uintToString(chunkID))
	}
	return s.entries[chunkID], nil
}

func uintToString(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
