package retrieval

import (
	"bytes"
	"encoding/gob"
	"time"

	"go.etcd.io/bbolt"

	"github.com/embeddenator/embeddenator/internal/codebook"
	"github.com/embeddenator/embeddenator/internal/errorsx"
)

var indexBucketName = []byte("retrieval_index")

// gobIndex is the on-disk shape of an Index: its dimension, config,
// and buckets keyed by uint32 component index, as in Index.
type gobIndex struct {
	Dim     int
	Config  Config
	Buckets map[uint32][]posting
}

// OpenCache opens (creating if absent) a bbolt database at path for
// caching built indexes across process restarts, keyed by the owning
// engram's content hash (SPEC_FULL.md §4.7a).
func OpenCache(path string) (*bbolt.DB, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errorsx.IoError("failed to open retrieval index cache", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(indexBucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errorsx.IoError("failed to initialize retrieval index cache bucket", err)
	}
	return db, nil
}

// SaveToCache persists idx under contentHash. This is purely a reload
// optimization; a failure here never invalidates the in-memory index.
func SaveToCache(db *bbolt.DB, contentHash string, idx *Index) error {
	var buf bytes.Buffer
	g := gobIndex{Dim: idx.Dim, Config: idx.Config, Buckets: idx.buckets}
	if err := gob.NewEncoder(&buf).Encode(g); err != nil {
		return errorsx.IoError("failed to encode retrieval index for caching", err)
	}
	return db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(indexBucketName)
		return b.Put([]byte(contentHash), buf.Bytes())
	})
}

// LoadFromCache looks up a previously cached index by contentHash. The
// returned bool is false on a cache miss — never an error — since a
// miss is the normal "not cached yet" case, not a failure.
func LoadFromCache(db *bbolt.DB, contentHash string) (*Index, bool, error) {
	var raw []byte
	err := db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(indexBucketName)
		v := b.Get([]byte(contentHash))
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, errorsx.IoError("failed to read retrieval index cache", err)
	}
	if raw == nil {
		return nil, false, nil
	}

	var g gobIndex
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&g); err != nil {
		// A corrupt cache entry degrades to a rebuild, not a hard
		// failure: the in-memory index is always derivable from the
		// codebook (SPEC_FULL.md §4.7a).
		return nil, false, nil
	}
	return &Index{Dim: g.Dim, Config: g.Config, buckets: g.Buckets}, true, nil
}

// BuildOrLoad returns a cached index for contentHash if present and
// decodable, otherwise builds one fresh from cb and saves it back.
func BuildOrLoad(db *bbolt.DB, contentHash string, cb *codebook.Store, dim int, cfg Config) (*Index, error) {
	if db != nil {
		if idx, ok, err := LoadFromCache(db, contentHash); err == nil && ok {
			return idx, nil
		}
	}

	idx, err := BuildIndex(cb, dim, cfg)
	if err != nil {
		return nil, err
	}
	if db != nil {
		_ = SaveToCache(db, contentHash, idx)
	}
	return idx, nil
}
