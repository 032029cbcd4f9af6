package engram

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/google/renameio"

	"github.com/embeddenator/embeddenator/internal/codebook"
	"github.com/embeddenator/embeddenator/internal/errorsx"
	"github.com/embeddenator/embeddenator/internal/vsa"
)

// Engram is the fully deserialized container: the root vector, the
// live codebook, and the manifest bytes that index it (spec.md §3's
// "serialized unit").
type Engram struct {
	Dimension     int
	TargetNonzero int
	Root          *vsa.SparseVector
	Codebook      *codebook.Store
	ManifestKind  ManifestKind
	ManifestBytes []byte
}

// Save writes e to path atomically: the full container is assembled
// in memory, checksummed, then handed to renameio so that a crash
// mid-write never leaves a torn file at path (the teacher's
// temp-file-then-rename pattern, upgraded to renameio's cleanup
// semantics).
func (e *Engram) Save(path string) error {
	var body bytes.Buffer
	cw := newCRCWriter(&body)

	if err := writeHeader(cw); err != nil {
		return errorsx.IoError("failed to write engram header", err)
	}
	if err := binary.Write(cw, binary.LittleEndian, uint32(e.Dimension)); err != nil {
		return errorsx.IoError("failed to write engram dimension", err)
	}
	if err := binary.Write(cw, binary.LittleEndian, uint32(e.TargetNonzero)); err != nil {
		return errorsx.IoError("failed to write engram target density", err)
	}
	if err := writeVector(cw, e.Root); err != nil {
		return errorsx.IoError("failed to write engram root vector", err)
	}
	if err := writeCodebook(cw, e.Codebook); err != nil {
		return errorsx.IoError("failed to write engram codebook", err)
	}
	if err := binary.Write(cw, binary.LittleEndian, uint8(e.ManifestKind)); err != nil {
		return errorsx.IoError("failed to write manifest kind tag", err)
	}
	if err := writeBytes(cw, e.ManifestBytes); err != nil {
		return errorsx.IoError("failed to write manifest bytes", err)
	}
	if err := cw.Flush(); err != nil {
		return errorsx.IoError("failed to flush engram body", err)
	}

	t, err := renameio.TempFile("", path)
	if err != nil {
		return errorsx.IoError("failed to create temp file for atomic engram write", err)
	}
	defer t.Cleanup()

	if _, err := t.Write(body.Bytes()); err != nil {
		return errorsx.IoError("failed to write engram body", err)
	}
	footer := make([]byte, 8)
	binary.LittleEndian.PutUint64(footer, cw.sum)
	if _, err := t.Write(footer); err != nil {
		return errorsx.IoError("failed to write engram CRC64 footer", err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return errorsx.IoError("failed to atomically replace engram file", err)
	}
	return nil
}

// Load reads and verifies an engram container from path, re-deriving
// codebook vectors deterministically from the persisted bytes and
// soft-delete flags (internal/codebook.Restore).
func Load(path string, dimension, targetNonzero, codebookCacheSize int) (*Engram, error) {
	raw, err := os.Open(path)
	if err != nil {
		return nil, errorsx.IoError("failed to open engram file", err)
	}
	defer raw.Close()

	info, err := raw.Stat()
	if err != nil {
		return nil, errorsx.IoError("failed to stat engram file", err)
	}
	if info.Size() < 8 {
		return nil, errorsx.New(errorsx.KindIntegrityCheckFailed, "engram file too small to contain a footer", nil)
	}

	cr := newCRCReader(io.LimitReader(raw, info.Size()-8))

	if err := readHeader(cr); err != nil {
		return nil, err
	}
	var dim, target uint32
	if err := binary.Read(cr, binary.LittleEndian, &dim); err != nil {
		return nil, errorsx.IoError("failed to read engram dimension", err)
	}
	if err := binary.Read(cr, binary.LittleEndian, &target); err != nil {
		return nil, errorsx.IoError("failed to read engram target density", err)
	}
	root, err := readVector(cr)
	if err != nil {
		return nil, err
	}
	cb, err := readCodebook(cr, codebook.Config{
		Dimension:     int(dim),
		TargetNonzero: int(target),
		CacheSize:     codebookCacheSize,
	})
	if err != nil {
		return nil, err
	}
	var kindTag uint8
	if err := binary.Read(cr, binary.LittleEndian, &kindTag); err != nil {
		return nil, errorsx.IoError("failed to read manifest kind tag", err)
	}
	manifestBytes, err := readBytes(cr)
	if err != nil {
		return nil, err
	}

	var footer [8]byte
	if _, err := io.ReadFull(raw, footer[:]); err != nil {
		return nil, errorsx.IoError("failed to read engram CRC64 footer", err)
	}
	want := binary.LittleEndian.Uint64(footer[:])
	if want != cr.sum {
		return nil, errorsx.New(errorsx.KindIntegrityCheckFailed, "engram CRC64 checksum mismatch", nil)
	}

	return &Engram{
		Dimension:     int(dim),
		TargetNonzero: int(target),
		Root:          root,
		Codebook:      cb,
		ManifestKind:  ManifestKind(kindTag),
		ManifestBytes: manifestBytes,
	}, nil
}

func writeCodebook(w io.Writer, store *codebook.Store) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(store.Len())); err != nil {
		return err
	}
	return store.Iterate(func(e *codebook.Entry) error {
		if err := writeBytes(w, e.Bytes); err != nil {
			return err
		}
		unreferenced := uint8(0)
		if e.Unreferenced {
			unreferenced = 1
		}
		return binary.Write(w, binary.LittleEndian, unreferenced)
	})
}

func readCodebook(r io.Reader, cfg codebook.Config) (*codebook.Store, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, errorsx.IoError("failed to read codebook entry count", err)
	}
	records := make([]codebook.RestoreRecord, n)
	for i := range records {
		b, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		var unreferenced uint8
		if err := binary.Read(r, binary.LittleEndian, &unreferenced); err != nil {
			return nil, errorsx.IoError("failed to read codebook unreferenced flag", err)
		}
		records[i] = codebook.RestoreRecord{Bytes: b, Unreferenced: unreferenced == 1}
	}
	return codebook.Restore(cfg, records)
}
