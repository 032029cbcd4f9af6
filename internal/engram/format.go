package engram

import (
	"bufio"
	"encoding/binary"
	"hash/crc64"
	"io"

	"github.com/embeddenator/embeddenator/internal/errorsx"
	"github.com/embeddenator/embeddenator/internal/vsa"
)

// magic identifies an embeddenator engram container. byteOrderSentinel
// is written immediately after it so a reader can detect a foreign or
// corrupted file before trusting anything else in the header.
var (
	magic              = [4]byte{'E', 'M', 'B', 'D'}
	byteOrderSentinel  = uint16(0x0102)
	containerFormatVer = uint32(1)
)

// ManifestKind tags which manifest shape follows the codebook section.
type ManifestKind uint8

const (
	ManifestKindFlat ManifestKind = iota + 1
	ManifestKindHierarchical
)

var crc64Table = crc64.MakeTable(crc64.ISO)

// writeHeader writes the fixed-size container header.
func writeHeader(w io.Writer) error {
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, byteOrderSentinel); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, containerFormatVer)
}

// readHeader reads and validates the fixed-size container header.
func readHeader(r io.Reader) error {
	var got [4]byte
	if _, err := io.ReadFull(r, got[:]); err != nil {
		return errorsx.IoError("failed to read engram magic", err)
	}
	if got != magic {
		return errorsx.New(errorsx.KindIntegrityCheckFailed, "not an embeddenator engram container", nil)
	}
	var sentinel uint16
	if err := binary.Read(r, binary.LittleEndian, &sentinel); err != nil {
		return errorsx.IoError("failed to read engram byte-order sentinel", err)
	}
	if sentinel != byteOrderSentinel {
		return errorsx.New(errorsx.KindIntegrityCheckFailed, "engram byte-order sentinel mismatch", nil)
	}
	var version uint32
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return errorsx.IoError("failed to read engram format version", err)
	}
	if version != containerFormatVer {
		return errorsx.New(errorsx.KindInvalidManifestVersion, "unsupported engram container version", nil).
			WithDetail("version", uint32ToString(version))
	}
	return nil
}

// writeVector writes a sparse ternary vector: dimension, then the
// positive and negative index sets, each length-prefixed.
func writeVector(w io.Writer, v *vsa.SparseVector) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(v.Dim)); err != nil {
		return err
	}
	if err := writeUint32Slice(w, v.Pos); err != nil {
		return err
	}
	return writeUint32Slice(w, v.Neg)
}

func readVector(r io.Reader) (*vsa.SparseVector, error) {
	var dim uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, errorsx.IoError("failed to read vector dimension", err)
	}
	pos, err := readUint32Slice(r)
	if err != nil {
		return nil, err
	}
	neg, err := readUint32Slice(r)
	if err != nil {
		return nil, err
	}
	return vsa.New(int(dim), pos, neg)
}

func writeUint32Slice(w io.Writer, s []uint32) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	for _, v := range s {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func readUint32Slice(r io.Reader) ([]uint32, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, errorsx.IoError("failed to read slice length", err)
	}
	out := make([]uint32, n)
	for i := range out {
		if err := binary.Read(r, binary.LittleEndian, &out[i]); err != nil {
			return nil, errorsx.IoError("failed to read slice element", err)
		}
	}
	return out, nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, errorsx.IoError("failed to read byte-block length", err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errorsx.IoError("failed to read byte-block", err)
	}
	return buf, nil
}

// crcReader/crcWriter wrap an underlying stream while folding every
// byte that passes through into a running CRC64 checksum, so the
// footer is computed in the same pass that writes or reads the body.
// Save assembles the whole body in memory first; Load reads it as a
// stream.
type crcWriter struct {
	w   *bufio.Writer
	sum uint64
}

func newCRCWriter(w io.Writer) *crcWriter {
	return &crcWriter{w: bufio.NewWriter(w)}
}

func (c *crcWriter) Write(p []byte) (int, error) {
	c.sum = crc64.Update(c.sum, crc64Table, p)
	return c.w.Write(p)
}

func (c *crcWriter) Flush() error { return c.w.Flush() }

type crcReader struct {
	r   io.Reader
	sum uint64
}

func newCRCReader(r io.Reader) *crcReader {
	return &crcReader{r: bufio.NewReader(r)}
}

func (c *crcReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.sum = crc64.Update(c.sum, crc64Table, p[:n])
	}
	return n, err
}

func uint32ToString(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
