// Package engram implements the serialized unit described in
// spec.md §3 and §4.3: a binary container holding a format header,
// the root sparse vector, the full codebook, and a CRC64 integrity
// footer, written atomically via a temp-file-then-rename so that an
// interrupted write never corrupts the previous version on disk.
package engram
