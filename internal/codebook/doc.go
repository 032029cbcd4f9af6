// Package codebook implements the append-only chunk-id -> (bytes,
// id-vector, content-vector) store that guarantees bit-exact
// reconstruction: VSA retrieval only ever locates a chunk-id, the
// bytes that come back out are always read verbatim from here.
package codebook
