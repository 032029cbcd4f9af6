// Package ingest turns a set of input paths into a flat engram: every
// file is enumerated in lexicographic order, split into chunks, and
// each chunk's bytes land in the codebook while its id-vector bundles
// into the accumulating root (spec.md §4.4). Per-file chunking fans
// out across a worker pool, but codebook insertion — and therefore
// chunk-id allocation — stays single-threaded and path-ordered so two
// runs over identical inputs produce byte-identical engrams.
package ingest
