// Package hierarchy builds a multi-level engram from a flat one:
// chunks are grouped by directory prefix, bundled into per-directory
// node vectors, and directories whose member count exceeds a
// configurable bound are split into deterministic, zero-padded shards
// (router/shard bounded fan-out, spec.md §4.6).
package hierarchy
