// Package update implements the incremental-update engine: add,
// remove (soft-delete), modify, and compact, operating on an open
// engram's in-memory state (spec.md §4.5). Add/remove/modify are
// in-memory manifest edits that never leave a handle partially
// updated; compact is the only operation that reclaims codebook
// space, by rebuilding a fresh engram from live entries.
package update
