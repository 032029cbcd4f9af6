// Package retrieval implements the codebook inverted index, the
// bucket-shift sweep query, and selective unfolding over hierarchical
// manifests (spec.md §4.7). The index is built once per codebook with
// BuildIndex and reused across queries via Query; QueryHierarchical
// descends a hierarchical manifest's tree only where a node scores
// above a similarity threshold.
package retrieval
