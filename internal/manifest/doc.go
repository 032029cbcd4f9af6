// Package manifest implements the flat and hierarchical file-tree
// metadata formats that index chunk-ids against logical paths. Every
// container serializes with sorted keys and sorted slices so that two
// ingests of identical inputs under identical configuration produce
// byte-identical JSON (spec.md §4.3).
package manifest
