// Package vsa implements the sparse ternary vector-symbolic-architecture
// kernel: the canonical value type, deterministic seed derivation, and
// the algebraic operators (bundle, bundle_sum_many, bundle_hybrid_many,
// bind, permute, cosine, scalar sign-flip) that every higher layer of
// Embeddenator composes.
//
// All operations are O(T) in the target nonzero count, never O(D) in
// the ambient dimension: vectors are represented by two sorted,
// deduplicated index sets rather than dense arrays.
package vsa
