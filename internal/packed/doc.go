// Package packed implements the balanced-ternary packing layer: up to
// 39 balanced trits {-1, 0, +1} stored in one signed 64-bit Word
// (3^39 < 2^63 < 3^40, the tight bound spec.md §9 calls out), and the
// block-sparse variant that partitions a full VSA dimension into B
// blocks, activating only the few that carry nonzeros.
package packed
