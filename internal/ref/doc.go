// Package ref implements the reference model: named-axis tensor containers
// that are the universal data currency of the plan runtime.
//
// This package is the foundational layer. All other internal packages import
// ref; ref imports nothing internal.
//
// Key design constraints:
//   - NO float types anywhere - use Int (int64) for numbers
//   - References are immutable once built; operations return new references
//   - Cells are stored sparsely: an absent coordinate inside the declared
//     shape means "unset", never zero. Operations skip unset positions
//     (skip-padding) instead of erroring on irregular tensors.
//   - Cross-product axis ordering is first-seen left to right and is part
//     of the public contract (it fixes downstream coordinate addressing).
package ref
