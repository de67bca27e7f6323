// Package quant implements the quantification and grouping algebra: parsing
// of loop operator expressions, per-loop iteration bookkeeping, and the
// and_in/or_across combinators over sibling references.
//
// Loop protocol, one iteration at a time:
//  1. Next picks the next unprocessed base element in declared coordinate
//     order (ErrLoopExhausted when none remain - a signal, not a failure).
//  2. Already-processed elements are skipped via the per-loop seen set.
//  3. The carry value (if the quantifier declares one) threads each
//     iteration's output into the next.
//  4. The engine drives the per-element inference.
//  5. Record keys the result by coordinate; once every element is recorded,
//     Combine folds them along the view axis preserving base ordering.
package quant
