// Package checkpoint persists run state and reconciles it back into a
// repository.
//
// The store is SQLite with WAL mode: one row per (run_id, cycle), holding
// the run state as a canonical JSON blob. Saves are idempotent per
// (run_id, cycle); forks copy a checkpoint row to a new run identifier
// without touching the source run.
//
// Reconciliation governs how a loaded snapshot's concept values populate a
// possibly restructured target repository, compared by structural
// signature (name + semantic type + axis set):
//
//   - FILL_GAPS: only unresolved target concepts receive values
//   - PATCH: transplant on signature agreement, discard on disagreement
//   - OVERWRITE: transplant unconditionally by name
package checkpoint
