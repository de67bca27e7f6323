// Package engine drives one inference node at a time through the fixed
// micro-pipeline:
//
//	Input Configuration -> Memorized-Value Perception -> Cross/Group
//	Perception -> Actuator Perception -> Tool/Perception Actuation ->
//	Memory Actuation -> Return Reference -> Output Configuration
//
// The pipeline order never changes; which concrete behavior each step runs
// is selected by the node's inference sequence through a closed dispatch
// table (one sequence implementation per variant, one method per step).
//
// Tool/Perception Actuation is the only step permitted to call the opaque
// external collaborators (language capability, storage). Collaborator
// failures are retried per the caller-supplied policy before surfacing;
// domain errors abort only the current node and carry the failing flow
// index and step for the orchestrator's report. Cancellation is honored at
// step boundaries, never mid-step, so the last completed node's output
// stays intact and the run remains resumable.
package engine
