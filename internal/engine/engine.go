package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/calyptra/planrun/internal/concept"
	"github.com/calyptra/planrun/internal/plan"
	"github.com/calyptra/planrun/internal/quant"
	"github.com/calyptra/planrun/internal/ref"
)

// Engine resolves inference nodes. It owns the per-loop bookkeeping for
// quantifying nodes and the closed sequence dispatch table.
//
// The engine belongs to one run's single control thread. All repository
// mutations happen through ExecuteNode on that thread; there is no intra-run
// parallelism, so no locking.
type Engine struct {
	repo    *concept.Repository
	gen     Generator
	storage Storage
	retry   RetryPolicy

	// Per-loop state, owned here and passed into quantifier calls; never
	// process-wide (loops are keyed by the quantifying node's flow index).
	loops map[plan.FlowIndex]*quant.LoopState

	// Nodes that have begun at least one resolution attempt; consumes the
	// only-once behavioral flag variants.
	started map[plan.FlowIndex]bool

	seqs map[plan.Sequence]sequence
}

// New creates an engine over the given repository and collaborators.
func New(repo *concept.Repository, gen Generator, storage Storage, retry RetryPolicy) *Engine {
	e := &Engine{
		repo:    repo,
		gen:     gen,
		storage: storage,
		retry:   retry,
		loops:   make(map[plan.FlowIndex]*quant.LoopState),
		started: make(map[plan.FlowIndex]bool),
	}
	base := baseSeq{e: e}
	e.seqs = map[plan.Sequence]sequence{
		plan.SeqImperative:  imperativeSeq{base},
		plan.SeqJudgement:   judgementSeq{base},
		plan.SeqGrouping:    groupingSeq{base},
		plan.SeqQuantifying: quantifyingSeq{base},
		plan.SeqAssigning:   assigningSeq{base},
		plan.SeqTiming:      timingSeq{base},
	}
	return e
}

// Repository exposes the engine's repository to the orchestrator.
func (e *Engine) Repository() *concept.Repository { return e.repo }

// LoopProgress reports recorded iterations for a quantifying node, for
// state reporting. Zero when the node has no active loop.
func (e *Engine) LoopProgress(idx plan.FlowIndex) int {
	if ls, ok := e.loops[idx]; ok {
		return ls.Recorded()
	}
	return 0
}

// LoopSnapshot is the persistable state of one in-flight loop: the
// per-element results recorded so far and the threaded carry value.
type LoopSnapshot struct {
	Results map[int]*ref.Reference
	Carry   *ref.Reference
}

// ExportLoops returns the state of every in-flight loop so a checkpoint
// can persist mid-loop progress.
func (e *Engine) ExportLoops() map[plan.FlowIndex]LoopSnapshot {
	out := make(map[plan.FlowIndex]LoopSnapshot, len(e.loops))
	for idx, ls := range e.loops {
		out[idx] = LoopSnapshot{Results: ls.Results(), Carry: ls.Carry()}
	}
	return out
}

// RestoreLoop rebuilds a loop's bookkeeping from a checkpoint. The node
// must be the quantifying node the snapshot was exported for.
func (e *Engine) RestoreLoop(node *plan.Node, snap LoopSnapshot) error {
	if node.Quantifier == nil {
		return fmt.Errorf("node %s has no quantifier to restore a loop into", node.Index)
	}
	e.loops[node.Index] = quant.RestoreLoopState(node.Quantifier, snap.Results, snap.Carry)
	e.started[node.Index] = true
	return nil
}

// ExecuteNode drives one node through the fixed micro-pipeline.
//
// Returns OutcomeFinalized when the concept-to-infer was written, or
// OutcomeReenter when the node yielded (mid-loop, or inputs pending) and
// must be revisited on the next cycle. Domain errors come back as a
// NodeError carrying the failing step; they abort this node only.
//
// Cancellation is checked at every step boundary, never mid-step.
func (e *Engine) ExecuteNode(ctx context.Context, node *plan.Node) (Outcome, error) {
	seq, ok := e.seqs[node.Sequence]
	if !ok {
		return OutcomeReenter, &NodeError{Index: node.Index, Step: StepConfigureInput,
			Code: ErrCodeInternal, Err: fmt.Errorf("no sequence registered for %s", node.Sequence)}
	}

	r := &nodeRun{node: node, state: StatePending}

	pipeline := []struct {
		step  Step
		state NodeState
		run   func() error
	}{
		{StepConfigureInput, StateConfiguringInput, func() error { return seq.ConfigureInput(r) }},
		{StepPerceiveValues, StatePerceiving, func() error { return seq.PerceiveValues(ctx, r) }},
		{StepPerceiveCross, StatePerceiving, func() error { return seq.PerceiveCross(r) }},
		{StepPerceiveActuator, StatePerceiving, func() error { return seq.PerceiveActuator(r) }},
		{StepActuate, StateActuating, func() error { return seq.Actuate(ctx, r) }},
		{StepActuateMemory, StateActuating, func() error { return seq.ActuateMemory(r) }},
		{StepReturnReference, StateReturning, func() error { return seq.ReturnReference(r) }},
	}

	for _, p := range pipeline {
		if err := ctx.Err(); err != nil {
			return OutcomeReenter, err
		}
		r.state = p.state
		if err := p.run(); err != nil {
			if err == errNotReady {
				slog.Debug("node not ready", "flow_index", node.Index, "step", p.step.String())
				return OutcomeReenter, nil
			}
			return OutcomeReenter, &NodeError{Index: node.Index, Step: p.step, Code: classify(err), Err: err}
		}
		if p.step == StepConfigureInput {
			e.started[node.Index] = true
		}
	}

	if err := ctx.Err(); err != nil {
		return OutcomeReenter, err
	}
	outcome, err := seq.ConfigureOutput(r)
	if err != nil {
		return OutcomeReenter, &NodeError{Index: node.Index, Step: StepConfigureOutput, Code: classify(err), Err: err}
	}
	if outcome == OutcomeFinalized {
		r.state = StateFinalized
		delete(e.loops, node.Index)
	}
	return outcome, nil
}

// effectiveFlags folds the only-once flag variants into the base flags for
// the node's first resolution attempt.
func (e *Engine) effectiveFlags(node *plan.Node) plan.Flags {
	f := node.Flags
	if !e.started[node.Index] {
		if f.StartWithoutValueOnce {
			f.StartWithoutValue = true
		}
		if f.StartWithoutFuncOnce {
			f.StartWithoutFunction = true
		}
		if f.StartWithSupportOnce {
			f.StartWithSupportOnly = true
		}
	}
	return f
}
