package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/calyptra/planrun/internal/checkpoint"
	"github.com/calyptra/planrun/internal/concept"
	"github.com/calyptra/planrun/internal/engine"
	"github.com/calyptra/planrun/internal/plan"
	"github.com/calyptra/planrun/internal/ref"
)

// Status is the runner's lifecycle state.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusPaused
	StatusCompleted
	StatusStopped
	StatusHalted
)

var statusNames = [...]string{"idle", "running", "paused", "completed", "stopped", "halted"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// State is the control-surface view of a run.
type State struct {
	Status           Status
	CurrentFlowIndex plan.FlowIndex
	CompletedCount   int
	Cycle            int
}

// errStalled marks a node that yielded without making progress. With a
// fully loaded plan nothing outside the run resolves concepts, so such a
// node can never become ready.
var errStalled = errors.New("node re-entered without progress; inputs cannot resolve")

// Options wires a runner's collaborators. Generator is required; Storage
// and Store may be nil (no deferred loads, no persistence). IDs defaults
// to UUIDv7Generator.
type Options struct {
	Generator engine.Generator
	Storage   engine.Storage
	Store     *checkpoint.Store
	IDs       IDGenerator
	Config    Config
}

// Runner is the orchestrator: one logical thread of control per run,
// advancing the plan graph one node at a time in topological order. All
// repository mutations happen on that thread. Pause, stop, and breakpoint
// requests are honored at step boundaries only, never mid-step, so the
// last completed node's output stays intact and the run is resumable.
type Runner struct {
	graph *plan.Graph
	repo  *concept.Repository
	eng   *engine.Engine
	store *checkpoint.Store
	cfg   Config

	mu             sync.Mutex
	runID          string
	cycle          int
	completed      map[plan.FlowIndex]bool
	breakpoints    map[plan.FlowIndex]bool
	status         Status
	current        plan.FlowIndex
	haltErr        error
	pauseReq       bool
	stopReq        bool
	skipBreakpoint plan.FlowIndex
	sinceSave      int
}

// NewRunner builds a runner over a loaded plan graph. The repository is
// constructed from the graph with ground concepts resolved.
func NewRunner(graph *plan.Graph, opts Options) (*Runner, error) {
	if opts.Generator == nil {
		return nil, fmt.Errorf("runner requires a language collaborator")
	}
	ids := opts.IDs
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	cfg := opts.Config
	if cfg.CheckpointEvery == 0 {
		cfg.CheckpointEvery = 1
	}
	retry, err := cfg.RetryPolicy()
	if err != nil {
		return nil, err
	}

	repo, err := graph.BuildRepository()
	if err != nil {
		return nil, fmt.Errorf("build repository: %w", err)
	}

	r := &Runner{
		graph:       graph,
		repo:        repo,
		eng:         engine.New(repo, opts.Generator, opts.Storage, retry),
		store:       opts.Store,
		cfg:         cfg,
		runID:       ids.NewRunID(),
		completed:   make(map[plan.FlowIndex]bool),
		breakpoints: make(map[plan.FlowIndex]bool),
		status:      StatusIdle,
	}
	for _, s := range cfg.Breakpoints {
		idx, err := plan.ParseFlowIndex(s)
		if err != nil {
			return nil, fmt.Errorf("config breakpoint: %w", err)
		}
		if err := r.SetBreakpoint(idx); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// RunID returns the run identifier.
func (r *Runner) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

// State reports the control-surface view.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{
		Status:           r.status,
		CurrentFlowIndex: r.current,
		CompletedCount:   len(r.completed),
		Cycle:            r.cycle,
	}
}

// HaltError returns the failure that halted the run, nil otherwise.
func (r *Runner) HaltError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.haltErr
}

// GetReference returns a concept's current reference (nil until resolved).
func (r *Runner) GetReference(name string) (*ref.Reference, error) {
	return r.repo.Reference(name)
}

// SetBreakpoint arms a breakpoint: the runner pauses before executing the
// node at idx. Fails when no such node exists.
func (r *Runner) SetBreakpoint(idx plan.FlowIndex) error {
	if _, ok := r.graph.Node(idx); !ok {
		return fmt.Errorf("no node at flow index %s", idx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakpoints[idx] = true
	return nil
}

// ClearBreakpoint disarms a breakpoint. Clearing an unset one is a no-op.
// Clearing also drops the step-over arm, so re-setting the same index
// pauses on its next encounter instead of being skipped once.
func (r *Runner) ClearBreakpoint(idx plan.FlowIndex) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakpoints, idx)
	if r.skipBreakpoint == idx {
		r.skipBreakpoint = ""
	}
}

// Pause requests suspension at the next step boundary.
func (r *Runner) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauseReq = true
}

// Stop requests termination at the next step boundary. The run remains
// resumable from its last checkpoint.
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopReq = true
}

// Start drives the run from idle until completion, halt, or suspension.
func (r *Runner) Start(ctx context.Context) (State, error) {
	r.mu.Lock()
	if r.status != StatusIdle {
		status := r.status
		r.mu.Unlock()
		return r.State(), fmt.Errorf("cannot start from status %s", status)
	}
	r.status = StatusRunning
	r.mu.Unlock()
	slog.Info("run started", "run_id", r.runID, "nodes", r.graph.Len())
	return r.drive(ctx)
}

// Resume continues a paused or stopped run.
func (r *Runner) Resume(ctx context.Context) (State, error) {
	r.mu.Lock()
	if r.status != StatusPaused && r.status != StatusStopped {
		status := r.status
		r.mu.Unlock()
		return r.State(), fmt.Errorf("cannot resume from status %s", status)
	}
	r.status = StatusRunning
	r.pauseReq = false
	r.stopReq = false
	r.mu.Unlock()
	slog.Info("run resumed", "run_id", r.runID, "cycle", r.cycle)
	return r.drive(ctx)
}

// Step executes exactly one node attempt, then pauses. Breakpoints are
// ignored while stepping.
func (r *Runner) Step(ctx context.Context) (State, error) {
	r.mu.Lock()
	if r.status != StatusIdle && r.status != StatusPaused {
		status := r.status
		r.mu.Unlock()
		return r.State(), fmt.Errorf("cannot step from status %s", status)
	}
	r.status = StatusRunning
	r.mu.Unlock()

	node := r.nextPending()
	if node == nil {
		return r.finish(ctx, StatusCompleted, nil)
	}
	if err := r.attempt(ctx, node); err != nil {
		return r.State(), err
	}
	if r.nextPending() == nil {
		return r.finish(ctx, StatusCompleted, nil)
	}
	return r.finish(ctx, StatusPaused, nil)
}

// drive is the main loop: honor control requests, pick the next pending
// node, check breakpoints, execute one attempt.
func (r *Runner) drive(ctx context.Context) (State, error) {
	for {
		r.mu.Lock()
		stop, pause := r.stopReq, r.pauseReq
		r.stopReq, r.pauseReq = false, false
		r.mu.Unlock()
		if stop {
			return r.finish(ctx, StatusStopped, nil)
		}
		if pause {
			return r.finish(ctx, StatusPaused, nil)
		}

		node := r.nextPending()
		if node == nil {
			return r.finish(ctx, StatusCompleted, nil)
		}

		if r.hitBreakpoint(node.Index) {
			slog.Info("breakpoint hit", "run_id", r.runID, "flow_index", node.Index)
			return r.finish(ctx, StatusPaused, nil)
		}

		if err := r.attempt(ctx, node); err != nil {
			return r.State(), err
		}
	}
}

// hitBreakpoint reports whether execution should pause before idx. A
// resume after a breakpoint pause steps over that same breakpoint once.
func (r *Runner) hitBreakpoint(idx plan.FlowIndex) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.breakpoints[idx] {
		return false
	}
	if r.skipBreakpoint == idx {
		r.skipBreakpoint = ""
		return false
	}
	r.skipBreakpoint = idx
	return true
}

// attempt executes one node resolution attempt and applies the outcome.
func (r *Runner) attempt(ctx context.Context, node *plan.Node) error {
	r.mu.Lock()
	r.current = node.Index
	r.mu.Unlock()

	progressBefore := r.eng.LoopProgress(node.Index)
	outcome, err := r.eng.ExecuteNode(ctx, node)

	r.mu.Lock()
	r.cycle++
	r.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// External cancellation: checkpoint and stay resumable.
			_, ferr := r.finish(context.WithoutCancel(ctx), StatusStopped, nil)
			if ferr != nil {
				return ferr
			}
			return err
		}
		slog.Error("node failed", "run_id", r.runID, "flow_index", node.Index, "error", err)
		if _, ferr := r.finish(ctx, StatusHalted, err); ferr != nil {
			return ferr
		}
		return err
	}

	switch outcome {
	case engine.OutcomeFinalized:
		r.mu.Lock()
		r.completed[node.Index] = true
		r.sinceSave++
		due := r.sinceSave >= r.cfg.CheckpointEvery
		r.mu.Unlock()
		slog.Debug("node finalized", "run_id", r.runID, "flow_index", node.Index)
		if due {
			return r.checkpoint(ctx)
		}
		return nil
	case engine.OutcomeReenter:
		if r.eng.LoopProgress(node.Index) == progressBefore {
			err := &engine.NodeError{
				Index: node.Index,
				Step:  engine.StepConfigureInput,
				Code:  engine.ErrCodeInternal,
				Err:   errStalled,
			}
			if _, ferr := r.finish(ctx, StatusHalted, err); ferr != nil {
				return ferr
			}
			return err
		}
		// Mid-loop yield is a suspension point; persist progress.
		return r.checkpoint(ctx)
	default:
		return fmt.Errorf("unknown outcome %v", outcome)
	}
}

// finish moves the runner to a terminal-or-suspended status and persists
// a checkpoint.
func (r *Runner) finish(ctx context.Context, status Status, haltErr error) (State, error) {
	r.mu.Lock()
	r.status = status
	r.haltErr = haltErr
	r.mu.Unlock()
	if err := r.checkpoint(ctx); err != nil {
		return r.State(), err
	}
	return r.State(), nil
}

// checkpoint captures and saves the full run state. No-op without a store.
func (r *Runner) checkpoint(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	r.mu.Lock()
	cycle := r.cycle
	completed := make([]plan.FlowIndex, 0, len(r.completed))
	for idx := range r.completed {
		completed = append(completed, idx)
	}
	breakpoints := make([]plan.FlowIndex, 0, len(r.breakpoints))
	for idx := range r.breakpoints {
		breakpoints = append(breakpoints, idx)
	}
	runID := r.runID
	r.sinceSave = 0
	r.mu.Unlock()

	snap, err := checkpoint.Capture(r.repo, cycle, completed, breakpoints, r.eng.ExportLoops())
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if err := r.store.Save(ctx, runID, snap); err != nil {
		return err
	}
	slog.Debug("checkpoint saved", "run_id", runID, "cycle", cycle)
	return nil
}

// Adopt loads a snapshot's state into this runner: repository contents,
// completed set, breakpoints, cycle counter, and mid-loop progress. The
// runner takes the given run identifier and is left paused, ready for
// Resume. Used by the resume path where the plan is unchanged.
func (r *Runner) Adopt(runID string, snap *checkpoint.Snapshot) error {
	if err := snap.Restore(r.repo); err != nil {
		return err
	}
	if err := r.adoptBookkeeping(runID, snap); err != nil {
		return err
	}
	return nil
}

// AdoptReconciled is Adopt for a restructured plan: concept values are
// transplanted under the given reconciliation mode instead of restored
// verbatim. Mid-loop progress is dropped for nodes the plan no longer has.
func (r *Runner) AdoptReconciled(runID string, snap *checkpoint.Snapshot, mode checkpoint.Mode) (*checkpoint.Report, error) {
	report, err := snap.Reconcile(r.repo, mode)
	if err != nil {
		return nil, err
	}
	if err := r.adoptBookkeeping(runID, snap); err != nil {
		return nil, err
	}
	return report, nil
}

func (r *Runner) adoptBookkeeping(runID string, snap *checkpoint.Snapshot) error {
	r.mu.Lock()
	r.runID = runID
	r.cycle = snap.Cycle
	r.completed = make(map[plan.FlowIndex]bool, len(snap.Completed))
	r.breakpoints = make(map[plan.FlowIndex]bool, len(snap.Breakpoints))
	r.status = StatusPaused
	r.mu.Unlock()

	for _, idx := range snap.Completed {
		if _, ok := r.graph.Node(idx); !ok {
			continue
		}
		r.mu.Lock()
		r.completed[idx] = true
		r.mu.Unlock()
	}
	for _, idx := range snap.Breakpoints {
		if _, ok := r.graph.Node(idx); !ok {
			continue
		}
		r.mu.Lock()
		r.breakpoints[idx] = true
		r.mu.Unlock()
	}
	for idx, loop := range snap.Loops {
		node, ok := r.graph.Node(idx)
		if !ok || node.Quantifier == nil {
			continue
		}
		if err := r.eng.RestoreLoop(node, loop); err != nil {
			return err
		}
	}
	return nil
}

// nextPending returns the first node in topological order that has not
// finalized, nil when the plan is complete.
func (r *Runner) nextPending() *plan.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, idx := range r.graph.TopologicalOrder() {
		if r.completed[idx] {
			continue
		}
		node, ok := r.graph.Node(idx)
		if !ok {
			continue
		}
		return node
	}
	return nil
}
