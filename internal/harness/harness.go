package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/calyptra/planrun/internal/checkpoint"
	"github.com/calyptra/planrun/internal/engine"
	"github.com/calyptra/planrun/internal/plan"
	"github.com/calyptra/planrun/internal/run"
	"github.com/calyptra/planrun/internal/testutil"
)

// defaultRunID keeps traces deterministic when the scenario does not fix
// its own identifier.
const defaultRunID = "test-run-default"

// Run executes a scenario and returns its result.
//
// Each scenario runs against a fresh in-memory checkpoint store, a scripted
// collaborator, and a fixed run identifier, so results are reproducible. A
// halted run is a legitimate outcome the scenario can assert on; only
// infrastructure failures (unreadable plan, store errors) come back as an
// error.
func Run(scenario *Scenario) (*Result, error) {
	f, err := os.Open(scenario.Plan)
	if err != nil {
		return nil, fmt.Errorf("open plan: %w", err)
	}
	graph, loadErr := plan.Load(f, scenario.Plan)
	f.Close()
	if loadErr != nil {
		return nil, loadErr
	}

	store, err := checkpoint.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	defer store.Close()

	script := testutil.NewScriptedGenerator()
	for _, resp := range scenario.Responses {
		script.Respond(resp.Match, resp.Reply)
	}
	gen := &recordingGenerator{inner: script}

	storage := testutil.NewMemStorage()
	for path, content := range scenario.Storage {
		if err := storage.Write(path, []byte(content)); err != nil {
			return nil, fmt.Errorf("seed storage %q: %w", path, err)
		}
	}

	runID := scenario.RunID
	if runID == "" {
		runID = defaultRunID
	}

	runner, err := run.NewRunner(graph, run.Options{
		Generator: gen,
		Storage:   storage,
		Store:     store,
		IDs:       run.NewFixedIDGenerator(runID),
	})
	if err != nil {
		return nil, err
	}

	state, runErr := runner.Start(context.Background())
	if runErr != nil {
		// Node failures halt the run; the scenario decides whether that
		// was expected. Anything else is an infrastructure failure.
		var nerr *engine.NodeError
		if !errors.As(runErr, &nerr) {
			return nil, runErr
		}
	}

	result := NewResult()
	result.Status = state.Status.String()
	result.Trace = gen.trace()

	for _, name := range graph.Outputs() {
		r, err := runner.GetReference(name)
		if err != nil || r == nil {
			continue
		}
		result.Outputs[name] = r.Render()
	}

	evaluateOutputs(result, scenario.Outputs)
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// evaluateOutputs checks every expected output against the rendered finals.
func evaluateOutputs(result *Result, expected map[string]string) {
	for name, want := range expected {
		got, ok := result.Outputs[name]
		if !ok {
			result.AddError(fmt.Sprintf("output %s: not resolved", name))
			continue
		}
		if got != want {
			result.AddError(fmt.Sprintf("output %s: got %q, want %q", name, got, want))
		}
	}
}

// recordingGenerator wraps a collaborator and records every call in order.
type recordingGenerator struct {
	inner engine.Generator

	mu     sync.Mutex
	events []TraceEvent
}

func (g *recordingGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	reply, err := g.inner.Generate(ctx, prompt)

	g.mu.Lock()
	defer g.mu.Unlock()
	ev := TraceEvent{Seq: len(g.events) + 1, Prompt: prompt}
	if err != nil {
		ev.Error = err.Error()
	} else {
		ev.Reply = reply
	}
	g.events = append(g.events, ev)
	return reply, err
}

func (g *recordingGenerator) trace() []TraceEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]TraceEvent(nil), g.events...)
}
