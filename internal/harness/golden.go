package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/calyptra/planrun/internal/ref"
)

// TraceSnapshot captures a scenario run for golden comparison. It serializes
// through canonical JSON so equal runs produce byte-identical files.
type TraceSnapshot struct {
	ScenarioName string
	Status       string
	Trace        []TraceEvent
	Outputs      map[string]string
}

// toCanonicalMap converts the snapshot into the plain composites the
// canonical encoder accepts.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	events := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		obj := map[string]any{
			"seq":    ev.Seq,
			"prompt": ev.Prompt,
		}
		if ev.Reply != "" {
			obj["reply"] = ev.Reply
		}
		if ev.Error != "" {
			obj["error"] = ev.Error
		}
		events[i] = obj
	}

	outputs := make(map[string]any, len(s.Outputs))
	for name, text := range s.Outputs {
		outputs[name] = text
	}

	return map[string]any{
		"scenario": s.ScenarioName,
		"status":   s.Status,
		"trace":    events,
		"outputs":  outputs,
	}
}

// RunWithGolden executes a scenario and compares its trace snapshot against
// testdata/golden/{scenario.Name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	snapshot := TraceSnapshot{
		ScenarioName: scenario.Name,
		Status:       result.Status,
		Trace:        result.Trace,
		Outputs:      result.Outputs,
	}
	data, err := ref.MarshalCanonical(snapshot.toCanonicalMap())
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return result, nil
}
