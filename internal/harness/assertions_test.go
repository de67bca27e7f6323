package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func traceResult() *Result {
	r := NewResult()
	r.Status = "completed"
	r.Trace = []TraceEvent{
		{Seq: 1, Prompt: "instruction: align\ninput: a b", Reply: "x|y"},
		{Seq: 2, Prompt: "instruction: add\nelement: x", Reply: "1"},
		{Seq: 3, Prompt: "instruction: add\nelement: y", Reply: "2"},
	}
	return r
}

func TestEvaluateAssertions_AllPass(t *testing.T) {
	failures := EvaluateAssertions(traceResult(), []Assertion{
		{Type: AssertPromptContains, Match: "element: x"},
		{Type: AssertPromptOrder, Matches: []string{"instruction: align", "element: x", "element: y"}},
		{Type: AssertGenerationCount, Count: 3},
		{Type: AssertFinalStatus, Status: "completed"},
	})
	assert.Empty(t, failures)
}

func TestEvaluateAssertions_PromptContainsMiss(t *testing.T) {
	failures := EvaluateAssertions(traceResult(), []Assertion{
		{Type: AssertPromptContains, Match: "element: z"},
	})
	assert.Len(t, failures, 1)
	assert.Contains(t, failures[0], `no prompt contains "element: z"`)
}

func TestEvaluateAssertions_OrderViolation(t *testing.T) {
	failures := EvaluateAssertions(traceResult(), []Assertion{
		{Type: AssertPromptOrder, Matches: []string{"element: y", "element: x"}},
	})
	assert.Len(t, failures, 1)
	assert.Contains(t, failures[0], "not found in order")
}

func TestEvaluateAssertions_CountMismatch(t *testing.T) {
	failures := EvaluateAssertions(traceResult(), []Assertion{
		{Type: AssertGenerationCount, Count: 5},
	})
	assert.Len(t, failures, 1)
	assert.Contains(t, failures[0], "got 3 collaborator calls, want 5")
}

func TestEvaluateAssertions_StatusMismatch(t *testing.T) {
	failures := EvaluateAssertions(traceResult(), []Assertion{
		{Type: AssertFinalStatus, Status: "halted"},
	})
	assert.Len(t, failures, 1)
}

func TestEvaluateAssertions_RepeatedMatchNeedsRepeatedPrompts(t *testing.T) {
	// Two ordered matches for the same substring must land on two
	// different trace events.
	failures := EvaluateAssertions(traceResult(), []Assertion{
		{Type: AssertPromptOrder, Matches: []string{"instruction: add", "instruction: add"}},
	})
	assert.Empty(t, failures)

	failures = EvaluateAssertions(traceResult(), []Assertion{
		{Type: AssertPromptOrder, Matches: []string{"instruction: align", "instruction: align"}},
	})
	assert.Len(t, failures, 1)
}
