package harness

import (
	"fmt"
	"strings"
)

// EvaluateAssertions checks every assertion against the run result and
// returns one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if msg := evaluateAssertion(result, &a); msg != "" {
			failures = append(failures, fmt.Sprintf("assertions[%d] (%s): %s", i, a.Type, msg))
		}
	}
	return failures
}

func evaluateAssertion(result *Result, a *Assertion) string {
	switch a.Type {
	case AssertPromptContains:
		for _, ev := range result.Trace {
			if strings.Contains(ev.Prompt, a.Match) {
				return ""
			}
		}
		return fmt.Sprintf("no prompt contains %q", a.Match)

	case AssertPromptOrder:
		pos := 0
		for _, want := range a.Matches {
			found := false
			for ; pos < len(result.Trace); pos++ {
				if strings.Contains(result.Trace[pos].Prompt, want) {
					pos++
					found = true
					break
				}
			}
			if !found {
				return fmt.Sprintf("prompt matching %q not found in order", want)
			}
		}
		return ""

	case AssertGenerationCount:
		if len(result.Trace) != a.Count {
			return fmt.Sprintf("got %d collaborator calls, want %d", len(result.Trace), a.Count)
		}
		return ""

	case AssertFinalStatus:
		if result.Status != a.Status {
			return fmt.Sprintf("final status %q, want %q", result.Status, a.Status)
		}
		return ""

	default:
		return fmt.Sprintf("unknown assertion type %q", a.Type)
	}
}
