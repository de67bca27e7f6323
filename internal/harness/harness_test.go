package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_AdditionScenarioPasses(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/digit_addition.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "completed", result.Status)
	assert.Len(t, result.Trace, 5)
	assert.Equal(t, "221", result.Outputs["{sum}"])
}

func TestRun_HaltedScenarioIsAssertable(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/halted_generation.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "halted", result.Status)
	require.Len(t, result.Trace, 3)
	assert.NotEmpty(t, result.Trace[2].Error)
	assert.Empty(t, result.Outputs)
}

func TestRun_DeferredLoadScenario(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/deferred_load.yaml")
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "revenue up", result.Outputs["{summary}"])
}

func TestRun_OutputMismatchFailsResult(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/digit_addition.yaml")
	require.NoError(t, err)
	s.Outputs = map[string]string{"{sum}": "999"}

	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `got "221", want "999"`)
}

func TestRun_UnexpectedStatusFailsResult(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/halted_generation.yaml")
	require.NoError(t, err)
	s.Assertions = []Assertion{{Type: AssertFinalStatus, Status: "completed"}}
	s.Outputs = nil

	result, err := Run(s)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `final status "halted"`)
}

func TestRun_UnparseablePlanIsAnError(t *testing.T) {
	s := &Scenario{
		Name:        "broken",
		Description: "plan parse failures are infrastructure errors",
		Plan:        "testdata/scenarios/digit_addition.yaml", // not a plan
	}
	_, err := Run(s)
	require.Error(t, err)
}
