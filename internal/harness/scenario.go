package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance test: a plan, a scripted collaborator,
// and the expectations on the resulting run.
type Scenario struct {
	// Name uniquely identifies the scenario; it doubles as the golden
	// file name.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Plan is the path to the serialized plan, relative to the scenario
	// file location.
	Plan string `yaml:"plan"`

	// RunID fixes the run identifier for deterministic traces. Defaults
	// to "test-run-default".
	RunID string `yaml:"run_id,omitempty"`

	// Responses script the language collaborator. Prompts are matched by
	// substring, first match wins.
	Responses []Response `yaml:"responses,omitempty"`

	// Storage seeds the storage collaborator for "@load:" references,
	// keyed by path.
	Storage map[string]string `yaml:"storage,omitempty"`

	// Outputs maps concept names to their expected final rendered text.
	Outputs map[string]string `yaml:"outputs,omitempty"`

	// Assertions validate the generation trace and final status.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Response is one scripted collaborator reply.
type Response struct {
	Match string `yaml:"match"`
	Reply string `yaml:"reply"`
}

// Assertion validates the trace or the run's final status.
type Assertion struct {
	// Type is one of prompt_contains, prompt_order, generation_count,
	// final_status.
	Type string `yaml:"type"`

	// Match is the prompt substring (prompt_contains).
	Match string `yaml:"match,omitempty"`

	// Matches are ordered prompt substrings (prompt_order).
	Matches []string `yaml:"matches,omitempty"`

	// Count is the expected number of collaborator calls (generation_count).
	Count int `yaml:"count,omitempty"`

	// Status is the expected final run status (final_status).
	Status string `yaml:"status,omitempty"`
}

// Assertion type constants.
const (
	AssertPromptContains  = "prompt_contains"
	AssertPromptOrder     = "prompt_order"
	AssertGenerationCount = "generation_count"
	AssertFinalStatus     = "final_status"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly. The plan path is resolved relative to the
// scenario file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}

	if scenario.Plan != "" && !filepath.IsAbs(scenario.Plan) {
		scenario.Plan = filepath.Join(filepath.Dir(path), scenario.Plan)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Plan == "" {
		return fmt.Errorf("plan is required")
	}
	if _, err := os.Stat(s.Plan); err != nil {
		return fmt.Errorf("plan file: %w", err)
	}
	for i, r := range s.Responses {
		if r.Match == "" {
			return fmt.Errorf("responses[%d]: match is required", i)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertPromptContains:
		if a.Match == "" {
			return fmt.Errorf("assertions[%d]: match is required for prompt_contains", index)
		}
	case AssertPromptOrder:
		if len(a.Matches) == 0 {
			return fmt.Errorf("assertions[%d]: matches list is required for prompt_order", index)
		}
	case AssertGenerationCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertFinalStatus:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for final_status", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
