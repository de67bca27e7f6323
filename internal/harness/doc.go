// Package harness provides conformance testing for plan execution.
//
// The harness loads a serialized plan, drives it through the orchestrator
// with a scripted language collaborator, and validates the resulting
// generation trace and final outputs.
//
// # Scenario Format
//
// Scenarios are defined in YAML files:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	plan: plans/addition.plan
//	responses:
//	  - match: "instruction: align_digits"
//	    reply: "3 8|2 9|1 0"
//	storage:
//	  report.txt: "file content for @load: references"
//	outputs:
//	  "{sum}": "221"
//	assertions:
//	  - type: prompt_contains
//	    match: "carry_condition: nonzero"
//	  - type: generation_count
//	    count: 5
//	  - type: final_status
//	    status: completed
//
// The plan path is resolved relative to the scenario file. Responses are
// matched by substring, first match wins; a prompt with no match fails the
// generation, which the scenario can expect via final_status: halted.
//
// # Assertion Types
//
//   - prompt_contains: a generation prompt contains the given substring
//   - prompt_order: substrings appear across prompts in the given order
//   - generation_count: exactly N collaborator calls were made
//   - final_status: the run ended in the given status
//
// # Deterministic Execution
//
// Every scenario runs with a fixed run identifier, an in-memory checkpoint
// store, and a scripted collaborator, so the trace is identical across runs
// and suitable for golden file comparison.
package harness
