package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/calyptra/planrun/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
}

// ScenarioResult is one scenario's outcome in the test command output.
type ScenarioResult struct {
	Name    string   `json:"name"`
	Pass    bool     `json:"pass"`
	Status  string   `json:"status"`
	Errors  []string `json:"errors,omitempty"`
	Outputs int      `json:"outputs"`
}

// TestReport is the test command output payload.
type TestReport struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario.yaml|dir>",
		Short: "Run conformance scenarios",
		Long: `Run one or more YAML conformance scenarios against the execution
engine. A directory argument runs every *.yaml file in it.

Example:
  planrun test ./scenarios/digit_addition.yaml
  planrun test ./scenarios/`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	return cmd
}

func runScenarios(opts *TestOptions, path string, cmd *cobra.Command) error {
	paths, err := scenarioPaths(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot collect scenarios", err)
	}
	if len(paths) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no scenarios found in %s", path))
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	var report TestReport
	for _, p := range paths {
		result := runOneScenario(p)
		report.Scenarios = append(report.Scenarios, result)
		if result.Pass {
			report.Passed++
		} else {
			report.Failed++
		}
		if formatter.Format != "json" {
			printScenarioResult(formatter, result)
		}
	}

	if formatter.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(formatter.Writer, "\n%d passed, %d failed\n", report.Passed, report.Failed)
	}

	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenarios failed", report.Failed))
	}
	return nil
}

func runOneScenario(path string) ScenarioResult {
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return ScenarioResult{
			Name:   filepath.Base(path),
			Pass:   false,
			Errors: []string{err.Error()},
		}
	}
	result, err := harness.Run(scenario)
	if err != nil {
		return ScenarioResult{
			Name:   scenario.Name,
			Pass:   false,
			Errors: []string{err.Error()},
		}
	}
	return ScenarioResult{
		Name:    scenario.Name,
		Pass:    result.Pass,
		Status:  result.Status,
		Errors:  result.Errors,
		Outputs: len(result.Outputs),
	}
}

func printScenarioResult(formatter *OutputFormatter, result ScenarioResult) {
	mark := "✓"
	if !result.Pass {
		mark = "✗"
	}
	fmt.Fprintf(formatter.Writer, "%s %s", mark, result.Name)
	if result.Status != "" {
		fmt.Fprintf(formatter.Writer, " (%s)", result.Status)
	}
	fmt.Fprintln(formatter.Writer)
	for _, msg := range result.Errors {
		fmt.Fprintf(formatter.Writer, "    %s\n", msg)
	}
}

// scenarioPaths expands a file or directory argument into scenario files.
func scenarioPaths(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	matches, err := filepath.Glob(filepath.Join(path, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}
