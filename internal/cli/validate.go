package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/calyptra/planrun/internal/plan"
)

// ValidationResult holds the validate command's output payload.
type ValidationResult struct {
	Valid   bool   `json:"valid"`
	File    string `json:"file"`
	Nodes   int    `json:"nodes,omitempty"`
	Grounds int    `json:"grounds,omitempty"`
	Outputs int    `json:"outputs,omitempty"`
	Line    int    `json:"line,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <plan>",
		Short: "Load-check a plan without executing it",
		Long: `Validate a serialized plan: flow-index well-formedness, parent
existence, sibling uniqueness, concept declarations, and acyclicity of the
derived dependency graph. No node is executed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	f, err := os.Open(path)
	if err != nil {
		_ = formatter.Error("E_OPEN", err.Error())
		return WrapExitError(ExitCommandError, "cannot open plan", err)
	}
	defer f.Close()

	graph, err := plan.Load(f, path)
	if err != nil {
		return outputInvalid(formatter, path, err)
	}

	formatter.VerboseLog("plan %s: %d nodes, %d grounds, %d outputs",
		path, graph.Len(), len(graph.Grounds()), len(graph.Outputs()))

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{
			Valid:   true,
			File:    path,
			Nodes:   graph.Len(),
			Grounds: len(graph.Grounds()),
			Outputs: len(graph.Outputs()),
		})
	}
	fmt.Fprintf(formatter.Writer, "✓ %s: %d nodes, %d grounds, %d outputs\n",
		path, graph.Len(), len(graph.Grounds()), len(graph.Outputs()))
	return nil
}

func outputInvalid(formatter *OutputFormatter, path string, err error) error {
	result := ValidationResult{Valid: false, File: path, Message: err.Error()}
	var le *plan.LoadError
	if errors.As(err, &le) {
		result.Line = le.Line
		result.Code = le.Code
		result.Message = le.Message
	}

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error:  &CLIError{Code: result.Code, Message: result.Message},
		}
		enc := json.NewEncoder(formatter.Writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "validation failed")
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	if result.Line > 0 {
		fmt.Fprintf(formatter.Writer, "  %s:%d: %s: %s\n", path, result.Line, result.Code, result.Message)
	} else {
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", path, result.Message)
	}
	return NewExitError(ExitFailure, "validation failed")
}
