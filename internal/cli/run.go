package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/calyptra/planrun/internal/checkpoint"
	"github.com/calyptra/planrun/internal/engine"
	"github.com/calyptra/planrun/internal/plan"
	"github.com/calyptra/planrun/internal/run"
)

// ExecOptions holds the flags shared by run and resume: the checkpoint
// database and the collaborator wiring.
type ExecOptions struct {
	*RootOptions
	Database string
	Config   string
	Script   string
	Collab   string
	Data     string
}

// RunOptions holds flags for the run command.
type RunOptions struct {
	ExecOptions
	RunID string
}

// RunReport is the run/resume output payload.
type RunReport struct {
	RunID     string            `json:"run_id"`
	Status    string            `json:"status"`
	Cycle     int               `json:"cycle"`
	Completed int               `json:"completed"`
	Current   string            `json:"current,omitempty"`
	Outputs   map[string]string `json:"outputs,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{ExecOptions: ExecOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "run <plan>",
		Short: "Execute a plan to completion or first suspension",
		Long: `Execute a serialized plan. The run checkpoints at every suspension
point; a halted or stopped run can be resumed later with the same database.

The language collaborator is either a scripted responses file (--script) or
an external command (--collab) receiving each prompt on stdin.

Example:
  planrun run ./addition.plan --db ./runs.db --script ./responses.yaml
  planrun run ./plan.txt --db ./runs.db --collab "my-model --temp 0"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(opts, args[0], cmd)
		},
	}

	addExecFlags(cmd, &opts.ExecOptions)
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "fixed run identifier (default: generated UUIDv7)")

	return cmd
}

func addExecFlags(cmd *cobra.Command, opts *ExecOptions) {
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the checkpoint SQLite database (required)")
	cmd.Flags().StringVar(&opts.Config, "config", "", "path to a YAML run configuration")
	cmd.Flags().StringVar(&opts.Script, "script", "", "path to a scripted collaborator responses file")
	cmd.Flags().StringVar(&opts.Collab, "collab", "", "external collaborator command (prompt on stdin)")
	cmd.Flags().StringVar(&opts.Data, "data", "", "directory backing @load: storage references")
	_ = cmd.MarkFlagRequired("db")
}

func runPlan(opts *RunOptions, planPath string, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	graph, store, runner, err := buildRunner(&opts.ExecOptions, planPath, opts.RunID)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stopSignals := signalContext(cmd)
	defer stopSignals()

	slog.Info("run starting", "plan", planPath, "run_id", runner.RunID())
	state, runErr := runner.Start(ctx)
	return reportOutcome(opts.RootOptions, cmd, graph, runner, state, runErr)
}

// buildRunner loads the plan and wires the collaborators, checkpoint store,
// and configuration into a runner.
func buildRunner(opts *ExecOptions, planPath, runID string) (*plan.Graph, *checkpoint.Store, *run.Runner, error) {
	f, err := os.Open(planPath)
	if err != nil {
		return nil, nil, nil, WrapExitError(ExitCommandError, "cannot open plan", err)
	}
	graph, loadErr := plan.Load(f, planPath)
	f.Close()
	if loadErr != nil {
		return nil, nil, nil, WrapExitError(ExitCommandError, "plan failed to load", loadErr)
	}

	cfg := run.DefaultConfig()
	if opts.Config != "" {
		cfg, err = run.LoadConfig(opts.Config)
		if err != nil {
			return nil, nil, nil, WrapExitError(ExitCommandError, "bad run configuration", err)
		}
	}

	gen, err := buildGenerator(opts)
	if err != nil {
		return nil, nil, nil, err
	}

	var storage engine.Storage
	if opts.Data != "" {
		storage, err = newDirStorage(opts.Data)
		if err != nil {
			return nil, nil, nil, WrapExitError(ExitCommandError, "bad data directory", err)
		}
	}

	store, err := checkpoint.Open(opts.Database)
	if err != nil {
		return nil, nil, nil, WrapExitError(ExitCommandError, "cannot open checkpoint database", err)
	}

	var ids run.IDGenerator
	if runID != "" {
		ids = run.NewFixedIDGenerator(runID)
	}

	runner, err := run.NewRunner(graph, run.Options{
		Generator: gen,
		Storage:   storage,
		Store:     store,
		IDs:       ids,
		Config:    cfg,
	})
	if err != nil {
		store.Close()
		return nil, nil, nil, WrapExitError(ExitCommandError, "cannot build runner", err)
	}
	return graph, store, runner, nil
}

func buildGenerator(opts *ExecOptions) (engine.Generator, error) {
	switch {
	case opts.Script != "" && opts.Collab != "":
		return nil, NewExitError(ExitCommandError, "--script and --collab are mutually exclusive")
	case opts.Script != "":
		gen, err := loadScriptGenerator(opts.Script)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "bad collaborator script", err)
		}
		return gen, nil
	case opts.Collab != "":
		gen, err := newExecGenerator(strings.Fields(opts.Collab))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "bad collaborator command", err)
		}
		return gen, nil
	default:
		return nil, NewExitError(ExitCommandError, "a collaborator is required: pass --script or --collab")
	}
}

// setupLogging configures the default slog handler from the verbose flag.
func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// signalContext returns a context cancelled on SIGINT/SIGTERM. The runner
// checkpoints on cancellation, so an interrupted run stays resumable.
func signalContext(cmd *cobra.Command) (context.Context, func()) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// reportOutcome prints the terminal state of a run and maps it to an exit
// code: completed/paused/stopped succeed, halted fails.
func reportOutcome(opts *RootOptions, cmd *cobra.Command, graph *plan.Graph, runner *run.Runner, state run.State, runErr error) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	report := RunReport{
		RunID:     runner.RunID(),
		Status:    state.Status.String(),
		Cycle:     state.Cycle,
		Completed: state.CompletedCount,
		Current:   string(state.CurrentFlowIndex),
	}
	if state.Status == run.StatusCompleted {
		report.Outputs = collectOutputs(graph, runner)
	}
	if runErr != nil {
		var nerr *engine.NodeError
		if errors.As(runErr, &nerr) {
			report.Error = nerr.Error()
		} else if !errors.Is(runErr, context.Canceled) {
			return WrapExitError(ExitCommandError, "run failed", runErr)
		} else {
			report.Error = runErr.Error()
		}
	}

	if formatter.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		printReport(formatter, report)
	}

	if state.Status == run.StatusHalted {
		return NewExitError(ExitFailure, fmt.Sprintf("run %s halted", report.RunID))
	}
	return nil
}

func collectOutputs(graph *plan.Graph, runner *run.Runner) map[string]string {
	outputs := make(map[string]string)
	for _, name := range graph.Outputs() {
		r, err := runner.GetReference(name)
		if err != nil || r == nil {
			continue
		}
		outputs[name] = r.Render()
	}
	return outputs
}

func printReport(formatter *OutputFormatter, report RunReport) {
	w := formatter.Writer
	fmt.Fprintf(w, "run %s: %s (cycle %d, %d nodes completed)\n",
		report.RunID, report.Status, report.Cycle, report.Completed)
	if report.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", report.Error)
	}
	if report.Status == "paused" && report.Current != "" {
		fmt.Fprintf(w, "  paused before node %s\n", report.Current)
	}
	for name, text := range report.Outputs {
		fmt.Fprintf(w, "  %s = %s\n", name, text)
	}
}
