package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/calyptra/planrun/internal/checkpoint"
	"github.com/calyptra/planrun/internal/run"
)

// ForkOptions holds flags for the fork command.
type ForkOptions struct {
	*RootOptions
	Database string
	RunID    string
	Cycle    int
	To       string
}

// ForkResult is the fork command output payload.
type ForkResult struct {
	SourceRun string `json:"source_run"`
	Cycle     int    `json:"cycle"`
	NewRun    string `json:"new_run"`
}

// NewForkCommand creates the fork command.
func NewForkCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ForkOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fork",
		Short: "Fork a run from one of its checkpoints",
		Long: `Copy a checkpoint into a new run identifier. The source run is left
untouched; the fork can then be resumed independently to explore a different
continuation from the same state.

Example:
  planrun fork --db ./runs.db --run 0190a1b2 --cycle 3
  planrun fork --db ./runs.db --run 0190a1b2 --cycle 3 --to experiment-1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return forkRun(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the checkpoint SQLite database (required)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "source run identifier (required)")
	cmd.Flags().IntVar(&opts.Cycle, "cycle", -1, "checkpoint cycle to fork from (default: latest)")
	cmd.Flags().StringVar(&opts.To, "to", "", "identifier for the new run (default: generated UUIDv7)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("run")

	return cmd
}

func forkRun(opts *ForkOptions, cmd *cobra.Command) error {
	store, err := checkpoint.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot open checkpoint database", err)
	}
	defer store.Close()

	ctx := cmd.Context()

	cycle := opts.Cycle
	if cycle < 0 {
		snap, err := store.LoadLatest(ctx, opts.RunID)
		if err != nil {
			return WrapExitError(ExitCommandError, "cannot load checkpoint", err)
		}
		cycle = snap.Cycle
	}

	newID := opts.To
	if newID == "" {
		newID = run.UUIDv7Generator{}.NewRunID()
	}

	if err := store.Fork(ctx, opts.RunID, cycle, newID); err != nil {
		return WrapExitError(ExitFailure, "fork failed", err)
	}

	result := ForkResult{SourceRun: opts.RunID, Cycle: cycle, NewRun: newID}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	if formatter.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "forked run %s at cycle %d into %s\n",
		result.SourceRun, result.Cycle, result.NewRun)
	return nil
}
