package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/calyptra/planrun/internal/checkpoint"
)

// ResumeOptions holds flags for the resume command.
type ResumeOptions struct {
	ExecOptions
	RunID string
	Cycle int
	Mode  string
}

// NewResumeCommand creates the resume command.
func NewResumeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResumeOptions{ExecOptions: ExecOptions{RootOptions: rootOpts}}

	cmd := &cobra.Command{
		Use:   "resume <plan>",
		Short: "Resume a checkpointed run",
		Long: `Adopt a saved checkpoint and continue executing the plan from it.
Without --cycle the latest checkpoint of the run is used. With --mode the
snapshot is reconciled into a fresh repository instead of restored verbatim,
which tolerates plan edits between sessions.

Example:
  planrun resume ./plan.txt --db ./runs.db --run 0190a1b2 --script ./responses.yaml
  planrun resume ./plan.txt --db ./runs.db --run 0190a1b2 --cycle 3 --mode patch`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return resumeRun(opts, args[0], cmd)
		},
	}

	addExecFlags(cmd, &opts.ExecOptions)
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run identifier to resume (required)")
	cmd.Flags().IntVar(&opts.Cycle, "cycle", -1, "checkpoint cycle to adopt (default: latest)")
	cmd.Flags().StringVar(&opts.Mode, "mode", "", "reconciliation mode: fill_gaps, patch, or overwrite")
	_ = cmd.MarkFlagRequired("run")

	return cmd
}

func resumeRun(opts *ResumeOptions, planPath string, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	graph, store, runner, err := buildRunner(&opts.ExecOptions, planPath, opts.RunID)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stopSignals := signalContext(cmd)
	defer stopSignals()

	var snap *checkpoint.Snapshot
	if opts.Cycle >= 0 {
		snap, err = store.Load(ctx, opts.RunID, opts.Cycle)
	} else {
		snap, err = store.LoadLatest(ctx, opts.RunID)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot load checkpoint", err)
	}

	if opts.Mode != "" {
		mode, err := checkpoint.ParseMode(opts.Mode)
		if err != nil {
			return WrapExitError(ExitCommandError, "bad reconciliation mode", err)
		}
		report, err := runner.AdoptReconciled(opts.RunID, snap, mode)
		if err != nil {
			return WrapExitError(ExitCommandError, "reconciliation failed", err)
		}
		slog.Info("checkpoint reconciled",
			"run_id", opts.RunID, "cycle", snap.Cycle, "mode", opts.Mode,
			"applied", len(report.Applied), "kept", len(report.Kept), "discarded", len(report.Discarded))
		if opts.Verbose {
			printReconcileReport(cmd, report)
		}
	} else {
		if err := runner.Adopt(opts.RunID, snap); err != nil {
			return WrapExitError(ExitCommandError, "cannot adopt checkpoint", err)
		}
	}

	slog.Info("run resuming", "plan", planPath, "run_id", opts.RunID, "cycle", snap.Cycle)
	state, runErr := runner.Resume(ctx)
	return reportOutcome(opts.RootOptions, cmd, graph, runner, state, runErr)
}

func printReconcileReport(cmd *cobra.Command, report *checkpoint.Report) {
	w := cmd.ErrOrStderr()
	for _, name := range report.Applied {
		fmt.Fprintf(w, "  applied   %s\n", name)
	}
	for _, name := range report.Kept {
		fmt.Fprintf(w, "  kept      %s\n", name)
	}
	for _, name := range report.Discarded {
		fmt.Fprintf(w, "  discarded %s\n", name)
	}
}
