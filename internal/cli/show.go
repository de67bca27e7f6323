package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/calyptra/planrun/internal/checkpoint"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Database string
	RunID    string
	Cycle    int
}

// ConceptView is one concept entry in the show output.
type ConceptView struct {
	Name     string   `json:"name"`
	Semantic string   `json:"semantic"`
	Axes     []string `json:"axes,omitempty"`
	Resolved bool     `json:"resolved"`
	Value    string   `json:"value,omitempty"`
}

// SnapshotView is the show command output payload.
type SnapshotView struct {
	RunID       string        `json:"run_id"`
	Cycle       int           `json:"cycle"`
	Completed   []string      `json:"completed"`
	Breakpoints []string      `json:"breakpoints,omitempty"`
	Concepts    []ConceptView `json:"concepts"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show [concept]",
		Short: "Inspect runs and checkpointed state",
		Long: `Inspect the checkpoint database. Without --run, list all run
identifiers. With --run, print a summary of the latest checkpoint (or the
one selected with --cycle). With a concept argument, print that concept's
saved value.

Example:
  planrun show --db ./runs.db
  planrun show --db ./runs.db --run 0190a1b2
  planrun show --db ./runs.db --run 0190a1b2 --cycle 3 '{sum}'`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			concept := ""
			if len(args) == 1 {
				concept = args[0]
			}
			return showRun(opts, concept, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the checkpoint SQLite database (required)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run identifier to inspect")
	cmd.Flags().IntVar(&opts.Cycle, "cycle", -1, "checkpoint cycle to inspect (default: latest)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func showRun(opts *ShowOptions, conceptName string, cmd *cobra.Command) error {
	store, err := checkpoint.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot open checkpoint database", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if opts.RunID == "" {
		if conceptName != "" {
			return NewExitError(ExitCommandError, "a concept argument requires --run")
		}
		runs, err := store.Runs(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "cannot list runs", err)
		}
		if formatter.Format == "json" {
			return formatter.Success(map[string][]string{"runs": runs})
		}
		for _, id := range runs {
			fmt.Fprintln(formatter.Writer, id)
		}
		return nil
	}

	var snap *checkpoint.Snapshot
	if opts.Cycle >= 0 {
		snap, err = store.Load(ctx, opts.RunID, opts.Cycle)
	} else {
		snap, err = store.LoadLatest(ctx, opts.RunID)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "cannot load checkpoint", err)
	}

	if conceptName != "" {
		return showConcept(formatter, snap, conceptName)
	}
	return showSnapshot(formatter, opts.RunID, snap)
}

func showConcept(formatter *OutputFormatter, snap *checkpoint.Snapshot, name string) error {
	state, ok := snap.Concepts[name]
	if !ok {
		return NewExitError(ExitFailure, fmt.Sprintf("concept %s not in checkpoint", name))
	}
	view := conceptView(name, state)
	if formatter.Format == "json" {
		return formatter.Success(view)
	}
	if !view.Resolved {
		fmt.Fprintf(formatter.Writer, "%s: unresolved\n", name)
		return nil
	}
	fmt.Fprintf(formatter.Writer, "%s = %s\n", name, view.Value)
	return nil
}

func showSnapshot(formatter *OutputFormatter, runID string, snap *checkpoint.Snapshot) error {
	view := SnapshotView{
		RunID:     runID,
		Cycle:     snap.Cycle,
		Completed: indexStrings(snap.Completed),
	}
	if len(snap.Breakpoints) > 0 {
		view.Breakpoints = indexStrings(snap.Breakpoints)
	}
	names := make([]string, 0, len(snap.Concepts))
	for name := range snap.Concepts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		view.Concepts = append(view.Concepts, conceptView(name, snap.Concepts[name]))
	}

	if formatter.Format == "json" {
		return formatter.Success(view)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "run %s, cycle %d\n", view.RunID, view.Cycle)
	fmt.Fprintf(w, "completed: %s\n", strings.Join(view.Completed, ", "))
	if len(view.Breakpoints) > 0 {
		fmt.Fprintf(w, "breakpoints: %s\n", strings.Join(view.Breakpoints, ", "))
	}
	for _, c := range view.Concepts {
		mark := " "
		if c.Resolved {
			mark = "*"
		}
		fmt.Fprintf(w, "  %s %s (%s", mark, c.Name, c.Semantic)
		if len(c.Axes) > 0 {
			fmt.Fprintf(w, "; axes %s", strings.Join(c.Axes, ","))
		}
		fmt.Fprint(w, ")")
		if c.Resolved {
			fmt.Fprintf(w, " = %s", c.Value)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func conceptView(name string, state checkpoint.ConceptState) ConceptView {
	view := ConceptView{
		Name:     name,
		Semantic: state.Signature.Semantic.String(),
		Axes:     state.Signature.Axes,
		Resolved: state.Resolved,
	}
	if state.Resolved && state.Reference != nil {
		view.Value = state.Reference.Render()
	}
	return view
}

func indexStrings[T ~string](idx []T) []string {
	out := make([]string, len(idx))
	for i, v := range idx {
		out[i] = string(v)
	}
	return out
}
