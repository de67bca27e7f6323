package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyptra/planrun/internal/concept"
	"github.com/calyptra/planrun/internal/engine"
	"github.com/calyptra/planrun/internal/plan"
	"github.com/calyptra/planrun/internal/quant"
	"github.com/calyptra/planrun/internal/ref"
	"github.com/calyptra/planrun/internal/testutil"
)

// setupEngine wires an engine over a fresh repository and the given script.
func setupEngine(t *testing.T, gen engine.Generator) (*engine.Engine, *concept.Repository) {
	t.Helper()
	repo := concept.NewRepository()
	e := engine.New(repo, gen, testutil.NewMemStorage(), engine.DefaultRetryPolicy)
	return e, repo
}

func register(t *testing.T, repo *concept.Repository, name string, sem concept.SemanticType) {
	t.Helper()
	require.NoError(t, repo.Register(concept.Concept{Name: name, Kind: concept.KindValue, Semantic: sem}))
}

func setScalar(t *testing.T, repo *concept.Repository, name, value string) {
	t.Helper()
	require.NoError(t, repo.SetValue(name, ref.NewScalar(ref.String(value)), concept.Syntactic))
}

func TestExecuteNode_ImperativeFinalizes(t *testing.T) {
	gen := testutil.NewScriptedGenerator().
		Respond("compose_greeting", "hello world")
	e, repo := setupEngine(t, gen)

	register(t, repo, "{name}", concept.Syntactic)
	register(t, repo, "{greeting}", concept.Semantic)
	setScalar(t, repo, "{name}", "world")

	node := &plan.Node{
		Index:    "1",
		Function: "compose_greeting",
		Infer:    "{greeting}",
		Values:   []plan.Binding{{Concept: "{name}"}},
		Sequence: plan.SeqImperative,
	}

	outcome, err := e.ExecuteNode(context.Background(), node)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeFinalized, outcome)

	out, err := repo.Reference("{greeting}")
	require.NoError(t, err)
	v, ok := out.Scalar()
	require.True(t, ok)
	assert.Equal(t, ref.String("hello world"), v)
}

func TestExecuteNode_PromptCarriesInputsAndContexts(t *testing.T) {
	gen := testutil.NewScriptedGenerator().Respond("summarize", "done")
	e, repo := setupEngine(t, gen)

	register(t, repo, "{text}", concept.Syntactic)
	register(t, repo, "<style>", concept.Syntactic)
	register(t, repo, "{summary}", concept.Semantic)
	setScalar(t, repo, "{text}", "a long report")
	setScalar(t, repo, "<style>", "terse")

	node := &plan.Node{
		Index:    "1",
		Function: "summarize",
		Infer:    "{summary}",
		Values:   []plan.Binding{{Concept: "{text}"}},
		Contexts: []string{"<style>"},
		Sequence: plan.SeqImperative,
	}

	_, err := e.ExecuteNode(context.Background(), node)
	require.NoError(t, err)

	calls := gen.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "instruction: summarize\ninput: a long report\ncontext: terse", calls[0])
}

func TestExecuteNode_ReentersWhenInputPending(t *testing.T) {
	e, repo := setupEngine(t, testutil.NewScriptedGenerator())

	register(t, repo, "{name}", concept.Syntactic)
	register(t, repo, "{greeting}", concept.Semantic)

	node := &plan.Node{
		Index:    "1",
		Function: "compose_greeting",
		Infer:    "{greeting}",
		Values:   []plan.Binding{{Concept: "{name}"}},
		Sequence: plan.SeqImperative,
	}

	outcome, err := e.ExecuteNode(context.Background(), node)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeReenter, outcome)
	assert.False(t, repo.Resolved("{greeting}"))
}

func TestExecuteNode_StartWithoutValueProceeds(t *testing.T) {
	gen := testutil.NewScriptedGenerator().Respond("invent_topic", "tides")
	e, repo := setupEngine(t, gen)

	register(t, repo, "{seed}", concept.Syntactic)
	register(t, repo, "{topic}", concept.Semantic)

	node := &plan.Node{
		Index:    "1",
		Function: "invent_topic",
		Infer:    "{topic}",
		Values:   []plan.Binding{{Concept: "{seed}"}},
		Sequence: plan.SeqImperative,
		Flags:    plan.Flags{StartWithoutValue: true},
	}

	outcome, err := e.ExecuteNode(context.Background(), node)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeFinalized, outcome)
}

func TestExecuteNode_StartWithoutValueOnceConsumedAfterFirstAttempt(t *testing.T) {
	broken := errors.New("collaborator down")
	gen := testutil.NewFlakyGenerator(1, broken, testutil.NewScriptedGenerator())
	e, repo := setupEngine(t, gen)

	register(t, repo, "{seed}", concept.Syntactic)
	register(t, repo, "{topic}", concept.Semantic)

	node := &plan.Node{
		Index:    "1",
		Function: "invent_topic",
		Infer:    "{topic}",
		Values:   []plan.Binding{{Concept: "{seed}"}},
		Sequence: plan.SeqImperative,
		Flags:    plan.Flags{StartWithoutValueOnce: true},
	}

	// First attempt passes the input gate via the once-flag, then fails in
	// actuation.
	_, err := e.ExecuteNode(context.Background(), node)
	var nerr *engine.NodeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, engine.ErrCodeGeneration, nerr.Code)

	// Second attempt: the once-flag is spent, so the pending input gates
	// the node again.
	outcome, err := e.ExecuteNode(context.Background(), node)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeReenter, outcome)
}

func TestExecuteNode_JudgementNormalizesVerdict(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want ref.Value
	}{
		{"yes", "Yes", ref.Bool(true)},
		{"true", "true", ref.Bool(true)},
		{"no", " no ", ref.Bool(false)},
		{"false", "FALSE", ref.Bool(false)},
		{"free text", "inconclusive", ref.String("inconclusive")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := testutil.NewScriptedGenerator().Respond("is_even", tc.raw)
			e, repo := setupEngine(t, gen)

			register(t, repo, "{number}", concept.Syntactic)
			register(t, repo, "{verdict}", concept.Semantic)
			setScalar(t, repo, "{number}", "42")

			node := &plan.Node{
				Index:    "1",
				Function: "is_even",
				Infer:    "{verdict}",
				Values:   []plan.Binding{{Concept: "{number}"}},
				Sequence: plan.SeqJudgement,
			}

			outcome, err := e.ExecuteNode(context.Background(), node)
			require.NoError(t, err)
			require.Equal(t, engine.OutcomeFinalized, outcome)

			out, err := repo.Reference("{verdict}")
			require.NoError(t, err)
			v, ok := out.Scalar()
			require.True(t, ok)
			assert.True(t, ref.Equal(tc.want, v))
		})
	}
}

func TestExecuteNode_GroupingAndInZips(t *testing.T) {
	e, repo := setupEngine(t, testutil.NewScriptedGenerator())

	register(t, repo, "[firsts]", concept.Syntactic)
	register(t, repo, "[seconds]", concept.Syntactic)
	register(t, repo, "[pairs]", concept.Syntactic)
	require.NoError(t, repo.SetValue("[firsts]",
		ref.FromValues("item", ref.String("a"), ref.String("b")), concept.Syntactic))
	require.NoError(t, repo.SetValue("[seconds]",
		ref.FromValues("item", ref.String("1"), ref.String("2")), concept.Syntactic))

	node := &plan.Node{
		Index:    "1",
		Function: "and_in",
		Infer:    "[pairs]",
		Values: []plan.Binding{
			{Concept: "[firsts]", Position: 1},
			{Concept: "[seconds]", Position: 2},
		},
		Sequence: plan.SeqGrouping,
	}

	outcome, err := e.ExecuteNode(context.Background(), node)
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeFinalized, outcome)

	out, err := repo.Reference("[pairs]")
	require.NoError(t, err)
	assert.Equal(t, []string{"item"}, out.Axes())
	v, ok, err := out.At(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ref.Equal(ref.Tuple{ref.String("b"), ref.String("2")}, v))
}

func TestExecuteNode_GroupingOrAcrossStacksScalars(t *testing.T) {
	e, repo := setupEngine(t, testutil.NewScriptedGenerator())

	register(t, repo, "{plan_a}", concept.Syntactic)
	register(t, repo, "{plan_b}", concept.Syntactic)
	register(t, repo, "[alternatives]", concept.Syntactic)
	setScalar(t, repo, "{plan_a}", "walk")
	setScalar(t, repo, "{plan_b}", "cycle")

	node := &plan.Node{
		Index:    "1",
		Function: "or_across",
		Infer:    "[alternatives]",
		Values: []plan.Binding{
			{Concept: "{plan_a}", Position: 1},
			{Concept: "{plan_b}", Position: 2},
		},
		Sequence:       plan.SeqGrouping,
		Interpretation: map[string]string{"template": "option"},
	}

	outcome, err := e.ExecuteNode(context.Background(), node)
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeFinalized, outcome)

	out, err := repo.Reference("[alternatives]")
	require.NoError(t, err)
	assert.Equal(t, []string{"option"}, out.Axes())
	v, ok, err := out.At(0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ref.Equal(ref.String("walk"), v))
}

func TestExecuteNode_AssigningCopiesInput(t *testing.T) {
	e, repo := setupEngine(t, testutil.NewScriptedGenerator())

	register(t, repo, "[source]", concept.Syntactic)
	register(t, repo, "[target]", concept.Syntactic)
	src := ref.FromValues("row", ref.String("x"), ref.String("y"))
	require.NoError(t, repo.SetValue("[source]", src, concept.Syntactic))

	node := &plan.Node{
		Index:    "1",
		Function: "assign",
		Infer:    "[target]",
		Values:   []plan.Binding{{Concept: "[source]"}},
		Sequence: plan.SeqAssigning,
	}

	outcome, err := e.ExecuteNode(context.Background(), node)
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeFinalized, outcome)

	out, err := repo.Reference("[target]")
	require.NoError(t, err)
	v, ok, err := out.At(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ref.Equal(ref.String("y"), v))
}

func TestExecuteNode_TimingGatesOnContexts(t *testing.T) {
	e, repo := setupEngine(t, testutil.NewScriptedGenerator())

	register(t, repo, "{payload}", concept.Syntactic)
	register(t, repo, "<ready_signal>", concept.Syntactic)
	register(t, repo, "{released}", concept.Syntactic)
	setScalar(t, repo, "{payload}", "cargo")

	node := &plan.Node{
		Index:    "1",
		Function: "gate",
		Infer:    "{released}",
		Values:   []plan.Binding{{Concept: "{payload}"}},
		Contexts: []string{"<ready_signal>"},
		Sequence: plan.SeqTiming,
	}

	// The gate holds until the context concept resolves, even though every
	// value input is ready.
	outcome, err := e.ExecuteNode(context.Background(), node)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeReenter, outcome)

	setScalar(t, repo, "<ready_signal>", "go")

	outcome, err = e.ExecuteNode(context.Background(), node)
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeFinalized, outcome)

	out, err := repo.Reference("{released}")
	require.NoError(t, err)
	v, ok := out.Scalar()
	require.True(t, ok)
	assert.True(t, ref.Equal(ref.String("cargo"), v))
}

func TestExecuteNode_WrapAxisShapesResult(t *testing.T) {
	gen := testutil.NewScriptedGenerator().Respond("split_digits", "2|2|1")
	e, repo := setupEngine(t, gen)

	register(t, repo, "{number}", concept.Syntactic)
	register(t, repo, "[digits]", concept.Semantic)
	setScalar(t, repo, "{number}", "221")

	node := &plan.Node{
		Index:          "1",
		Function:       "split_digits",
		Infer:          "[digits]",
		Values:         []plan.Binding{{Concept: "{number}"}},
		Sequence:       plan.SeqImperative,
		Interpretation: map[string]string{"wrap_axis": "digit", "wrap_sep": "|"},
	}

	outcome, err := e.ExecuteNode(context.Background(), node)
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeFinalized, outcome)

	out, err := repo.Reference("[digits]")
	require.NoError(t, err)
	assert.Equal(t, []string{"digit"}, out.Axes())
	assert.Equal(t, 3, out.Size("digit"))
	v, ok, err := out.At(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ref.Equal(ref.String("1"), v))
}

func TestExecuteNode_DeferredLoadReadsStorage(t *testing.T) {
	gen := testutil.NewScriptedGenerator().Respond("summarize", "short version")
	repo := concept.NewRepository()
	storage := testutil.NewMemStorage()
	require.NoError(t, storage.Write("notes/report.txt", []byte("the full report body")))
	e := engine.New(repo, gen, storage, engine.DefaultRetryPolicy)

	register(t, repo, "{report}", concept.Syntactic)
	register(t, repo, "{summary}", concept.Semantic)
	setScalar(t, repo, "{report}", "@load:notes/report.txt")

	node := &plan.Node{
		Index:    "1",
		Function: "summarize",
		Infer:    "{summary}",
		Values:   []plan.Binding{{Concept: "{report}"}},
		Sequence: plan.SeqImperative,
	}

	outcome, err := e.ExecuteNode(context.Background(), node)
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeFinalized, outcome)

	calls := gen.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "the full report body")
	assert.Equal(t, 1, storage.Reads())
}

func TestExecuteNode_DeferredLoadMissingPathFails(t *testing.T) {
	e, repo := setupEngine(t, testutil.NewScriptedGenerator())

	register(t, repo, "{report}", concept.Syntactic)
	register(t, repo, "{summary}", concept.Semantic)
	setScalar(t, repo, "{report}", "@load:notes/missing.txt")

	node := &plan.Node{
		Index:    "1",
		Function: "summarize",
		Infer:    "{summary}",
		Values:   []plan.Binding{{Concept: "{report}"}},
		Sequence: plan.SeqImperative,
	}

	_, err := e.ExecuteNode(context.Background(), node)
	var nerr *engine.NodeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, engine.ErrCodeStorage, nerr.Code)
	assert.Equal(t, engine.StepPerceiveValues, nerr.Step)
}

func TestExecuteNode_GenerationFailureReportsStepAndCode(t *testing.T) {
	broken := errors.New("model unavailable")
	gen := testutil.NewFlakyGenerator(1, broken, testutil.NewScriptedGenerator())
	e, repo := setupEngine(t, gen)

	register(t, repo, "{name}", concept.Syntactic)
	register(t, repo, "{greeting}", concept.Semantic)
	setScalar(t, repo, "{name}", "world")

	node := &plan.Node{
		Index:    "2.1",
		Function: "compose_greeting",
		Infer:    "{greeting}",
		Values:   []plan.Binding{{Concept: "{name}"}},
		Sequence: plan.SeqImperative,
	}

	_, err := e.ExecuteNode(context.Background(), node)
	var nerr *engine.NodeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, plan.FlowIndex("2.1"), nerr.Index)
	assert.Equal(t, engine.StepActuate, nerr.Step)
	assert.Equal(t, engine.ErrCodeGeneration, nerr.Code)
	assert.False(t, repo.Resolved("{greeting}"))
}

func TestExecuteNode_RetryRecoversTransientFailure(t *testing.T) {
	broken := errors.New("model unavailable")
	gen := testutil.NewFlakyGenerator(2, broken,
		testutil.NewScriptedGenerator().Respond("compose_greeting", "hello"))
	repo := concept.NewRepository()
	e := engine.New(repo, gen, testutil.NewMemStorage(), engine.RetryPolicy{Attempts: 3})

	register(t, repo, "{name}", concept.Syntactic)
	register(t, repo, "{greeting}", concept.Semantic)
	setScalar(t, repo, "{name}", "world")

	node := &plan.Node{
		Index:    "1",
		Function: "compose_greeting",
		Infer:    "{greeting}",
		Values:   []plan.Binding{{Concept: "{name}"}},
		Sequence: plan.SeqImperative,
	}

	outcome, err := e.ExecuteNode(context.Background(), node)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeFinalized, outcome)
}

func TestExecuteNode_TypeMismatchAbortsReturn(t *testing.T) {
	gen := testutil.NewScriptedGenerator().Respond("classify", "spam")
	e, repo := setupEngine(t, gen)

	register(t, repo, "{mail}", concept.Syntactic)
	// Declared syntactic, but an imperative node is a semantic producer.
	register(t, repo, "{label}", concept.Syntactic)
	setScalar(t, repo, "{mail}", "free money now")

	node := &plan.Node{
		Index:    "1",
		Function: "classify",
		Infer:    "{label}",
		Values:   []plan.Binding{{Concept: "{mail}"}},
		Sequence: plan.SeqImperative,
	}

	_, err := e.ExecuteNode(context.Background(), node)
	var nerr *engine.NodeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, engine.ErrCodeTypeMismatch, nerr.Code)
	assert.Equal(t, engine.StepReturnReference, nerr.Step)
	assert.False(t, repo.Resolved("{label}"))
}

func TestExecuteNode_CancelledContextStopsPipeline(t *testing.T) {
	gen := testutil.NewScriptedGenerator().Respond("compose_greeting", "hello")
	e, repo := setupEngine(t, gen)

	register(t, repo, "{name}", concept.Syntactic)
	register(t, repo, "{greeting}", concept.Semantic)
	setScalar(t, repo, "{name}", "world")

	node := &plan.Node{
		Index:    "1",
		Function: "compose_greeting",
		Infer:    "{greeting}",
		Values:   []plan.Binding{{Concept: "{name}"}},
		Sequence: plan.SeqImperative,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := e.ExecuteNode(ctx, node)
	assert.Equal(t, engine.OutcomeReenter, outcome)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, repo.Resolved("{greeting}"))
}

func TestExecuteNode_QuantifyingLoopWithCarry(t *testing.T) {
	gen := testutil.NewScriptedGenerator().
		Respond("element: 3 8", "1|carry:1").
		Respond("element: 2 9", "2|carry:1").
		Respond("element: 1 0", "2|carry:0")
	e, repo := setupEngine(t, gen)

	register(t, repo, "[pairs]", concept.Syntactic)
	register(t, repo, "{carry}", concept.Semantic)
	register(t, repo, "[digit_sums]", concept.Semantic)
	require.NoError(t, repo.SetValue("[pairs]", ref.FromValues("pair",
		ref.Tuple{ref.String("3"), ref.String("8")},
		ref.Tuple{ref.String("2"), ref.String("9")},
		ref.Tuple{ref.String("1"), ref.String("0")},
	), concept.Syntactic))
	setScalar(t, repo, "{carry}", "0")

	node := &plan.Node{
		Index:    "1.2",
		Function: "add_pair",
		Infer:    "[digit_sums]",
		Sequence: plan.SeqQuantifying,
		Quantifier: &quant.Quantifier{
			Base:     "[pairs]",
			ViewAxis: "pair",
			Carry:    &quant.Carryover{Concept: "{carry}", Condition: "nonzero"},
		},
	}

	ctx := context.Background()

	// One base element per attempt; the node yields between iterations.
	for i := 1; i <= 3; i++ {
		outcome, err := e.ExecuteNode(ctx, node)
		require.NoError(t, err)
		assert.Equal(t, engine.OutcomeReenter, outcome, "iteration %d", i)
		assert.Equal(t, i, e.LoopProgress("1.2"))
	}

	// The carry threaded through the second iteration is visible in the
	// repository between attempts.
	carry, err := repo.Reference("{carry}")
	require.NoError(t, err)
	cv, ok := carry.Scalar()
	require.True(t, ok)
	assert.True(t, ref.Equal(ref.String("0"), cv))

	// Exhausted loop: the next attempt combines along the view axis.
	outcome, err := e.ExecuteNode(ctx, node)
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeFinalized, outcome)
	assert.Equal(t, 0, e.LoopProgress("1.2"))

	out, err := repo.Reference("[digit_sums]")
	require.NoError(t, err)
	assert.Equal(t, []string{"pair"}, out.Axes())
	want := []ref.Value{ref.String("1"), ref.String("2"), ref.String("2")}
	for i, w := range want {
		v, ok, err := out.At(i)
		require.NoError(t, err)
		require.True(t, ok, "position %d", i)
		assert.True(t, ref.Equal(w, v), "position %d", i)
	}
}

func TestExecuteNode_QuantifyingCarryPromptIncludesCondition(t *testing.T) {
	gen := testutil.NewScriptedGenerator().Respond("element:", "r|carry:c")
	e, repo := setupEngine(t, gen)

	register(t, repo, "[items]", concept.Syntactic)
	register(t, repo, "{acc}", concept.Semantic)
	register(t, repo, "[results]", concept.Semantic)
	require.NoError(t, repo.SetValue("[items]",
		ref.FromValues("item", ref.String("only")), concept.Syntactic))
	setScalar(t, repo, "{acc}", "seed")

	node := &plan.Node{
		Index:    "1",
		Function: "fold_item",
		Infer:    "[results]",
		Sequence: plan.SeqQuantifying,
		Quantifier: &quant.Quantifier{
			Base:     "[items]",
			ViewAxis: "item",
			Carry:    &quant.Carryover{Concept: "{acc}", Condition: "nonzero"},
		},
	}

	_, err := e.ExecuteNode(context.Background(), node)
	require.NoError(t, err)

	calls := gen.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "instruction: fold_item")
	assert.Contains(t, calls[0], "element: only")
	assert.Contains(t, calls[0], "carry: seed")
	assert.Contains(t, calls[0], "carry_condition: nonzero")
}

func TestExecuteNode_QuantifyingSkipsUnsetPositions(t *testing.T) {
	gen := testutil.NewScriptedGenerator().
		Respond("element: a", "A").
		Respond("element: c", "C")
	e, repo := setupEngine(t, gen)

	register(t, repo, "[items]", concept.Syntactic)
	register(t, repo, "[upper]", concept.Semantic)
	base := ref.NewBuilder([]string{"item"}, 3).
		Set(ref.String("a"), 0).
		Set(ref.String("c"), 2).
		MustBuild()
	require.NoError(t, repo.SetValue("[items]", base, concept.Syntactic))

	node := &plan.Node{
		Index:    "1",
		Function: "uppercase",
		Infer:    "[upper]",
		Sequence: plan.SeqQuantifying,
		Quantifier: &quant.Quantifier{
			Base:     "[items]",
			ViewAxis: "item",
		},
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		outcome, err := e.ExecuteNode(ctx, node)
		require.NoError(t, err)
		require.Equal(t, engine.OutcomeReenter, outcome)
	}
	outcome, err := e.ExecuteNode(ctx, node)
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeFinalized, outcome)

	out, err := repo.Reference("[upper]")
	require.NoError(t, err)
	// Position 1 was never populated on the base; it stays unset.
	_, ok, err := out.At(1)
	require.NoError(t, err)
	assert.False(t, ok)
	v, ok, err := out.At(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ref.Equal(ref.String("C"), v))
}

func TestExecuteNode_DeferredLoadWithoutStorageFails(t *testing.T) {
	gen := testutil.NewScriptedGenerator().Respond("summarize", "short version")
	repo := concept.NewRepository()
	e := engine.New(repo, gen, nil, engine.DefaultRetryPolicy)

	register(t, repo, "{report}", concept.Syntactic)
	register(t, repo, "{summary}", concept.Semantic)
	setScalar(t, repo, "{report}", "@load:notes/report.txt")

	node := &plan.Node{
		Index:    "1",
		Function: "summarize",
		Infer:    "{summary}",
		Values:   []plan.Binding{{Concept: "{report}"}},
		Sequence: plan.SeqImperative,
	}

	_, err := e.ExecuteNode(context.Background(), node)
	var nerr *engine.NodeError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, plan.FlowIndex("1"), nerr.Index)
	assert.Equal(t, engine.StepPerceiveValues, nerr.Step)
	assert.Equal(t, engine.ErrCodeStorage, nerr.Code)
	assert.ErrorIs(t, err, engine.ErrNoStorage)
}

func TestExecuteNode_QuantifyingEmptyBaseFinalizesEmpty(t *testing.T) {
	e, repo := setupEngine(t, testutil.NewScriptedGenerator())

	register(t, repo, "[items]", concept.Syntactic)
	register(t, repo, "[results]", concept.Semantic)
	empty, err := ref.NewBuilder([]string{"item"}, 0).Build()
	require.NoError(t, err)
	require.NoError(t, repo.SetValue("[items]", empty, concept.Syntactic))

	node := &plan.Node{
		Index:    "1",
		Function: "process_item",
		Infer:    "[results]",
		Sequence: plan.SeqQuantifying,
		Quantifier: &quant.Quantifier{
			Base:     "[items]",
			ViewAxis: "item",
		},
	}

	// Zero elements to iterate: the node combines immediately, without a
	// single collaborator call.
	outcome, err := e.ExecuteNode(context.Background(), node)
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeFinalized, outcome)

	out, err := repo.Reference("[results]")
	require.NoError(t, err)
	assert.Equal(t, []string{"item"}, out.Axes())
	assert.Equal(t, 0, out.Len())
}

func TestExecuteNode_DynamicFunctionUsesResolvedInstruction(t *testing.T) {
	gen := testutil.NewScriptedGenerator().Respond("condense the quarter report", "done")
	e, repo := setupEngine(t, gen)

	register(t, repo, "{fn}", concept.Syntactic)
	register(t, repo, "{text}", concept.Syntactic)
	register(t, repo, "{summary}", concept.Semantic)
	setScalar(t, repo, "{fn}", "condense the quarter report")
	setScalar(t, repo, "{text}", "revenue grew")

	node := &plan.Node{
		Index:    "1",
		Function: "{fn}",
		Infer:    "{summary}",
		Values:   []plan.Binding{{Concept: "{text}"}},
		Sequence: plan.SeqImperative,
	}

	outcome, err := e.ExecuteNode(context.Background(), node)
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeFinalized, outcome)

	calls := gen.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "instruction: condense the quarter report\ninput: revenue grew", calls[0])
}

func TestExecuteNode_DynamicFunctionGatesUntilResolved(t *testing.T) {
	gen := testutil.NewScriptedGenerator().Respond("instruction:", "done")
	e, repo := setupEngine(t, gen)

	register(t, repo, "{fn}", concept.Semantic)
	register(t, repo, "{text}", concept.Syntactic)
	register(t, repo, "{summary}", concept.Semantic)
	setScalar(t, repo, "{text}", "revenue grew")

	node := &plan.Node{
		Index:    "1",
		Function: "{fn}",
		Infer:    "{summary}",
		Values:   []plan.Binding{{Concept: "{text}"}},
		Sequence: plan.SeqImperative,
	}

	ctx := context.Background()
	outcome, err := e.ExecuteNode(ctx, node)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeReenter, outcome)
	assert.Empty(t, gen.Calls())

	require.NoError(t, repo.SetValue("{fn}",
		ref.NewScalar(ref.String("condense")), concept.Semantic))
	outcome, err = e.ExecuteNode(ctx, node)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeFinalized, outcome)
}

func TestExecuteNode_StartWithoutFunctionFallsBackToToken(t *testing.T) {
	gen := testutil.NewScriptedGenerator().Respond("{fn}", "done")
	e, repo := setupEngine(t, gen)

	register(t, repo, "{fn}", concept.Semantic)
	register(t, repo, "{text}", concept.Syntactic)
	register(t, repo, "{summary}", concept.Semantic)
	setScalar(t, repo, "{text}", "revenue grew")

	node := &plan.Node{
		Index:    "1",
		Function: "{fn}",
		Infer:    "{summary}",
		Values:   []plan.Binding{{Concept: "{text}"}},
		Sequence: plan.SeqImperative,
		Flags:    plan.Flags{StartWithoutFunction: true},
	}

	outcome, err := e.ExecuteNode(context.Background(), node)
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeFinalized, outcome)

	calls := gen.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "instruction: {fn}\ninput: revenue grew", calls[0])
}

func TestExecuteNode_StartWithSupportOnlyProceedsOnContexts(t *testing.T) {
	gen := testutil.NewScriptedGenerator().Respond("compose", "done")
	e, repo := setupEngine(t, gen)

	register(t, repo, "{text}", concept.Semantic)
	register(t, repo, "<style>", concept.Syntactic)
	register(t, repo, "{summary}", concept.Semantic)
	setScalar(t, repo, "<style>", "terse")

	node := &plan.Node{
		Index:    "1",
		Function: "compose",
		Infer:    "{summary}",
		Values:   []plan.Binding{{Concept: "{text}"}},
		Contexts: []string{"<style>"},
		Sequence: plan.SeqImperative,
		Flags:    plan.Flags{StartWithSupportOnly: true},
	}

	// The value binding is unresolved; the support reference alone starts
	// the node and the prompt carries no input line.
	outcome, err := e.ExecuteNode(context.Background(), node)
	require.NoError(t, err)
	require.Equal(t, engine.OutcomeFinalized, outcome)

	calls := gen.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "instruction: compose\ncontext: terse", calls[0])
}

func TestExecuteNode_StartWithSupportOnlyWaitsForContexts(t *testing.T) {
	gen := testutil.NewScriptedGenerator()
	e, repo := setupEngine(t, gen)

	register(t, repo, "{text}", concept.Syntactic)
	register(t, repo, "<style>", concept.Semantic)
	register(t, repo, "{summary}", concept.Semantic)
	setScalar(t, repo, "{text}", "revenue grew")

	node := &plan.Node{
		Index:    "1",
		Function: "compose",
		Infer:    "{summary}",
		Values:   []plan.Binding{{Concept: "{text}"}},
		Contexts: []string{"<style>"},
		Sequence: plan.SeqImperative,
		Flags:    plan.Flags{StartWithSupportOnly: true},
	}

	outcome, err := e.ExecuteNode(context.Background(), node)
	require.NoError(t, err)
	assert.Equal(t, engine.OutcomeReenter, outcome)
	assert.Empty(t, gen.Calls())
}
