package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyptra/planrun/internal/concept"
	"github.com/calyptra/planrun/internal/ref"
)

// sourceSnapshot holds {done}="old", [rows] over axis "row", {score}=Int.
func sourceSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	repo := concept.NewRepository()
	require.NoError(t, repo.Register(concept.Concept{Name: "{done}", Semantic: concept.Semantic}))
	require.NoError(t, repo.Register(concept.Concept{Name: "[rows]", Semantic: concept.Syntactic}))
	require.NoError(t, repo.Register(concept.Concept{Name: "{score}", Semantic: concept.Semantic}))
	require.NoError(t, repo.SetValue("{done}", ref.NewScalar(ref.String("old")), concept.Semantic))
	require.NoError(t, repo.SetValue("[rows]",
		ref.FromValues("row", ref.String("r1"), ref.String("r2")), concept.Syntactic))
	require.NoError(t, repo.SetValue("{score}", ref.NewScalar(ref.Int(9)), concept.Semantic))

	snap, err := Capture(repo, 5, nil, nil, nil)
	require.NoError(t, err)
	return snap
}

func TestParseMode(t *testing.T) {
	for _, tok := range []string{"fill_gaps", "patch", "overwrite"} {
		m, err := ParseMode(tok)
		require.NoError(t, err)
		assert.Equal(t, tok, m.String())
	}
	_, err := ParseMode("merge")
	assert.Error(t, err)
}

func TestReconcile_FillGapsNeverOverwrites(t *testing.T) {
	snap := sourceSnapshot(t)

	target := concept.NewRepository()
	require.NoError(t, target.Register(concept.Concept{Name: "{done}", Semantic: concept.Semantic}))
	require.NoError(t, target.Register(concept.Concept{Name: "[rows]", Semantic: concept.Syntactic}))
	// {done} already resolved in the target; it must survive.
	require.NoError(t, target.SetValue("{done}", ref.NewScalar(ref.String("fresh")), concept.Semantic))

	report, err := snap.Reconcile(target, FillGaps)
	require.NoError(t, err)

	assert.Equal(t, []string{"[rows]"}, report.Applied)
	assert.Equal(t, []string{"{done}"}, report.Kept)
	assert.Equal(t, []string{"{score}"}, report.Discarded)

	v, err := target.Reference("{done}")
	require.NoError(t, err)
	sc, ok := v.Scalar()
	require.True(t, ok)
	assert.True(t, ref.Equal(ref.String("fresh"), sc))
	assert.True(t, target.Resolved("[rows]"))
}

func TestReconcile_PatchDiscardsSignatureMismatch(t *testing.T) {
	snap := sourceSnapshot(t)

	target := concept.NewRepository()
	// Same name, different declared semantic type: mismatch.
	require.NoError(t, target.Register(concept.Concept{Name: "{done}", Semantic: concept.Syntactic}))
	// Unresolved with matching semantic type: transplant allowed.
	require.NoError(t, target.Register(concept.Concept{Name: "{score}", Semantic: concept.Semantic}))
	// Resolved with a different axis set: mismatch.
	require.NoError(t, target.Register(concept.Concept{Name: "[rows]", Semantic: concept.Syntactic}))
	require.NoError(t, target.SetValue("[rows]",
		ref.FromValues("column", ref.String("c1")), concept.Syntactic))

	report, err := snap.Reconcile(target, Patch)
	require.NoError(t, err)

	assert.Equal(t, []string{"{score}"}, report.Applied)
	assert.Equal(t, []string{"[rows]", "{done}"}, report.Discarded)

	// Discarded targets keep their prior state.
	assert.False(t, target.Resolved("{done}"))
	rows, err := target.Reference("[rows]")
	require.NoError(t, err)
	assert.Equal(t, []string{"column"}, rows.Axes())
}

func TestReconcile_PatchKeepsMatchingAxes(t *testing.T) {
	snap := sourceSnapshot(t)

	target := concept.NewRepository()
	require.NoError(t, target.Register(concept.Concept{Name: "[rows]", Semantic: concept.Syntactic}))
	require.NoError(t, target.SetValue("[rows]",
		ref.FromValues("row", ref.String("stale")), concept.Syntactic))

	report, err := snap.Reconcile(target, Patch)
	require.NoError(t, err)
	assert.Equal(t, []string{"[rows]"}, report.Applied)

	rows, err := target.Reference("[rows]")
	require.NoError(t, err)
	assert.Equal(t, 2, rows.Size("row"))
}

func TestReconcile_OverwriteTransplantsUnconditionally(t *testing.T) {
	snap := sourceSnapshot(t)

	target := concept.NewRepository()
	require.NoError(t, target.Register(concept.Concept{Name: "{done}", Semantic: concept.Syntactic}))
	require.NoError(t, target.SetValue("{done}", ref.NewScalar(ref.String("fresh")), concept.Syntactic))

	report, err := snap.Reconcile(target, Overwrite)
	require.NoError(t, err)
	assert.Equal(t, []string{"{done}"}, report.Applied)

	v, err := target.Reference("{done}")
	require.NoError(t, err)
	sc, ok := v.Scalar()
	require.True(t, ok)
	assert.True(t, ref.Equal(ref.String("old"), sc))
}

func TestReconcile_UnresolvedSavedConceptsNeverTouchTarget(t *testing.T) {
	repo := concept.NewRepository()
	require.NoError(t, repo.Register(concept.Concept{Name: "{pending}", Semantic: concept.Semantic}))
	snap, err := Capture(repo, 1, nil, nil, nil)
	require.NoError(t, err)

	target := concept.NewRepository()
	require.NoError(t, target.Register(concept.Concept{Name: "{pending}", Semantic: concept.Semantic}))
	require.NoError(t, target.SetValue("{pending}", ref.NewScalar(ref.String("kept")), concept.Semantic))

	report, err := snap.Reconcile(target, Overwrite)
	require.NoError(t, err)
	assert.Empty(t, report.Applied)
	assert.True(t, target.Resolved("{pending}"))
}
