package plan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyptra/planrun/internal/concept"
	"github.com/calyptra/planrun/internal/ref"
)

const additionPlan = `
# digit-aligned addition with carry
ground {number1} = "123"
ground {number2} = "98"
ground {carry} = "0"
output {sum}

1 ! compose_sum {sum} :imperative
1 + [digit_sums] <:{1}>
1.1 ! align_digits [pairs] :imperative %wrap_axis=pair %wrap_sep=|
1.1 + {number1} <:{1}>
1.1 + {number2} <:{2}>
1.2 ! add_pair [digit_sums] :quantifying each [pairs]/pair @(1) carry {carry} <*nonzero>
1.2 + [pairs] <:{1}>
`

func loadPlan(t *testing.T, text string) *Graph {
	t.Helper()
	g, err := Load(strings.NewReader(text), "test.plan")
	require.NoError(t, err)
	return g
}

func TestLoadAdditionPlan(t *testing.T) {
	g := loadPlan(t, additionPlan)
	assert.Equal(t, 3, g.Len())

	root, ok := g.Node("1")
	require.True(t, ok)
	assert.Equal(t, "compose_sum", root.Function)
	assert.Equal(t, "{sum}", root.Infer)
	assert.Equal(t, SeqImperative, root.Sequence)
	require.Len(t, root.Values, 1)
	assert.Equal(t, Binding{Concept: "[digit_sums]", Kind: concept.KindValue, Position: 1}, root.Values[0])

	align, ok := g.Node("1.1")
	require.True(t, ok)
	assert.Equal(t, "pair", align.Interpretation["wrap_axis"])
	assert.Equal(t, "|", align.Interpretation["wrap_sep"])

	loop, ok := g.Node("1.2")
	require.True(t, ok)
	require.NotNil(t, loop.Quantifier)
	assert.Equal(t, "[pairs]", loop.Quantifier.Base)
	assert.Equal(t, "pair", loop.Quantifier.ViewAxis)
	assert.Equal(t, 1, loop.Quantifier.LoopIndex)
	require.NotNil(t, loop.Quantifier.Carry)
	assert.Equal(t, "{carry}", loop.Quantifier.Carry.Concept)
}

func TestLoadGroundLiterals(t *testing.T) {
	g := loadPlan(t, `
ground {s} = "abc"
ground {n} = 42
ground {b} = true
ground [xs] = ["a", "b", "c"]
1 ! f {out} :assigning
1 + {s}
`)
	grounds := g.Grounds()

	v, ok := grounds["{s}"].Scalar()
	require.True(t, ok)
	assert.Equal(t, ref.String("abc"), v)

	v, ok = grounds["{n}"].Scalar()
	require.True(t, ok)
	assert.Equal(t, ref.Int(42), v)

	v, ok = grounds["{b}"].Scalar()
	require.True(t, ok)
	assert.Equal(t, ref.Bool(true), v)

	xs := grounds["[xs]"]
	assert.Equal(t, []string{"xs"}, xs.Axes())
	assert.Equal(t, 3, xs.Size("xs"))
}

func TestLoadContextConcepts(t *testing.T) {
	g := loadPlan(t, `
ground {x} = "v"
ground <style> = "terse"
1 ! f {out} :imperative
1 + {x}
1 + <style>
`)
	n, _ := g.Node("1")
	assert.Equal(t, []string{"<style>"}, n.Contexts)
}

func TestLoadFlags(t *testing.T) {
	g := loadPlan(t, `
ground {x} = "v"
1 ! f {out} :imperative ?start_without_value ?start_with_support_only_once
1 + {x}
`)
	n, _ := g.Node("1")
	assert.True(t, n.Flags.StartWithoutValue)
	assert.True(t, n.Flags.StartWithSupportOnce)
	assert.False(t, n.Flags.StartWithoutFunction)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		code string
	}{
		{"malformed index", `x ! f {out} :imperative`, ErrCodeFlowIndex},
		{"zero segment", `1.0 ! f {out} :imperative`, ErrCodeFlowIndex},
		{"bad marker", `1 ? f {out} :imperative`, ErrCodeSyntax},
		{"bad sequence", `1 ! f {out} :sideways`, ErrCodeUnknownSequence},
		{"duplicate node", "1 ! f {a} :assigning\n1 + {a}\n1 ! g {b} :assigning", ErrCodeDuplicateNode},
		{"undelimited output", `1 ! f out :imperative`, ErrCodeSyntax},
		{"value for undeclared node", `2 + {x}`, ErrCodeSyntax},
		{"quantifier on imperative", `1 ! f {out} :imperative each [xs]/x`, ErrCodeQuantifier},
		{"quantifying without clause", `1 ! f {out} :quantifying`, ErrCodeQuantifier},
		{"unknown flag", `1 ! f {out} :imperative ?warp_speed`, ErrCodeSyntax},
		{"bad ground", `ground {x} = `, ErrCodeSyntax},
		{"undeclared concept", "1 ! f {out} :imperative\n1 + {missing}", ErrCodeUnknownConcept},
		{"missing parent", `1.1 ! f {out} :imperative`, ErrCodeMissingParent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.text), "bad.plan")
			require.Error(t, err)
			var le *LoadError
			require.ErrorAs(t, err, &le, "expected LoadError, got %v", err)
			assert.Equal(t, tt.code, le.Code)
		})
	}
}

func TestLoadPositionalBindings(t *testing.T) {
	g := loadPlan(t, `
ground {a} = "1"
ground {b} = "2"
ground {c} = "3"
1 ! f {out} :imperative
1 + {c}
1 + {b} <:{2}>
1 + {a} <:{1}>
`)
	n, _ := g.Node("1")
	ordered := n.OrderedValues()
	require.Len(t, ordered, 3)
	// Positional bindings first (ascending), then declaration order.
	assert.Equal(t, "{a}", ordered[0].Concept)
	assert.Equal(t, "{b}", ordered[1].Concept)
	assert.Equal(t, "{c}", ordered[2].Concept)
}
