package plan

import (
	"fmt"

	"github.com/calyptra/planrun/internal/concept"
	"github.com/calyptra/planrun/internal/quant"
)

// Sequence selects which step-kind pipeline the engine runs for a node.
// Closed set: the dispatch table in the engine is keyed on these variants.
type Sequence int

const (
	SeqImperative Sequence = iota
	SeqJudgement
	SeqGrouping
	SeqQuantifying
	SeqAssigning
	SeqTiming
)

var sequenceNames = map[Sequence]string{
	SeqImperative:  "imperative",
	SeqJudgement:   "judgement",
	SeqGrouping:    "grouping",
	SeqQuantifying: "quantifying",
	SeqAssigning:   "assigning",
	SeqTiming:      "timing",
}

func (s Sequence) String() string {
	if n, ok := sequenceNames[s]; ok {
		return n
	}
	return "unknown"
}

// ParseSequence maps a wire-format sequence token to its variant.
func ParseSequence(tok string) (Sequence, error) {
	for s, n := range sequenceNames {
		if n == tok {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown inference sequence %q", tok)
}

// Flags carries the behavioral annotations a node may declare. The Once
// variants apply only on the node's first resolution attempt.
type Flags struct {
	StartWithoutValue      bool
	StartWithoutValueOnce  bool
	StartWithoutFunction   bool
	StartWithoutFuncOnce   bool
	StartWithSupportOnly   bool
	StartWithSupportOnce   bool
}

// Binding attaches a value or context concept to a node. Position carries
// the `<:{n}>` positional annotation establishing argument order for
// multi-input functions; 0 means unannotated (declaration order applies).
type Binding struct {
	Concept  string
	Kind     concept.Kind
	Position int
}

// Node is one inference of the plan graph: it binds a function concept to
// an ordered list of value concepts and optional context concepts.
// Nodes are created at plan-load time and never mutated at runtime; only
// the concept-to-infer's reference changes, via the engine.
type Node struct {
	Index          FlowIndex
	Function       string
	Infer          string // concept-to-infer
	Values         []Binding
	Contexts       []string
	Sequence       Sequence
	Flags          Flags
	Quantifier     *quant.Quantifier // non-nil only for quantifying nodes
	Interpretation map[string]string // working interpretation consulted by steps
}

// FunctionConcept returns the function token as a repository concept name
// when the plan binds the instruction dynamically ("{fn}" style). A bare
// token ("compose_sum") is a literal instruction, not a binding.
func (n *Node) FunctionConcept() (string, bool) {
	if isDelimitedName(n.Function) {
		return n.Function, true
	}
	return "", false
}

// OrderedValues returns the value bindings in argument order: positional
// annotations first (ascending), then unannotated bindings in declaration
// order.
func (n *Node) OrderedValues() []Binding {
	out := append([]Binding(nil), n.Values...)
	// Insertion sort; bindings lists are tiny and stability matters.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && rankOf(out[j]) < rankOf(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func rankOf(b Binding) int {
	if b.Position == 0 {
		return int(^uint(0) >> 1) // unannotated bindings sort last
	}
	return b.Position
}
