package plan

import (
	"slices"

	"github.com/calyptra/planrun/internal/concept"
	"github.com/calyptra/planrun/internal/ref"
)

// Graph is the loaded, validated plan: inference nodes addressed by flow
// index, ground inputs, and output markings. Graphs are immutable after
// Load; runs share them read-only.
type Graph struct {
	nodes   map[FlowIndex]*Node
	order   []FlowIndex // declaration order
	grounds map[string]*ref.Reference
	outputs map[string]bool
	topo    []FlowIndex // computed once during validation
}

func newGraph() *Graph {
	return &Graph{
		nodes:   make(map[FlowIndex]*Node),
		grounds: make(map[string]*ref.Reference),
		outputs: make(map[string]bool),
	}
}

// Node returns the node at the given flow index.
func (g *Graph) Node(idx FlowIndex) (*Node, bool) {
	n, ok := g.nodes[idx]
	return n, ok
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Indices returns every flow index in segment-wise numeric order.
func (g *Graph) Indices() []FlowIndex {
	out := make([]FlowIndex, 0, len(g.nodes))
	for idx := range g.nodes {
		out = append(out, idx)
	}
	slices.SortFunc(out, FlowIndex.Compare)
	return out
}

// ChildrenOf returns the direct children of idx in numeric order.
func (g *Graph) ChildrenOf(idx FlowIndex) []FlowIndex {
	var out []FlowIndex
	for candidate := range g.nodes {
		if candidate.IsChildOf(idx) {
			out = append(out, candidate)
		}
	}
	slices.SortFunc(out, FlowIndex.Compare)
	return out
}

// ParentOf returns the parent node's index; ok is false for roots.
func (g *Graph) ParentOf(idx FlowIndex) (FlowIndex, bool) {
	return idx.Parent()
}

// Grounds returns the declared ground values keyed by concept name.
func (g *Graph) Grounds() map[string]*ref.Reference {
	out := make(map[string]*ref.Reference, len(g.grounds))
	for k, v := range g.grounds {
		out[k] = v
	}
	return out
}

// Outputs returns the plan's declared output concept names, sorted.
func (g *Graph) Outputs() []string {
	out := make([]string, 0, len(g.outputs))
	for name := range g.outputs {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// TopologicalOrder returns node indices in dependency order: producers
// before consumers, derived from the value/context concept graph rather
// than from index nesting. Ties break on flow-index numeric order, so the
// result is deterministic for a given plan. Computed at load time; cycles
// have already been rejected.
func (g *Graph) TopologicalOrder() []FlowIndex {
	return append([]FlowIndex(nil), g.topo...)
}

// producerOf maps each concept name to the node that infers it.
func (g *Graph) producerOf() map[string]FlowIndex {
	producers := make(map[string]FlowIndex)
	for idx, n := range g.nodes {
		producers[n.Infer] = idx
		if n.Quantifier != nil && n.Quantifier.Infer != "" {
			producers[n.Quantifier.Infer] = idx
		}
	}
	return producers
}

// consumed returns the concept names a node reads: its value bindings,
// contexts, a dynamically bound function, and (for quantifying nodes) the
// loop base. The carry concept is in-loop state, not a dependency edge.
func consumed(n *Node) []string {
	var out []string
	for _, b := range n.Values {
		out = append(out, b.Concept)
	}
	out = append(out, n.Contexts...)
	if n.Quantifier != nil {
		out = append(out, n.Quantifier.Base)
	}
	if fc, ok := n.FunctionConcept(); ok {
		out = append(out, fc)
	}
	return out
}

// dependsOn lists the concepts that order a node in the schedule. Flags
// that let a node start before a dependency resolves drop that edge here;
// consumed still covers every referenced concept for declaration checks.
func dependsOn(n *Node) []string {
	var out []string
	if !n.Flags.StartWithSupportOnly && !n.Flags.StartWithSupportOnce {
		for _, b := range n.Values {
			out = append(out, b.Concept)
		}
	}
	out = append(out, n.Contexts...)
	if n.Quantifier != nil {
		out = append(out, n.Quantifier.Base)
	}
	if fc, ok := n.FunctionConcept(); ok {
		if !n.Flags.StartWithoutFunction && !n.Flags.StartWithoutFuncOnce {
			out = append(out, fc)
		}
	}
	return out
}

// validate runs all load-time checks and caches the topological order.
func (g *Graph) validate(file string) error {
	// Parent existence: every non-root node needs its parent declared.
	for idx := range g.nodes {
		if parent, ok := idx.Parent(); ok {
			if _, exists := g.nodes[parent]; !exists {
				return &LoadError{File: file, Code: ErrCodeMissingParent,
					Message: "node " + string(idx) + " has no parent " + string(parent)}
			}
		}
	}

	// Every referenced concept must be produced by some node or declared
	// ground. Carry concepts are exempt (in-loop state seeded from context).
	producers := g.producerOf()
	declared := func(name string) bool {
		if _, ok := producers[name]; ok {
			return true
		}
		_, ok := g.grounds[name]
		return ok
	}
	for _, idx := range g.order {
		for _, name := range consumed(g.nodes[idx]) {
			if !declared(name) {
				return &LoadError{File: file, Code: ErrCodeUnknownConcept,
					Message: "node " + string(idx) + " references undeclared concept " + name}
			}
		}
	}

	topo, err := g.computeTopo(producers)
	if err != nil {
		return err
	}
	g.topo = topo
	return nil
}

// computeTopo performs Kahn's algorithm with a deterministic ready order.
func (g *Graph) computeTopo(producers map[string]FlowIndex) ([]FlowIndex, error) {
	indegree := make(map[FlowIndex]int, len(g.nodes))
	dependents := make(map[FlowIndex][]FlowIndex)
	for idx := range g.nodes {
		indegree[idx] = 0
	}
	for idx, n := range g.nodes {
		for _, name := range dependsOn(n) {
			producer, ok := producers[name]
			if !ok || producer == idx {
				continue
			}
			indegree[idx]++
			dependents[producer] = append(dependents[producer], idx)
		}
	}

	var ready []FlowIndex
	for idx, deg := range indegree {
		if deg == 0 {
			ready = append(ready, idx)
		}
	}
	slices.SortFunc(ready, FlowIndex.Compare)

	out := make([]FlowIndex, 0, len(g.nodes))
	for len(ready) > 0 {
		idx := ready[0]
		ready = ready[1:]
		out = append(out, idx)
		next := dependents[idx]
		slices.SortFunc(next, FlowIndex.Compare)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = insertSorted(ready, dep)
			}
		}
	}

	if len(out) != len(g.nodes) {
		var stuck []FlowIndex
		for idx, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, idx)
			}
		}
		slices.SortFunc(stuck, FlowIndex.Compare)
		return nil, &PlanCycleError{Path: stuck}
	}
	return out, nil
}

func insertSorted(list []FlowIndex, idx FlowIndex) []FlowIndex {
	pos, _ := slices.BinarySearchFunc(list, idx, FlowIndex.Compare)
	return slices.Insert(list, pos, idx)
}

// BuildRepository registers every concept the plan names into a fresh
// repository and resolves the ground values. Node-produced concepts take
// the semantic type of their producing sequence; ground concepts are
// syntactic inputs.
func (g *Graph) BuildRepository() (*concept.Repository, error) {
	repo := concept.NewRepository()

	register := func(c concept.Concept) error {
		if repo.Has(c.Name) {
			return nil
		}
		return repo.Register(c)
	}

	// A ground that a semantic node re-produces (a loop carry, typically)
	// must be declared semantic, or the producing node could never write it.
	producedSemantic := make(map[string]bool)
	for _, n := range g.nodes {
		if n.SemanticType() != concept.Semantic {
			continue
		}
		producedSemantic[n.Infer] = true
		if q := n.Quantifier; q != nil {
			if q.Infer != "" {
				producedSemantic[q.Infer] = true
			}
			if q.Carry != nil {
				producedSemantic[q.Carry.Concept] = true
			}
		}
	}

	// Ground concepts first - inputs supplied from outside.
	names := make([]string, 0, len(g.grounds))
	for name := range g.grounds {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		semantic := concept.Syntactic
		if producedSemantic[name] {
			semantic = concept.Semantic
		}
		if err := register(concept.Concept{
			Name:     name,
			Kind:     kindFromDelimiter(name),
			Semantic: semantic,
			IsGround: true,
			IsOutput: g.outputs[name],
		}); err != nil {
			return nil, err
		}
	}

	for _, idx := range g.order {
		n := g.nodes[idx]
		semantic := n.SemanticType()
		if err := register(concept.Concept{
			Name:     n.Function,
			Kind:     concept.KindFunction,
			Semantic: semantic,
		}); err != nil {
			return nil, err
		}
		produced := []string{n.Infer}
		if n.Quantifier != nil {
			if n.Quantifier.Infer != "" && n.Quantifier.Infer != n.Infer {
				produced = append(produced, n.Quantifier.Infer)
			}
			if c := n.Quantifier.Carry; c != nil {
				if err := register(concept.Concept{
					Name:     c.Concept,
					Kind:     kindFromDelimiter(c.Concept),
					Semantic: semantic,
				}); err != nil {
					return nil, err
				}
			}
		}
		for _, name := range produced {
			if err := register(concept.Concept{
				Name:     name,
				Kind:     kindFromDelimiter(name),
				Semantic: semantic,
				IsOutput: g.outputs[name],
			}); err != nil {
				return nil, err
			}
		}
	}

	for _, name := range names {
		if err := repo.SetValue(name, g.grounds[name], concept.Syntactic); err != nil {
			return nil, err
		}
	}
	return repo, nil
}

// SemanticType reports whether resolving this node needs the opaque
// language-capability collaborator.
func (n *Node) SemanticType() concept.SemanticType {
	switch n.Sequence {
	case SeqGrouping, SeqAssigning, SeqTiming:
		return concept.Syntactic
	case SeqQuantifying:
		if syntacticFunctions[n.Function] {
			return concept.Syntactic
		}
		return concept.Semantic
	default:
		return concept.Semantic
	}
}

func kindFromDelimiter(name string) concept.Kind {
	if len(name) > 0 && name[0] == '<' {
		return concept.KindContext
	}
	return concept.KindValue
}
