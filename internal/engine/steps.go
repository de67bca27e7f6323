package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/calyptra/planrun/internal/concept"
	"github.com/calyptra/planrun/internal/quant"
	"github.com/calyptra/planrun/internal/ref"
)

// deferredLoadPrefix marks a scalar string whose real content lives in the
// storage collaborator: "@load:<path>".
const deferredLoadPrefix = "@load:"

// carrySeparator splits a per-iteration generation result from the carry
// value it threads into the next iteration: "<result>|carry:<next>".
const carrySeparator = "|carry:"

// baseSeq implements the steps shared by every sequence variant.
type baseSeq struct {
	e *Engine
}

func (s baseSeq) ConfigureInput(r *nodeRun) error {
	r.flags = s.e.effectiveFlags(r.node)
	if err := s.gateFunction(r); err != nil {
		return err
	}
	if r.flags.StartWithSupportOnly {
		// Support-only start: hold for contexts, not values.
		for _, name := range r.node.Contexts {
			if !s.e.repo.Resolved(name) {
				return errNotReady
			}
		}
		return nil
	}
	if r.flags.StartWithoutValue {
		return nil
	}
	for _, b := range r.node.Values {
		if !s.e.repo.Resolved(b.Concept) {
			return errNotReady
		}
	}
	return nil
}

// gateFunction holds a node whose instruction is bound dynamically until
// the function concept resolves, unless the node starts without it.
func (s baseSeq) gateFunction(r *nodeRun) error {
	name, ok := r.node.FunctionConcept()
	if !ok || r.flags.StartWithoutFunction {
		return nil
	}
	if !s.e.repo.Resolved(name) {
		return errNotReady
	}
	return nil
}

// instruction returns the semantic instruction text: the resolved function
// concept's rendered value when bound dynamically, else the literal token.
// A node started without its function falls back to the token itself.
func (s baseSeq) instruction(r *nodeRun) (string, error) {
	name, ok := r.node.FunctionConcept()
	if !ok || !s.e.repo.Resolved(name) {
		return r.node.Function, nil
	}
	v, err := s.e.repo.Reference(name)
	if err != nil {
		return "", err
	}
	return v.Render(), nil
}

func (s baseSeq) PerceiveValues(ctx context.Context, r *nodeRun) error {
	for _, b := range r.node.OrderedValues() {
		if !s.e.repo.Resolved(b.Concept) {
			if r.flags.StartWithoutValue || r.flags.StartWithSupportOnly {
				continue
			}
			return errNotReady
		}
		v, err := s.e.repo.Reference(b.Concept)
		if err != nil {
			return err
		}
		v, err = s.resolveDeferred(ctx, v)
		if err != nil {
			return err
		}
		r.values = append(r.values, v)
	}
	for _, name := range r.node.Contexts {
		if !s.e.repo.Resolved(name) {
			continue
		}
		v, err := s.e.repo.Reference(name)
		if err != nil {
			return err
		}
		r.contexts = append(r.contexts, v)
	}
	return nil
}

// resolveDeferred replaces a "@load:<path>" scalar with the stored content.
// Storage failures are retried per policy like any collaborator call.
func (s baseSeq) resolveDeferred(ctx context.Context, v *ref.Reference) (*ref.Reference, error) {
	sc, ok := v.Scalar()
	if !ok {
		return v, nil
	}
	str, ok := sc.(ref.String)
	if !ok || !strings.HasPrefix(string(str), deferredLoadPrefix) {
		return v, nil
	}
	path := strings.TrimPrefix(string(str), deferredLoadPrefix)
	if s.e.storage == nil {
		return nil, fmt.Errorf("deferred load %q: %w", path, ErrNoStorage)
	}
	var data []byte
	err := s.e.retry.Do(ctx, func() error {
		var readErr error
		data, readErr = s.e.storage.Read(path)
		return readErr
	})
	if err != nil {
		return nil, fmt.Errorf("deferred load %q: %w", path, err)
	}
	return ref.NewScalar(ref.String(data)), nil
}

func (s baseSeq) PerceiveCross(r *nodeRun) error {
	switch len(r.values) {
	case 0:
		return nil
	case 1:
		r.combined = r.values[0]
		return nil
	default:
		combined, err := ref.CrossProduct(r.values...)
		if err != nil {
			return err
		}
		r.combined = combined
		return nil
	}
}

func (s baseSeq) PerceiveActuator(r *nodeRun) error {
	instr, err := s.instruction(r)
	if err != nil {
		return err
	}
	r.action = &actionDescriptor{
		kind:   actionGenerate,
		prompt: buildPrompt(instr, r.combined, r.contexts),
	}
	return nil
}

func (s baseSeq) Actuate(ctx context.Context, r *nodeRun) error {
	if r.action == nil || r.action.kind != actionGenerate {
		return fmt.Errorf("no generate action prepared")
	}
	raw, err := s.generate(ctx, r.action.prompt)
	if err != nil {
		return err
	}
	r.raw = raw
	r.rawSet = true
	return nil
}

// generate calls the language collaborator with the retry policy applied.
func (s baseSeq) generate(ctx context.Context, prompt string) (string, error) {
	var raw string
	err := s.e.retry.Do(ctx, func() error {
		var genErr error
		raw, genErr = s.e.gen.Generate(ctx, prompt)
		return genErr
	})
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	return raw, nil
}

func (s baseSeq) ActuateMemory(r *nodeRun) error {
	if r.out != nil || !r.rawSet {
		return nil
	}
	r.out = wrapRaw(r.raw, r.node.Interpretation)
	return nil
}

func (s baseSeq) ReturnReference(r *nodeRun) error {
	if r.out == nil {
		return nil
	}
	return s.e.repo.SetValue(r.node.Infer, r.out, r.node.SemanticType())
}

func (s baseSeq) ConfigureOutput(r *nodeRun) (Outcome, error) {
	if r.out != nil {
		return OutcomeFinalized, nil
	}
	return OutcomeReenter, nil
}

// wrapRaw shapes a raw actuation result into the reference implied by the
// node's working interpretation: %wrap_axis (with optional %wrap_sep,
// default ",") splits the text along a declared axis; otherwise the result
// is a scalar.
func wrapRaw(raw string, interp map[string]string) *ref.Reference {
	axis := interp["wrap_axis"]
	if axis == "" {
		return ref.NewScalar(ref.String(raw))
	}
	sep := interp["wrap_sep"]
	if sep == "" {
		sep = ","
	}
	parts := strings.Split(raw, sep)
	values := make([]ref.Value, len(parts))
	for i, p := range parts {
		values[i] = ref.String(strings.TrimSpace(p))
	}
	return ref.FromValues(axis, values...)
}

// buildPrompt assembles the semantic instruction handed to the language
// collaborator. The layout is fixed so runs are reproducible given the
// same collaborator.
func buildPrompt(function string, combined *ref.Reference, contexts []*ref.Reference) string {
	var b strings.Builder
	b.WriteString("instruction: ")
	b.WriteString(function)
	if combined != nil {
		b.WriteString("\ninput: ")
		b.WriteString(combined.Render())
	}
	for _, c := range contexts {
		b.WriteString("\ncontext: ")
		b.WriteString(c.Render())
	}
	return b.String()
}

// imperativeSeq resolves a semantic instruction over the combined
// perception.
type imperativeSeq struct{ baseSeq }

// judgementSeq is imperative actuation with the verdict normalized into a
// condition value.
type judgementSeq struct{ baseSeq }

func (s judgementSeq) ActuateMemory(r *nodeRun) error {
	if r.out != nil || !r.rawSet {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(r.raw)) {
	case "yes", "true":
		r.out = ref.NewScalar(ref.Bool(true))
	case "no", "false":
		r.out = ref.NewScalar(ref.Bool(false))
	default:
		r.out = ref.NewScalar(ref.String(strings.TrimSpace(r.raw)))
	}
	return nil
}

// groupingSeq combines sibling references without iteration via the
// and_in/or_across operators. No collaborator call.
type groupingSeq struct{ baseSeq }

func (s groupingSeq) PerceiveCross(r *nodeRun) error {
	// Grouping operates on the raw operands; crossing them here would
	// pre-combine what the operator itself pairs.
	return nil
}

func (s groupingSeq) PerceiveActuator(r *nodeRun) error {
	opts, err := groupOptions(r.node.Interpretation)
	if err != nil {
		return err
	}
	switch r.node.Function {
	case "and_in":
		r.action = &actionDescriptor{kind: actionGroupAnd, group: opts}
	case "or_across":
		r.action = &actionDescriptor{kind: actionGroupOr, group: opts}
	default:
		return fmt.Errorf("unknown grouping operator %q", r.node.Function)
	}
	return nil
}

func (s groupingSeq) Actuate(ctx context.Context, r *nodeRun) error {
	var (
		out *ref.Reference
		err error
	)
	switch r.action.kind {
	case actionGroupAnd:
		out, err = quant.AndIn(r.action.group, r.values...)
	case actionGroupOr:
		out, err = quant.OrAcross(r.action.group, r.values...)
	default:
		err = fmt.Errorf("no grouping action prepared")
	}
	if err != nil {
		return err
	}
	r.out = out
	return nil
}

func groupOptions(interp map[string]string) (quant.GroupOptions, error) {
	opts := quant.GroupOptions{Template: interp["template"]}
	if axis := interp["restrict_axis"]; axis != "" {
		idx, err := strconv.Atoi(interp["restrict_index"])
		if err != nil {
			return opts, fmt.Errorf("restrict_index %q must be an integer", interp["restrict_index"])
		}
		opts.Restrict = &quant.AxisSlice{Axis: axis, Index: idx}
	}
	return opts, nil
}

// assigningSeq copies the combined perception into the concept-to-infer.
// Purely syntactic.
type assigningSeq struct{ baseSeq }

func (s assigningSeq) PerceiveActuator(r *nodeRun) error {
	r.action = &actionDescriptor{kind: actionAssign}
	return nil
}

func (s assigningSeq) Actuate(ctx context.Context, r *nodeRun) error {
	if r.combined == nil {
		return fmt.Errorf("assigning node has nothing to assign")
	}
	r.out = r.combined
	return nil
}

// timingSeq gates on every declared input being resolved, then passes the
// combined perception through. Used for explicit ordering points.
type timingSeq struct{ baseSeq }

func (s timingSeq) ConfigureInput(r *nodeRun) error {
	r.flags = s.e.effectiveFlags(r.node)
	// The gate ignores start_without_value: it exists to wait.
	for _, b := range r.node.Values {
		if !s.e.repo.Resolved(b.Concept) {
			return errNotReady
		}
	}
	for _, name := range r.node.Contexts {
		if !s.e.repo.Resolved(name) {
			return errNotReady
		}
	}
	return nil
}

func (s timingSeq) PerceiveActuator(r *nodeRun) error {
	r.action = &actionDescriptor{kind: actionGate}
	return nil
}

func (s timingSeq) Actuate(ctx context.Context, r *nodeRun) error {
	if r.combined == nil {
		return fmt.Errorf("timing node has no inputs to pass through")
	}
	r.out = r.combined
	return nil
}

// quantifyingSeq drives the loop protocol: one base element per resolution
// attempt, yielding OutcomeReenter between iterations, then combining every
// recorded element along the view axis.
type quantifyingSeq struct{ baseSeq }

func (s quantifyingSeq) ConfigureInput(r *nodeRun) error {
	r.flags = s.e.effectiveFlags(r.node)
	if err := s.gateFunction(r); err != nil {
		return err
	}
	q := r.node.Quantifier
	if q == nil {
		return fmt.Errorf("quantifying node %s has no quantifier", r.node.Index)
	}
	if !s.e.repo.Resolved(q.Base) {
		return errNotReady
	}
	if _, ok := s.e.loops[r.node.Index]; !ok {
		ls := quant.NewLoopState(q)
		// A fresh loop's in-loop value is the ground context value; a
		// carryover loop threads the previous iteration's output instead.
		if q.Carry != nil && s.e.repo.Resolved(q.Carry.Concept) {
			seed, err := s.e.repo.Reference(q.Carry.Concept)
			if err != nil {
				return err
			}
			ls.SetCarry(seed)
		}
		s.e.loops[r.node.Index] = ls
	}
	return nil
}

func (s quantifyingSeq) PerceiveActuator(r *nodeRun) error {
	r.action = &actionDescriptor{kind: actionLoop, quants: r.node.Quantifier}
	return nil
}

func (s quantifyingSeq) Actuate(ctx context.Context, r *nodeRun) error {
	q := r.action.quants
	ls := s.e.loops[r.node.Index]
	base, err := s.e.repo.Reference(q.Base)
	if err != nil {
		return err
	}

	pos, elem, err := ls.Next(base)
	if errors.Is(err, quant.ErrLoopExhausted) {
		// Every base element is recorded: combine along the view axis,
		// preserving base ordering, and let the node finalize.
		out, combineErr := ls.Combine(base)
		if combineErr != nil {
			return combineErr
		}
		r.out = out
		return nil
	}
	if err != nil {
		return err
	}

	result, err := s.actuateElement(ctx, r, elem, ls)
	if err != nil {
		return err
	}
	ls.Record(pos, result)

	if q.Infer != "" && q.Infer != r.node.Infer {
		if err := s.e.repo.SetValue(q.Infer, result, r.node.SemanticType()); err != nil {
			return err
		}
	}
	if q.Carry != nil {
		if err := s.e.repo.SetValue(q.Carry.Concept, ls.Carry(), r.node.SemanticType()); err != nil {
			return err
		}
	}
	return nil
}

// actuateElement resolves one base element. Semantic functions go through
// the language collaborator; syntactic ones pass the element through.
func (s quantifyingSeq) actuateElement(ctx context.Context, r *nodeRun, elem *ref.Reference, ls *quant.LoopState) (*ref.Reference, error) {
	q := r.action.quants

	if r.node.SemanticType() == concept.Syntactic {
		// Syntactic loop body: the element itself is the iteration result.
		ls.SetCarry(elem)
		return elem, nil
	}

	instr, err := s.instruction(r)
	if err != nil {
		return nil, err
	}
	prompt := buildElementPrompt(instr, elem, ls.Carry(), q, r.contexts)
	raw, err := s.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	// "<result>|carry:<next>" threads an explicit carry; otherwise the
	// result itself carries over.
	resultText, carryText, hasCarry := strings.Cut(raw, carrySeparator)
	result := ref.NewScalar(ref.String(strings.TrimSpace(resultText)))
	if hasCarry {
		ls.SetCarry(ref.NewScalar(ref.String(strings.TrimSpace(carryText))))
	} else {
		ls.SetCarry(result)
	}
	return result, nil
}

func (s quantifyingSeq) ActuateMemory(r *nodeRun) error {
	// Loop results are shaped during Combine; nothing to wrap here.
	return nil
}

// buildElementPrompt assembles the per-iteration instruction: the element,
// the threaded carry (with its condition token, so the collaborator knows
// when the carry applies), and any contexts.
func buildElementPrompt(function string, elem, carry *ref.Reference, q *quant.Quantifier, contexts []*ref.Reference) string {
	var b strings.Builder
	b.WriteString("instruction: ")
	b.WriteString(function)
	b.WriteString("\nelement: ")
	b.WriteString(elem.Render())
	if q.Carry != nil {
		b.WriteString("\ncarry: ")
		if carry != nil {
			b.WriteString(carry.Render())
		}
		if q.Carry.Condition != "" {
			b.WriteString("\ncarry_condition: ")
			b.WriteString(q.Carry.Condition)
		}
	}
	for _, c := range contexts {
		b.WriteString("\ncontext: ")
		b.WriteString(c.Render())
	}
	return b.String()
}
