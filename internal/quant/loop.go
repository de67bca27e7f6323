package quant

import (
	"errors"
	"fmt"

	"github.com/calyptra/planrun/internal/ref"
)

// ErrLoopExhausted signals that every base element has been processed.
// It is a normal terminal signal, not a failure; callers match it with
// errors.Is and move to combining.
var ErrLoopExhausted = errors.New("loop exhausted")

// LoopState is the per-loop-node bookkeeping the engine owns while a
// quantifying node iterates: which base elements were already processed
// (keyed on coordinate), the per-element results, and the carry value
// threaded between iterations. It is scoped to one node of one run and
// passed explicitly into quantifier calls, never stored globally.
type LoopState struct {
	q       *Quantifier
	seen    map[int]bool
	results map[int]*ref.Reference
	carry   *ref.Reference
}

// NewLoopState creates empty bookkeeping for one quantifying node.
func NewLoopState(q *Quantifier) *LoopState {
	return &LoopState{
		q:       q,
		seen:    make(map[int]bool),
		results: make(map[int]*ref.Reference),
	}
}

// Quantifier returns the parsed operator this state belongs to.
func (s *LoopState) Quantifier() *Quantifier { return s.q }

// RestoreLoopState rebuilds bookkeeping from persisted per-element results
// and carry. Positions with a recorded result are marked processed;
// skip-padded positions are re-derived from the base on the next Next call.
func RestoreLoopState(q *Quantifier, results map[int]*ref.Reference, carry *ref.Reference) *LoopState {
	s := NewLoopState(q)
	for pos, r := range results {
		s.seen[pos] = true
		s.results[pos] = r
	}
	s.carry = carry
	return s
}

// Results returns a copy of the recorded per-element results.
func (s *LoopState) Results() map[int]*ref.Reference {
	out := make(map[int]*ref.Reference, len(s.results))
	for pos, r := range s.results {
		out[pos] = r
	}
	return out
}

// Next determines the next unprocessed base element, in the base axis's
// declared coordinate order. It returns the element's position along the
// view axis together with the element itself (the base sliced at that
// position). Positions with no populated cells (irregular bases) are
// skipped and marked seen. Returns ErrLoopExhausted when none remain.
func (s *LoopState) Next(base *ref.Reference) (int, *ref.Reference, error) {
	if !base.HasAxis(s.q.ViewAxis) {
		return 0, nil, &ref.AxisMismatchError{Axis: s.q.ViewAxis, Message: "view axis not present on loop base"}
	}
	// A declared size-0 axis is an empty collection: zero elements remain,
	// which is ordinary exhaustion, not a mismatch.
	size := base.Size(s.q.ViewAxis)
	for i := 0; i < size; i++ {
		if s.seen[i] {
			continue
		}
		elem, err := base.Slice(s.q.ViewAxis, i)
		if err != nil {
			return 0, nil, fmt.Errorf("slice loop base: %w", err)
		}
		if elem.Len() == 0 {
			// Skip-padding: absent positions are not iterated.
			s.seen[i] = true
			continue
		}
		return i, elem, nil
	}
	return 0, nil, ErrLoopExhausted
}

// Record stores the per-element result and marks the element processed.
func (s *LoopState) Record(pos int, result *ref.Reference) {
	s.seen[pos] = true
	s.results[pos] = result
}

// Recorded returns how many element results have been recorded.
func (s *LoopState) Recorded() int { return len(s.results) }

// Carry returns the in-loop value threaded from the previous iteration
// (nil on a fresh loop, where the ground context value applies instead).
func (s *LoopState) Carry() *ref.Reference { return s.carry }

// SetCarry threads a value into the next iteration.
func (s *LoopState) SetCarry(r *ref.Reference) { s.carry = r }

// Combine folds every recorded element into a single reference along the
// view axis, preserving the base's coordinate order. Scalar results map
// directly onto the output axis; shaped results are flattened into Tuples
// first. Positions that were skipped (irregular base) stay unset.
func (s *LoopState) Combine(base *ref.Reference) (*ref.Reference, error) {
	size := base.Size(s.q.ViewAxis)
	b := ref.NewBuilder([]string{s.q.ViewAxis}, size)
	for i := 0; i < size; i++ {
		r, ok := s.results[i]
		if !ok {
			continue
		}
		v, err := collapse(r)
		if err != nil {
			return nil, fmt.Errorf("combine element %d: %w", i, err)
		}
		b.Set(v, i)
	}
	return b.Build()
}

// collapse reduces a per-element result reference to one cell value.
func collapse(r *ref.Reference) (ref.Value, error) {
	if v, ok := r.Scalar(); ok {
		return v, nil
	}
	cur := r
	for _, axis := range r.Axes() {
		flat, err := cur.Flatten(axis)
		if err != nil {
			return nil, err
		}
		cur = flat
	}
	v, ok := cur.Scalar()
	if !ok {
		return nil, fmt.Errorf("element result has no populated cells")
	}
	return v, nil
}
