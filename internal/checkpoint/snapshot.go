package checkpoint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"github.com/calyptra/planrun/internal/concept"
	"github.com/calyptra/planrun/internal/engine"
	"github.com/calyptra/planrun/internal/plan"
	"github.com/calyptra/planrun/internal/ref"
)

// ConceptState is one concept's saved run state: its structural signature,
// whether it was resolved, and its reference (nil when unresolved).
type ConceptState struct {
	Signature concept.Signature
	Resolved  bool
	Reference *ref.Reference
}

// Snapshot is the full run state persisted at a suspension point: the
// concept repository's contents, the completed flow indices, the
// breakpoint set, and any mid-loop progress, all at a given cycle.
//
// Snapshots serialize to canonical JSON, so equal states produce
// byte-identical blobs and repeated saves are idempotent.
type Snapshot struct {
	Cycle       int
	Concepts    map[string]ConceptState
	Completed   []plan.FlowIndex
	Breakpoints []plan.FlowIndex
	Loops       map[plan.FlowIndex]engine.LoopSnapshot
}

// Capture builds a snapshot of the repository plus orchestrator bookkeeping.
// Completed indices and breakpoints are stored sorted.
func Capture(repo *concept.Repository, cycle int, completed, breakpoints []plan.FlowIndex, loops map[plan.FlowIndex]engine.LoopSnapshot) (*Snapshot, error) {
	snap := &Snapshot{
		Cycle:       cycle,
		Concepts:    make(map[string]ConceptState),
		Completed:   sortedIndices(completed),
		Breakpoints: sortedIndices(breakpoints),
		Loops:       loops,
	}
	if snap.Loops == nil {
		snap.Loops = map[plan.FlowIndex]engine.LoopSnapshot{}
	}
	for _, name := range repo.Names() {
		sig, err := repo.SignatureOf(name)
		if err != nil {
			return nil, fmt.Errorf("capture %q: %w", name, err)
		}
		state := ConceptState{Signature: sig, Resolved: repo.Resolved(name)}
		if state.Resolved {
			r, err := repo.Reference(name)
			if err != nil {
				return nil, fmt.Errorf("capture %q: %w", name, err)
			}
			state.Reference = r
		}
		snap.Concepts[name] = state
	}
	return snap, nil
}

// Restore writes every saved concept state back into a repository with the
// same structure. Resume path: no signature policy applies, the target is
// the run's own plan.
func (s *Snapshot) Restore(repo *concept.Repository) error {
	for _, name := range sortedNames(s.Concepts) {
		state := s.Concepts[name]
		if err := repo.Restore(name, state.Reference); err != nil {
			return fmt.Errorf("restore %q: %w", name, err)
		}
	}
	return nil
}

func sortedIndices(in []plan.FlowIndex) []plan.FlowIndex {
	out := append([]plan.FlowIndex(nil), in...)
	slices.SortFunc(out, func(a, b plan.FlowIndex) int { return a.Compare(b) })
	return out
}

func sortedNames(m map[string]ConceptState) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// MarshalState encodes the snapshot as a canonical JSON state blob.
func (s *Snapshot) MarshalState() ([]byte, error) {
	concepts := make(map[string]any, len(s.Concepts))
	for name, state := range s.Concepts {
		obj := map[string]any{
			"semantic": state.Signature.Semantic.String(),
			"axes":     state.Signature.Axes,
			"resolved": state.Resolved,
		}
		if state.Reference != nil {
			enc, err := encodeReference(state.Reference)
			if err != nil {
				return nil, fmt.Errorf("marshal snapshot %q: %w", name, err)
			}
			obj["reference"] = enc
		}
		concepts[name] = obj
	}

	loops := make(map[string]any, len(s.Loops))
	for idx, loop := range s.Loops {
		results := make(map[string]any, len(loop.Results))
		for pos, r := range loop.Results {
			enc, err := encodeReference(r)
			if err != nil {
				return nil, fmt.Errorf("marshal loop %s result %d: %w", idx, pos, err)
			}
			results[strconv.Itoa(pos)] = enc
		}
		obj := map[string]any{"results": results}
		if loop.Carry != nil {
			enc, err := encodeReference(loop.Carry)
			if err != nil {
				return nil, fmt.Errorf("marshal loop %s carry: %w", idx, err)
			}
			obj["carry"] = enc
		}
		loops[string(idx)] = obj
	}

	envelope := map[string]any{
		"cycle":       s.Cycle,
		"concepts":    concepts,
		"completed":   indexStrings(s.Completed),
		"breakpoints": indexStrings(s.Breakpoints),
		"loops":       loops,
	}
	return ref.MarshalCanonical(envelope)
}

func indexStrings(in []plan.FlowIndex) []string {
	out := make([]string, len(in))
	for i, idx := range in {
		out[i] = string(idx)
	}
	return out
}

// encodeReference flattens a reference into canonical-JSON-safe maps.
// Scalars omit axes/shape; shaped references carry their sparse cells
// keyed by coordinate.
func encodeReference(r *ref.Reference) (map[string]any, error) {
	if v, ok := r.Scalar(); ok {
		enc, err := encodeValue(v)
		if err != nil {
			return nil, err
		}
		return map[string]any{"kind": "scalar", "value": enc}, nil
	}

	cells := make(map[string]any)
	for _, c := range r.SetCoords() {
		v, ok, err := r.At(c...)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		enc, err := encodeValue(v)
		if err != nil {
			return nil, err
		}
		cells[c.Key()] = enc
	}
	return map[string]any{
		"kind":  "shaped",
		"axes":  r.Axes(),
		"shape": r.Shape(),
		"cells": cells,
	}, nil
}

// encodeValue tags a sealed value so decoding can reconstruct its kind.
func encodeValue(v ref.Value) (map[string]any, error) {
	switch val := v.(type) {
	case ref.String:
		return map[string]any{"type": "string", "value": string(val)}, nil
	case ref.Int:
		return map[string]any{"type": "int", "value": int64(val)}, nil
	case ref.Bool:
		return map[string]any{"type": "bool", "value": bool(val)}, nil
	case ref.Tuple:
		elems := make([]any, len(val))
		for i, e := range val {
			enc, err := encodeValue(e)
			if err != nil {
				return nil, err
			}
			elems[i] = enc
		}
		return map[string]any{"type": "tuple", "value": elems}, nil
	}
	return nil, fmt.Errorf("unsupported value kind %T", v)
}

// stateBlob mirrors the JSON envelope for decoding.
type stateBlob struct {
	Cycle       int                    `json:"cycle"`
	Concepts    map[string]conceptBlob `json:"concepts"`
	Completed   []string               `json:"completed"`
	Breakpoints []string               `json:"breakpoints"`
	Loops       map[string]loopBlob    `json:"loops"`
}

type loopBlob struct {
	Results map[string]json.RawMessage `json:"results"`
	Carry   json.RawMessage            `json:"carry"`
}

type conceptBlob struct {
	Semantic  string          `json:"semantic"`
	Axes      []string        `json:"axes"`
	Resolved  bool            `json:"resolved"`
	Reference json.RawMessage `json:"reference"`
}

type referenceBlob struct {
	Kind  string                     `json:"kind"`
	Value json.RawMessage            `json:"value"`
	Axes  []string                   `json:"axes"`
	Shape map[string]int             `json:"shape"`
	Cells map[string]json.RawMessage `json:"cells"`
}

type valueBlob struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// UnmarshalState decodes a state blob produced by MarshalState.
func UnmarshalState(data []byte) (*Snapshot, error) {
	var blob stateBlob
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&blob); err != nil {
		return nil, fmt.Errorf("unmarshal state blob: %w", err)
	}

	snap := &Snapshot{
		Cycle:       blob.Cycle,
		Concepts:    make(map[string]ConceptState, len(blob.Concepts)),
		Completed:   parseIndices(blob.Completed),
		Breakpoints: parseIndices(blob.Breakpoints),
		Loops:       make(map[plan.FlowIndex]engine.LoopSnapshot, len(blob.Loops)),
	}
	for idxStr, lb := range blob.Loops {
		results := make(map[int]*ref.Reference, len(lb.Results))
		for posStr, raw := range lb.Results {
			pos, err := strconv.Atoi(posStr)
			if err != nil {
				return nil, fmt.Errorf("unmarshal loop %s: bad position %q", idxStr, posStr)
			}
			r, err := decodeReference(raw)
			if err != nil {
				return nil, fmt.Errorf("unmarshal loop %s result %d: %w", idxStr, pos, err)
			}
			results[pos] = r
		}
		loop := engine.LoopSnapshot{Results: results}
		if len(lb.Carry) > 0 {
			carry, err := decodeReference(lb.Carry)
			if err != nil {
				return nil, fmt.Errorf("unmarshal loop %s carry: %w", idxStr, err)
			}
			loop.Carry = carry
		}
		snap.Loops[plan.FlowIndex(idxStr)] = loop
	}
	for name, cb := range blob.Concepts {
		sem := concept.Syntactic
		if cb.Semantic == "semantic" {
			sem = concept.Semantic
		}
		state := ConceptState{
			Signature: concept.NewSignature(name, sem, cb.Axes),
			Resolved:  cb.Resolved,
		}
		if len(cb.Reference) > 0 {
			r, err := decodeReference(cb.Reference)
			if err != nil {
				return nil, fmt.Errorf("unmarshal %q: %w", name, err)
			}
			state.Reference = r
		}
		snap.Concepts[name] = state
	}
	return snap, nil
}

func parseIndices(in []string) []plan.FlowIndex {
	out := make([]plan.FlowIndex, len(in))
	for i, s := range in {
		out[i] = plan.FlowIndex(s)
	}
	return out
}

func decodeReference(data json.RawMessage) (*ref.Reference, error) {
	var blob referenceBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("decode reference: %w", err)
	}
	switch blob.Kind {
	case "scalar":
		v, err := decodeValue(blob.Value)
		if err != nil {
			return nil, err
		}
		return ref.NewScalar(v), nil
	case "shaped":
		sizes := make([]int, len(blob.Axes))
		for i, axis := range blob.Axes {
			sizes[i] = blob.Shape[axis]
		}
		b := ref.NewBuilder(blob.Axes, sizes...)
		for key, raw := range blob.Cells {
			coord, err := ref.ParseCoord(key)
			if err != nil {
				return nil, err
			}
			v, err := decodeValue(raw)
			if err != nil {
				return nil, err
			}
			b.Set(v, coord...)
		}
		return b.Build()
	default:
		return nil, fmt.Errorf("unknown reference kind %q", blob.Kind)
	}
}

func decodeValue(data json.RawMessage) (ref.Value, error) {
	var blob valueBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	switch blob.Type {
	case "string":
		var s string
		if err := json.Unmarshal(blob.Value, &s); err != nil {
			return nil, err
		}
		return ref.String(s), nil
	case "int":
		var n json.Number
		if err := json.Unmarshal(blob.Value, &n); err != nil {
			return nil, err
		}
		i, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("decode int %q: %w", n, err)
		}
		return ref.Int(i), nil
	case "bool":
		var b bool
		if err := json.Unmarshal(blob.Value, &b); err != nil {
			return nil, err
		}
		return ref.Bool(b), nil
	case "tuple":
		var elems []json.RawMessage
		if err := json.Unmarshal(blob.Value, &elems); err != nil {
			return nil, err
		}
		t := make(ref.Tuple, len(elems))
		for i, raw := range elems {
			v, err := decodeValue(raw)
			if err != nil {
				return nil, err
			}
			t[i] = v
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown value type %q", blob.Type)
	}
}
