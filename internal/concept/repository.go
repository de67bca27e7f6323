package concept

import (
	"fmt"
	"slices"

	"github.com/calyptra/planrun/internal/ref"
)

// entry pairs a registered concept with its mutable run state.
type entry struct {
	concept  Concept
	ref      *ref.Reference
	resolved bool
}

// Repository is the registry of named concepts for one run. It is owned by
// the run's single control thread; no locking, no intra-run sharing.
//
// Concepts are created at plan-load time with a nil reference and mutated
// exactly once per execution cycle by the engine when their producing
// inference completes (re-entrant loop nodes may write across multiple
// cycles). Concepts are never deleted during a run.
type Repository struct {
	entries map[string]*entry
	names   []string // registration order, for deterministic iteration
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{entries: make(map[string]*entry)}
}

// Register adds a concept. Registering the same name twice is an error.
func (r *Repository) Register(c Concept) error {
	if _, exists := r.entries[c.Name]; exists {
		return fmt.Errorf("concept %q already registered", c.Name)
	}
	r.entries[c.Name] = &entry{concept: c}
	r.names = append(r.names, c.Name)
	return nil
}

// Get returns the registered concept.
func (r *Repository) Get(name string) (Concept, error) {
	e, ok := r.entries[name]
	if !ok {
		return Concept{}, &UnknownConceptError{Name: name}
	}
	return e.concept, nil
}

// Has reports whether name is registered.
func (r *Repository) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Names returns all registered names sorted lexically.
func (r *Repository) Names() []string {
	out := append([]string(nil), r.names...)
	slices.Sort(out)
	return out
}

// SetValue stores a reference for the concept and marks it resolved for the
// current cycle. The producer's semantic type must not conflict with the
// concept's declared type: an opaque (semantic) producer cannot resolve a
// concept declared syntactic, since syntactic concepts must stay
// mechanically derivable.
func (r *Repository) SetValue(name string, reference *ref.Reference, producer SemanticType) error {
	e, ok := r.entries[name]
	if !ok {
		return &UnknownConceptError{Name: name}
	}
	if producer == Semantic && e.concept.Semantic == Syntactic {
		return &TypeMismatchError{Name: name, Declared: e.concept.Semantic, Producer: producer}
	}
	e.ref = reference
	e.resolved = true
	return nil
}

// Reference returns the concept's current reference (nil until resolved).
func (r *Repository) Reference(name string) (*ref.Reference, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, &UnknownConceptError{Name: name}
	}
	return e.ref, nil
}

// Resolved reports whether the concept has a value this run.
// The engine polls this between cycles.
func (r *Repository) Resolved(name string) bool {
	e, ok := r.entries[name]
	return ok && e.resolved
}

// SignatureOf computes the concept's current signature: name, semantic type,
// and the axis-name set of its resolved reference (empty set if unresolved).
func (r *Repository) SignatureOf(name string) (Signature, error) {
	e, ok := r.entries[name]
	if !ok {
		return Signature{}, &UnknownConceptError{Name: name}
	}
	var axes []string
	if e.ref != nil {
		axes = e.ref.Axes()
	}
	return NewSignature(name, e.concept.Semantic, axes), nil
}

// Reset clears every concept's reference and resolved flag. Ground-concept
// values are preserved. Used when forking a run into a fresh cycle.
func (r *Repository) Reset() {
	for _, e := range r.entries {
		if e.concept.IsGround {
			continue
		}
		e.ref = nil
		e.resolved = false
	}
}

// Restore writes a reference without the producer type check and without
// regard to current resolution state. Reserved for the checkpoint
// reconciliation layer, which has already applied its own compatibility
// policy.
func (r *Repository) Restore(name string, reference *ref.Reference) error {
	e, ok := r.entries[name]
	if !ok {
		return &UnknownConceptError{Name: name}
	}
	e.ref = reference
	e.resolved = reference != nil
	return nil
}
