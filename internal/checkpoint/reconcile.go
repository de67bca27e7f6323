package checkpoint

import (
	"fmt"

	"github.com/calyptra/planrun/internal/concept"
)

// Mode selects the reconciliation policy for loading a snapshot into a
// possibly restructured target repository.
type Mode int

const (
	// FillGaps transplants only into unresolved target concepts. Resolved
	// target values are never overwritten.
	FillGaps Mode = iota
	// Patch transplants only when the saved signature agrees with the
	// target concept's signature; disagreements are discarded rather than
	// risk type corruption.
	Patch
	// Overwrite transplants every saved value whose name exists in the
	// target, ignoring signature differences. Caller accepts the risk.
	Overwrite
)

var modeNames = map[Mode]string{
	FillGaps:  "fill_gaps",
	Patch:     "patch",
	Overwrite: "overwrite",
}

func (m Mode) String() string {
	if n, ok := modeNames[m]; ok {
		return n
	}
	return "unknown"
}

// ParseMode maps a mode token ("fill_gaps", "patch", "overwrite") to its
// variant.
func ParseMode(tok string) (Mode, error) {
	for m, n := range modeNames {
		if n == tok {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown reconciliation mode %q", tok)
}

// Report summarizes one reconciliation: which concepts received a value,
// which kept their existing value, and which saved values were discarded
// (signature disagreement, or no such concept in the target).
type Report struct {
	Applied   []string
	Kept      []string
	Discarded []string
}

// Reconcile populates the target repository from the snapshot under the
// given mode. Concepts are processed in sorted name order so reports are
// deterministic. Unresolved saved concepts never touch the target.
func (s *Snapshot) Reconcile(repo *concept.Repository, mode Mode) (*Report, error) {
	report := &Report{Applied: []string{}, Kept: []string{}, Discarded: []string{}}

	for _, name := range sortedNames(s.Concepts) {
		state := s.Concepts[name]
		if !state.Resolved || state.Reference == nil {
			continue
		}
		if !repo.Has(name) {
			report.Discarded = append(report.Discarded, name)
			continue
		}

		switch mode {
		case FillGaps:
			if repo.Resolved(name) {
				report.Kept = append(report.Kept, name)
				continue
			}
		case Patch:
			ok, err := signaturesAgree(repo, name, state)
			if err != nil {
				return nil, fmt.Errorf("reconcile %q: %w", name, err)
			}
			if !ok {
				report.Discarded = append(report.Discarded, name)
				continue
			}
		case Overwrite:
			// Unconditional.
		default:
			return nil, fmt.Errorf("unknown reconciliation mode %d", mode)
		}

		if err := repo.Restore(name, state.Reference); err != nil {
			return nil, fmt.Errorf("reconcile %q: %w", name, err)
		}
		report.Applied = append(report.Applied, name)
	}
	return report, nil
}

// signaturesAgree applies the patch-mode compatibility check. The semantic
// types must match; when the target already holds a reference, its axis
// set must match the saved one as well. An unresolved target has no axis
// set to disagree with.
func signaturesAgree(repo *concept.Repository, name string, state ConceptState) (bool, error) {
	target, err := repo.SignatureOf(name)
	if err != nil {
		return false, err
	}
	if target.Semantic != state.Signature.Semantic {
		return false, nil
	}
	if !repo.Resolved(name) {
		return true, nil
	}
	return target.Equal(state.Signature), nil
}
