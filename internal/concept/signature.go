package concept

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/calyptra/planrun/internal/ref"
)

// Domain prefix for signature hashing. Version suffix enables future
// algorithm migration without colliding with old hashes.
const domainSignature = "planrun/signature/v1"

// Signature identifies a concept for cross-run compatibility checks:
// name + semantic type + the axis-name set of its current reference.
// Signatures are value types compared structurally, never by identity,
// so repositories from different runs can be compared safely.
type Signature struct {
	Name     string
	Semantic SemanticType
	Axes     []string // sorted
}

// NewSignature builds a signature with a sorted copy of the axis set.
func NewSignature(name string, semantic SemanticType, axes []string) Signature {
	sorted := append([]string(nil), axes...)
	slices.Sort(sorted)
	return Signature{Name: name, Semantic: semantic, Axes: sorted}
}

// Equal reports structural equality.
func (s Signature) Equal(other Signature) bool {
	return s.Name == other.Name &&
		s.Semantic == other.Semantic &&
		slices.Equal(s.Axes, other.Axes)
}

// Hash computes a stable content hash of the signature.
// Format: SHA256(domain + 0x00 + canonical JSON). The null separator
// prevents domain/data boundary ambiguity.
func (s Signature) Hash() (string, error) {
	obj := map[string]any{
		"name":     s.Name,
		"semantic": s.Semantic.String(),
		"axes":     s.Axes,
	}
	data, err := ref.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal signature: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(domainSignature))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}
