package concept

// Kind classifies a concept slot.
type Kind int

const (
	KindValue Kind = iota
	KindFunction
	KindContext
)

func (k Kind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindFunction:
		return "function"
	case KindContext:
		return "context"
	}
	return "unknown"
}

// SemanticType distinguishes concepts the engine can resolve mechanically
// (syntactic) from concepts whose resolution requires the opaque
// language-capability collaborator (semantic).
type SemanticType int

const (
	Syntactic SemanticType = iota
	Semantic
)

func (s SemanticType) String() string {
	if s == Semantic {
		return "semantic"
	}
	return "syntactic"
}

// Concept is a named, typed slot in the repository. The name may be
// parametrized ("{x}"). Ground concepts are supplied as input and produced
// by no inference; output concepts are terminal, consumed by nothing.
type Concept struct {
	Name     string
	Kind     Kind
	Semantic SemanticType
	IsGround bool
	IsOutput bool
}
