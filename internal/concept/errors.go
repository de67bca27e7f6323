package concept

import (
	"errors"
	"fmt"
)

// UnknownConceptError indicates a lookup or write against a name that was
// never registered.
type UnknownConceptError struct {
	Name string
}

func (e *UnknownConceptError) Error() string {
	return fmt.Sprintf("unknown concept %q", e.Name)
}

// TypeMismatchError indicates an incoming reference whose producer's
// semantic type conflicts with the concept's declared semantic type.
type TypeMismatchError struct {
	Name     string
	Declared SemanticType
	Producer SemanticType
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch on %q: %s producer cannot resolve %s concept",
		e.Name, e.Producer, e.Declared)
}

// IsUnknownConcept reports whether err is an UnknownConceptError.
func IsUnknownConcept(err error) bool {
	var ue *UnknownConceptError
	return errors.As(err, &ue)
}

// IsTypeMismatch reports whether err is a TypeMismatchError.
func IsTypeMismatch(err error) bool {
	var te *TypeMismatchError
	return errors.As(err, &te)
}
