package plan

import (
	"errors"
	"fmt"
	"strings"
)

// Load-time error codes. Load-time errors are fatal and reported before any
// execution begins.
const (
	ErrCodeSyntax          = "E_SYNTAX"
	ErrCodeFlowIndex       = "E_FLOW_INDEX"
	ErrCodeDuplicateNode   = "E_DUPLICATE_NODE"
	ErrCodeMissingParent   = "E_MISSING_PARENT"
	ErrCodeUnknownConcept  = "E_UNKNOWN_CONCEPT"
	ErrCodeUnknownSequence = "E_UNKNOWN_SEQUENCE"
	ErrCodeQuantifier      = "E_QUANTIFIER"
)

// LoadError is a positioned load-time failure.
type LoadError struct {
	File    string
	Line    int
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d: %s: %s", e.File, e.Line, e.Code, e.Message)
	}
	return fmt.Sprintf("line %d: %s: %s", e.Line, e.Code, e.Message)
}

// IsLoadError reports whether err is a LoadError.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// PlanCycleError indicates the derived concept dependency graph is cyclic.
// Detected at load time, before any execution.
type PlanCycleError struct {
	Path []FlowIndex
}

func (e *PlanCycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, idx := range e.Path {
		parts[i] = string(idx)
	}
	return fmt.Sprintf("plan cycle through nodes %s", strings.Join(parts, " -> "))
}

// IsPlanCycle reports whether err is a PlanCycleError.
func IsPlanCycle(err error) bool {
	var ce *PlanCycleError
	return errors.As(err, &ce)
}
