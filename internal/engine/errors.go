package engine

import (
	"errors"
	"fmt"

	"github.com/calyptra/planrun/internal/concept"
	"github.com/calyptra/planrun/internal/plan"
	"github.com/calyptra/planrun/internal/ref"
)

// ErrorCode categorizes node failures for the orchestrator's halt report.
type ErrorCode string

const (
	ErrCodeUnknownConcept ErrorCode = "UNKNOWN_CONCEPT"
	ErrCodeTypeMismatch   ErrorCode = "TYPE_MISMATCH"
	ErrCodeAxisMismatch   ErrorCode = "AXIS_MISMATCH"
	ErrCodeOutOfBounds    ErrorCode = "OUT_OF_BOUNDS"
	ErrCodeGeneration     ErrorCode = "GENERATION"
	ErrCodeStorage        ErrorCode = "STORAGE"
	ErrCodeInternal       ErrorCode = "INTERNAL"
)

// NodeError is a failure scoped to one node: it aborts the current node
// only and reports the failing flow index, step kind, and error kind.
// Already-finalized concepts are never corrupted by a node failure.
type NodeError struct {
	Index plan.FlowIndex
	Step  Step
	Code  ErrorCode
	Err   error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s failed at %s [%s]: %v", e.Index, e.Step, e.Code, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// classify maps an underlying error to its report code.
func classify(err error) ErrorCode {
	switch {
	case concept.IsUnknownConcept(err):
		return ErrCodeUnknownConcept
	case concept.IsTypeMismatch(err):
		return ErrCodeTypeMismatch
	case ref.IsAxisMismatch(err):
		return ErrCodeAxisMismatch
	case ref.IsOutOfBounds(err):
		return ErrCodeOutOfBounds
	case IsGenerationError(err):
		return ErrCodeGeneration
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoStorage):
		return ErrCodeStorage
	default:
		return ErrCodeInternal
	}
}

// errNotReady is an internal signal: the node's inputs are not resolved
// yet, so the orchestrator should re-enter it on a later cycle. It never
// escapes ExecuteNode.
var errNotReady = errors.New("inputs not ready")
