package ref

import (
	"errors"
	"fmt"
)

// AxisMismatchError indicates two references disagree about a shared axis:
// either conflicting sizes on the same axis name, or axis sets that partially
// overlap where an operation requires identical sets.
type AxisMismatchError struct {
	Axis    string
	Message string
}

func (e *AxisMismatchError) Error() string {
	if e.Axis != "" {
		return fmt.Sprintf("axis mismatch on %q: %s", e.Axis, e.Message)
	}
	return fmt.Sprintf("axis mismatch: %s", e.Message)
}

// OutOfBoundsError indicates a coordinate outside a reference's declared
// shape. Absent-but-in-bounds coordinates are NOT errors (skip-padding).
type OutOfBoundsError struct {
	Axis  string
	Index int
	Size  int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("coordinate %d out of bounds on axis %q (size %d)", e.Index, e.Axis, e.Size)
}

// IsAxisMismatch reports whether err is an AxisMismatchError.
// Uses errors.As to handle wrapped errors.
func IsAxisMismatch(err error) bool {
	var am *AxisMismatchError
	return errors.As(err, &am)
}

// IsOutOfBounds reports whether err is an OutOfBoundsError.
func IsOutOfBounds(err error) bool {
	var ob *OutOfBoundsError
	return errors.As(err, &ob)
}
