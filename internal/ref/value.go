package ref

import (
	"fmt"
	"strings"
)

// Value is a sealed interface for the scalar payloads a Reference cell can
// hold. Only String, Int, Bool, and Tuple implement it.
// NO floats - floats break deterministic serialization and hashing.
type Value interface {
	value() // Sealed - only these types implement it
}

// String represents a text value in a cell.
type String string

func (String) value() {}

// Int represents an integer value. Always int64, never float64.
type Int int64

func (Int) value() {}

// Bool represents a boolean value.
type Bool bool

func (Bool) value() {}

// Tuple is an ordered pairing of values, produced by cross products and
// zip-style grouping. Tuples may nest only through explicit construction;
// cross products concatenate rather than nest (see CrossProduct).
type Tuple []Value

func (Tuple) value() {}

// Elements returns the tuple expansion of v: a Tuple yields its elements,
// any other value yields itself as a 1-tuple. Used by CrossProduct so that
// chained crossings stay flat.
func Elements(v Value) []Value {
	if t, ok := v.(Tuple); ok {
		return []Value(t)
	}
	return []Value{v}
}

// Equal reports structural equality of two values.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Tuple:
		bv, ok := b.(Tuple)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case nil:
		return b == nil
	}
	return false
}

// Text renders a value for prompts and diagnostics. Tuples render as
// space-joined elements so a crossed pair reads naturally in a prompt.
func Text(v Value) string {
	switch val := v.(type) {
	case String:
		return string(val)
	case Int:
		return fmt.Sprintf("%d", int64(val))
	case Bool:
		if val {
			return "true"
		}
		return "false"
	case Tuple:
		parts := make([]string, len(val))
		for i, e := range val {
			parts[i] = Text(e)
		}
		return strings.Join(parts, " ")
	}
	return ""
}
