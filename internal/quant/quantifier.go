package quant

import (
	"fmt"
	"strconv"
	"strings"
)

// Carryover declares an in-loop concept threaded from one iteration to the
// next, with an optional condition token (`<*condition>`) the plan author
// uses to mark when the carry applies.
type Carryover struct {
	Concept   string
	Condition string
}

// Quantifier is the parse result of a loop operator expression: which
// collection is iterated, along which axis, what each iteration produces,
// an optional numeric loop index disambiguating nested loops, and an
// optional carryover declaration.
type Quantifier struct {
	Base      string // loop-base concept, e.g. "[pairs]"
	ViewAxis  string
	Infer     string // per-iteration output concept; may be empty (node default)
	LoopIndex int    // `@(n)`; 0 when absent
	Carry     *Carryover
}

// Parse reads a quantifier expression. Grammar, parts in order:
//
//	each <base>/<axis> [-> <out>] [@(n)] [carry <concept> [<*cond>]]
//
// where <base>, <out>, and the carry concept are delimited concept names
// ({x}, [xs], <c>). Examples:
//
//	each [pairs]/pair
//	each [pairs]/pair @(1) carry {carry} <*nonzero>
//	each [lines]/line -> {summary}
func Parse(expr string) (*Quantifier, error) {
	fields := strings.Fields(expr)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty quantifier expression")
	}
	if fields[0] != "each" {
		return nil, fmt.Errorf("quantifier must start with %q, got %q", "each", fields[0])
	}
	if len(fields) < 2 {
		return nil, fmt.Errorf("quantifier missing loop base")
	}

	base, axis, ok := strings.Cut(fields[1], "/")
	if !ok || axis == "" {
		return nil, fmt.Errorf("loop base %q must carry a view axis (base/axis)", fields[1])
	}
	if !isDelimited(base) {
		return nil, fmt.Errorf("loop base %q is not a delimited concept name", base)
	}

	q := &Quantifier{Base: base, ViewAxis: axis}

	rest := fields[2:]
	for len(rest) > 0 {
		switch {
		case rest[0] == "->":
			if len(rest) < 2 || !isDelimited(rest[1]) {
				return nil, fmt.Errorf("-> must be followed by a delimited concept name")
			}
			q.Infer = rest[1]
			rest = rest[2:]
		case strings.HasPrefix(rest[0], "@(") && strings.HasSuffix(rest[0], ")"):
			n, err := strconv.Atoi(rest[0][2 : len(rest[0])-1])
			if err != nil || n < 1 {
				return nil, fmt.Errorf("loop index %q must be a positive integer", rest[0])
			}
			q.LoopIndex = n
			rest = rest[1:]
		case rest[0] == "carry":
			if len(rest) < 2 || !isDelimited(rest[1]) {
				return nil, fmt.Errorf("carry must be followed by a delimited concept name")
			}
			c := &Carryover{Concept: rest[1]}
			rest = rest[2:]
			if len(rest) > 0 && strings.HasPrefix(rest[0], "<*") && strings.HasSuffix(rest[0], ">") {
				c.Condition = rest[0][2 : len(rest[0])-1]
				rest = rest[1:]
			}
			q.Carry = c
		default:
			return nil, fmt.Errorf("unexpected quantifier token %q", rest[0])
		}
	}
	return q, nil
}

// isDelimited reports whether s is wrapped in one of the concept delimiter
// pairs: {} object, [] collection, <> condition.
func isDelimited(s string) bool {
	if len(s) < 3 {
		return false
	}
	switch {
	case s[0] == '{' && s[len(s)-1] == '}':
		return true
	case s[0] == '[' && s[len(s)-1] == ']':
		return true
	case s[0] == '<' && s[len(s)-1] == '>':
		return true
	}
	return false
}
