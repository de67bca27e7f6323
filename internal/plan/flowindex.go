package plan

import (
	"fmt"
	"strconv"
	"strings"
)

// FlowIndex is the dot-delimited hierarchical address of an inference node:
// "1", "1.1", "1.1.2". A node's index is a strict prefix of each child's
// index; siblings increment the final segment.
type FlowIndex string

// ParseFlowIndex validates well-formedness: one or more dot-separated
// positive integers with no leading zeros.
func ParseFlowIndex(s string) (FlowIndex, error) {
	if s == "" {
		return "", fmt.Errorf("empty flow index")
	}
	for _, seg := range strings.Split(s, ".") {
		if seg == "" {
			return "", fmt.Errorf("malformed flow index %q: empty segment", s)
		}
		n, err := strconv.Atoi(seg)
		if err != nil || n < 1 {
			return "", fmt.Errorf("malformed flow index %q: segment %q is not a positive integer", s, seg)
		}
		if len(seg) > 1 && seg[0] == '0' {
			return "", fmt.Errorf("malformed flow index %q: leading zero in %q", s, seg)
		}
	}
	return FlowIndex(s), nil
}

// Segments returns the numeric path segments.
func (f FlowIndex) Segments() []int {
	parts := strings.Split(string(f), ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		out[i], _ = strconv.Atoi(p)
	}
	return out
}

// Depth returns the nesting depth (root nodes have depth 1).
func (f FlowIndex) Depth() int {
	return strings.Count(string(f), ".") + 1
}

// Parent returns the enclosing index. ok is false for root indices.
func (f FlowIndex) Parent() (FlowIndex, bool) {
	i := strings.LastIndexByte(string(f), '.')
	if i < 0 {
		return "", false
	}
	return f[:i], true
}

// IsChildOf reports whether f is a direct child of p (strict dot-prefix
// extension by exactly one segment).
func (f FlowIndex) IsChildOf(p FlowIndex) bool {
	parent, ok := f.Parent()
	return ok && parent == p
}

// IsDescendantOf reports whether p is a strict dot-prefix of f.
func (f FlowIndex) IsDescendantOf(p FlowIndex) bool {
	return len(f) > len(p) && strings.HasPrefix(string(f), string(p)+".")
}

// Compare orders indices segment-wise numerically, parents before children:
// 1 < 1.1 < 1.2 < 1.10 < 2.
func (f FlowIndex) Compare(other FlowIndex) int {
	a, b := f.Segments(), other.Segments()
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
