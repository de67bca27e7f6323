// Package plan implements the plan graph: hierarchical inference nodes
// addressed by dotted flow indices, the line-oriented wire format the
// engine consumes, and load-time validation (flow-index invariants, concept
// declarations, dependency acyclicity).
//
// Dependency order is derived from the value/function/context concept
// graph, not from index nesting: children generally resolve before parents
// because a parent's value concept typically depends on its children's
// outputs, but the topological order follows the data, not the numbering.
package plan
