package ref

// CrossProduct materializes the Cartesian pairing of the operands.
//
// Axis union ordering is first-seen order across operands, left to right:
// the result's axes are operand 1's axes, then operand 2's axes not already
// present, and so on. This tie-break is load-bearing - it fixes the output
// axis ordering and therefore all downstream coordinate addressing.
//
// The cell at each combined coordinate is the Tuple concatenation of the
// operand values at that coordinate's projection onto each operand: a Tuple
// operand contributes its elements (chained crossings stay flat), any other
// value contributes itself. A combined cell exists only where every operand
// has a populated cell (skip-padding over irregular inputs).
//
// A shared axis name with conflicting sizes is an AxisMismatchError; use
// CrossProductPadded to combine anyway over the larger size.
func CrossProduct(refs ...*Reference) (*Reference, error) {
	return crossProduct(false, refs)
}

// CrossProductPadded is CrossProduct with skip-padding explicitly requested:
// a shared axis takes the largest declared size and positions missing from a
// smaller operand are simply skipped.
func CrossProductPadded(refs ...*Reference) (*Reference, error) {
	return crossProduct(true, refs)
}

func crossProduct(padded bool, refs []*Reference) (*Reference, error) {
	if len(refs) == 0 {
		return NewScalar(Tuple{}), nil
	}
	if len(refs) == 1 {
		return refs[0], nil
	}

	// Axis union, first-seen left to right.
	var axes []string
	shape := make(map[string]int)
	for _, r := range refs {
		for _, a := range r.axes {
			size := r.shape[a]
			prev, seen := shape[a]
			if !seen {
				axes = append(axes, a)
				shape[a] = size
				continue
			}
			if prev != size {
				if !padded {
					return nil, &AxisMismatchError{Axis: a, Message: "conflicting sizes in cross product"}
				}
				if size > prev {
					shape[a] = size
				}
			}
		}
	}

	out := &Reference{
		axes:  axes,
		shape: shape,
		cells: make(map[string]Value),
	}
	axisPos := make(map[string]int, len(axes))
	for i, a := range axes {
		axisPos[a] = i
	}

	for _, c := range out.Coords() {
		var combined Tuple
		present := true
		for _, r := range refs {
			proj := make(Coord, len(r.axes))
			inBounds := true
			for i, a := range r.axes {
				idx := c[axisPos[a]]
				if idx >= r.shape[a] {
					inBounds = false
					break
				}
				proj[i] = idx
			}
			if !inBounds {
				present = false
				break
			}
			v, ok := r.cells[proj.Key()]
			if !ok {
				present = false
				break
			}
			combined = append(combined, Elements(v)...)
		}
		if present {
			out.cells[c.Key()] = combined
		}
	}
	return out, nil
}
