package quant

import (
	"fmt"
	"slices"
	"strings"

	"github.com/calyptra/planrun/internal/ref"
)

// AxisSlice optionally restricts grouping to one slice of each operand
// before combining.
type AxisSlice struct {
	Axis  string
	Index int
}

// GroupOptions tune the grouping combinators. Restrict applies an axis
// slice to every operand that carries the axis; Template renames the
// result's axes: a comma-separated name list applied positionally, which
// must name every result axis. Empty keeps the operand-derived names.
type GroupOptions struct {
	Restrict *AxisSlice
	Template string
}

// defaultStackAxis names the fresh axis OrAcross creates for all-scalar
// fan-in when no template is given.
const defaultStackAxis = "group"

func applyRestrict(opts GroupOptions, refs []*ref.Reference) ([]*ref.Reference, error) {
	if opts.Restrict == nil {
		return refs, nil
	}
	out := make([]*ref.Reference, len(refs))
	for i, r := range refs {
		if r.Size(opts.Restrict.Axis) == 0 {
			out[i] = r // operand does not carry the restricted axis
			continue
		}
		sliced, err := r.Slice(opts.Restrict.Axis, opts.Restrict.Index)
		if err != nil {
			return nil, err
		}
		out[i] = sliced
	}
	return out, nil
}

// applyTemplate renames a grouping result's axes per the output template,
// position by position in the result's axis order.
func applyTemplate(opts GroupOptions, r *ref.Reference) (*ref.Reference, error) {
	if opts.Template == "" {
		return r, nil
	}
	names := strings.Split(opts.Template, ",")
	axes := r.Axes()
	if len(names) != len(axes) {
		return nil, &ref.AxisMismatchError{
			Message: fmt.Sprintf("output template names %d axes, result carries %d", len(names), len(axes)),
		}
	}
	for i, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || name == axes[i] {
			continue
		}
		renamed, err := r.WithAxisRenamed(axes[i], name)
		if err != nil {
			return nil, err
		}
		r = renamed
	}
	return r, nil
}

// AndIn pairs sibling references coordinate-wise ("zip" composition): the
// cell at each coordinate is the Tuple of every operand's value there, and
// exists only where all operands agree (are populated). Operands must carry
// identical axis sets; partially overlapping axis sets are an
// AxisMismatchError rather than an improvised broadcast.
func AndIn(opts GroupOptions, refs ...*ref.Reference) (*ref.Reference, error) {
	if len(refs) == 0 {
		return nil, &ref.AxisMismatchError{Message: "and_in requires at least one operand"}
	}
	refs, err := applyRestrict(opts, refs)
	if err != nil {
		return nil, err
	}

	first := refs[0]
	firstAxes := first.Axes()
	slices.Sort(firstAxes)
	for _, r := range refs[1:] {
		axes := r.Axes()
		slices.Sort(axes)
		if !slices.Equal(firstAxes, axes) {
			return nil, &ref.AxisMismatchError{Message: "and_in operands must carry identical axis sets"}
		}
		for _, a := range axes {
			if r.Size(a) != first.Size(a) {
				return nil, &ref.AxisMismatchError{Axis: a, Message: "conflicting sizes in and_in"}
			}
		}
	}

	// Identical axis sets make this a cross product over shared axes:
	// every coordinate zips, absent positions skip.
	zipped, err := ref.CrossProduct(refs...)
	if err != nil {
		return nil, err
	}
	return applyTemplate(opts, zipped)
}

// OrAcross unions sibling references ("any of these" fan-in). Output axes
// are the first-seen union of shaped operands; at each coordinate the first
// operand populated there wins, and scalar operands broadcast everywhere.
// When every operand is scalar, the results stack along a fresh template
// axis in operand order: three scalars produce a 1-axis reference of size 3.
func OrAcross(opts GroupOptions, refs ...*ref.Reference) (*ref.Reference, error) {
	if len(refs) == 0 {
		return nil, &ref.AxisMismatchError{Message: "or_across requires at least one operand"}
	}
	refs, err := applyRestrict(opts, refs)
	if err != nil {
		return nil, err
	}

	allScalar := true
	for _, r := range refs {
		if !r.IsScalar() {
			allScalar = false
			break
		}
	}
	if allScalar {
		b := ref.NewBuilder([]string{defaultStackAxis}, len(refs))
		for i, r := range refs {
			if v, ok := r.Scalar(); ok {
				b.Set(v, i)
			}
		}
		stacked, err := b.Build()
		if err != nil {
			return nil, err
		}
		return applyTemplate(opts, stacked)
	}

	// Union of shaped operands, first-seen order, sizes must agree.
	var axes []string
	sizes := map[string]int{}
	for _, r := range refs {
		for _, a := range r.Axes() {
			size := r.Size(a)
			if prev, seen := sizes[a]; seen {
				if prev != size {
					return nil, &ref.AxisMismatchError{Axis: a, Message: "conflicting sizes in or_across"}
				}
				continue
			}
			axes = append(axes, a)
			sizes[a] = size
		}
	}

	sizeList := make([]int, len(axes))
	for i, a := range axes {
		sizeList[i] = sizes[a]
	}
	b := ref.NewBuilder(axes, sizeList...)
	out, err := b.Build()
	if err != nil {
		return nil, err
	}

	result := ref.NewBuilder(axes, sizeList...)
	axisPos := map[string]int{}
	for i, a := range axes {
		axisPos[a] = i
	}
	for _, c := range out.Coords() {
		for _, r := range refs {
			v, ok := valueAtProjection(r, c, axes, axisPos)
			if ok {
				result.Set(v, c...)
				break // first populated operand wins
			}
		}
	}
	union, err := result.Build()
	if err != nil {
		return nil, err
	}
	return applyTemplate(opts, union)
}

// valueAtProjection projects a full output coordinate onto one operand's
// axes and fetches its value. Scalars are populated at every coordinate.
func valueAtProjection(r *ref.Reference, c ref.Coord, axes []string, axisPos map[string]int) (ref.Value, bool) {
	if r.IsScalar() {
		return r.Scalar()
	}
	proj := make([]int, 0, len(r.Axes()))
	for _, a := range r.Axes() {
		proj = append(proj, c[axisPos[a]])
	}
	v, ok, err := r.At(proj...)
	if err != nil || !ok {
		return nil, false
	}
	return v, true
}
