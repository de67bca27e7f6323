package ref

import (
	"fmt"
	"strconv"
	"strings"
)

// Coord addresses one cell of a Reference: one index per axis, in axis order.
type Coord []int

// Key encodes a coordinate as a comparable map key ("1,0,2"; "" for scalars).
func (c Coord) Key() string {
	if len(c) == 0 {
		return ""
	}
	parts := make([]string, len(c))
	for i, v := range c {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// ParseCoord decodes a coordinate key produced by Coord.Key.
func ParseCoord(key string) (Coord, error) {
	if key == "" {
		return Coord{}, nil
	}
	parts := strings.Split(key, ",")
	c := make(Coord, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("parse coordinate %q: %w", key, err)
		}
		c[i] = n
	}
	return c, nil
}

// Reference is the universal value container: a named-axis tensor with
// irregular-shape tolerance. Cells are stored sparsely by coordinate; an
// absent coordinate inside the declared shape is a first-class "unset"
// marker, distinct from any zero value. A reference with zero axes holds a
// single scalar (or nothing).
//
// References are immutable once built. Every operation returns a new
// Reference; producers replace values in the repository rather than
// mutating them in place.
type Reference struct {
	axes  []string
	shape map[string]int
	cells map[string]Value
}

// NewScalar builds a zero-axis reference holding a single value.
func NewScalar(v Value) *Reference {
	return &Reference{
		axes:  nil,
		shape: map[string]int{},
		cells: map[string]Value{"": v},
	}
}

// Builder accumulates cells for a new Reference. Set calls outside the
// declared shape record an error surfaced by Build.
type Builder struct {
	r   *Reference
	err error
}

// NewBuilder starts a reference with the given axes and sizes.
// len(axes) must equal len(sizes).
func NewBuilder(axes []string, sizes ...int) *Builder {
	if len(axes) != len(sizes) {
		return &Builder{err: fmt.Errorf("axes/sizes length mismatch: %d vs %d", len(axes), len(sizes))}
	}
	shape := make(map[string]int, len(axes))
	for i, a := range axes {
		if _, dup := shape[a]; dup {
			return &Builder{err: fmt.Errorf("duplicate axis %q", a)}
		}
		shape[a] = sizes[i]
	}
	return &Builder{r: &Reference{
		axes:  append([]string(nil), axes...),
		shape: shape,
		cells: make(map[string]Value),
	}}
}

// Set places a value at the given coordinate.
func (b *Builder) Set(v Value, coord ...int) *Builder {
	if b.err != nil {
		return b
	}
	if err := b.r.checkCoord(Coord(coord)); err != nil {
		b.err = err
		return b
	}
	b.r.cells[Coord(coord).Key()] = v
	return b
}

// Build finalizes the reference. The builder must not be reused after Build.
func (b *Builder) Build() (*Reference, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.r, nil
}

// MustBuild is Build that panics on error. For tests and literals.
func (b *Builder) MustBuild() *Reference {
	r, err := b.Build()
	if err != nil {
		panic(err)
	}
	return r
}

// FromValues builds a 1-axis reference over axis with the given values in
// coordinate order.
func FromValues(axis string, values ...Value) *Reference {
	b := NewBuilder([]string{axis}, len(values))
	for i, v := range values {
		b.Set(v, i)
	}
	return b.MustBuild()
}

// Axes returns the ordered axis names. The returned slice is a copy.
func (r *Reference) Axes() []string {
	return append([]string(nil), r.axes...)
}

// Shape returns the axis-name to size mapping. The returned map is a copy.
func (r *Reference) Shape() map[string]int {
	out := make(map[string]int, len(r.shape))
	for k, v := range r.shape {
		out[k] = v
	}
	return out
}

// Size returns the declared size of one axis, or 0 if the axis is absent.
func (r *Reference) Size(axis string) int {
	return r.shape[axis]
}

// HasAxis reports whether the axis is declared, regardless of its size.
// A declared size-0 axis (an empty collection) is present; use this to
// tell it apart from a missing axis, where Size returns 0 for both.
func (r *Reference) HasAxis(axis string) bool {
	_, ok := r.shape[axis]
	return ok
}

// IsScalar reports whether the reference has zero axes.
func (r *Reference) IsScalar() bool {
	return len(r.axes) == 0
}

// Len returns the number of populated cells.
func (r *Reference) Len() int {
	return len(r.cells)
}

// Render flattens the reference to display text: a scalar renders its
// value, a shaped reference joins populated cells in row-major coordinate
// order with "; ". Used for prompts and human-facing output, so the layout
// is part of the run-reproducibility contract.
func (r *Reference) Render() string {
	if v, ok := r.Scalar(); ok {
		return Text(v)
	}
	var parts []string
	for _, c := range r.SetCoords() {
		v, ok, err := r.At(c...)
		if err != nil || !ok {
			continue
		}
		parts = append(parts, Text(v))
	}
	return strings.Join(parts, "; ")
}

func (r *Reference) checkCoord(c Coord) error {
	if len(c) != len(r.axes) {
		return fmt.Errorf("coordinate rank %d does not match axis count %d", len(c), len(r.axes))
	}
	for i, idx := range c {
		size := r.shape[r.axes[i]]
		if idx < 0 || idx >= size {
			return &OutOfBoundsError{Axis: r.axes[i], Index: idx, Size: size}
		}
	}
	return nil
}

// At returns the value at the coordinate. ok is false for an unset cell
// inside the declared shape; a coordinate outside the shape returns an
// OutOfBoundsError.
func (r *Reference) At(coord ...int) (Value, bool, error) {
	if err := r.checkCoord(Coord(coord)); err != nil {
		return nil, false, err
	}
	v, ok := r.cells[Coord(coord).Key()]
	return v, ok, nil
}

// Scalar returns the single value of a zero-axis reference.
func (r *Reference) Scalar() (Value, bool) {
	if !r.IsScalar() {
		return nil, false
	}
	v, ok := r.cells[""]
	return v, ok
}

// Coords enumerates every coordinate in the declared shape in row-major
// order over the axis list. Populated and unset cells alike; callers skip
// unset cells themselves. An empty-shape (scalar) reference yields the
// single empty coordinate.
func (r *Reference) Coords() []Coord {
	total := 1
	sizes := make([]int, len(r.axes))
	for i, a := range r.axes {
		sizes[i] = r.shape[a]
		total *= sizes[i]
	}
	if total == 0 {
		return nil
	}
	out := make([]Coord, 0, total)
	cur := make(Coord, len(r.axes))
	for {
		out = append(out, append(Coord(nil), cur...))
		i := len(cur) - 1
		for ; i >= 0; i-- {
			cur[i]++
			if cur[i] < sizes[i] {
				break
			}
			cur[i] = 0
		}
		if i < 0 {
			break
		}
	}
	return out
}

// SetCoords enumerates only the populated coordinates, in row-major order.
func (r *Reference) SetCoords() []Coord {
	var out []Coord
	for _, c := range r.Coords() {
		if _, ok := r.cells[c.Key()]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Slice fixes axis at index and drops the axis from the result.
func (r *Reference) Slice(axis string, index int) (*Reference, error) {
	pos := -1
	for i, a := range r.axes {
		if a == axis {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, &AxisMismatchError{Axis: axis, Message: "axis not present"}
	}
	if index < 0 || index >= r.shape[axis] {
		return nil, &OutOfBoundsError{Axis: axis, Index: index, Size: r.shape[axis]}
	}
	axes := make([]string, 0, len(r.axes)-1)
	sizes := make([]int, 0, len(r.axes)-1)
	for _, a := range r.axes {
		if a == axis {
			continue
		}
		axes = append(axes, a)
		sizes = append(sizes, r.shape[a])
	}
	out := &Reference{
		axes:  axes,
		shape: make(map[string]int, len(axes)),
		cells: make(map[string]Value),
	}
	for i, a := range axes {
		out.shape[a] = sizes[i]
	}
	for key, v := range r.cells {
		c, err := ParseCoord(key)
		if err != nil {
			return nil, err
		}
		if c[pos] != index {
			continue
		}
		sub := make(Coord, 0, len(c)-1)
		sub = append(sub, c[:pos]...)
		sub = append(sub, c[pos+1:]...)
		out.cells[sub.Key()] = v
	}
	return out, nil
}

// Flatten collapses axis, producing a reference without it whose cells are
// Tuples of the values along the flattened axis in coordinate order. Unset
// positions are skipped, not padded. Flattening the only axis of a 1-axis
// reference yields a scalar Tuple.
func (r *Reference) Flatten(axis string) (*Reference, error) {
	pos := -1
	for i, a := range r.axes {
		if a == axis {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, &AxisMismatchError{Axis: axis, Message: "axis not present"}
	}
	axes := make([]string, 0, len(r.axes)-1)
	for _, a := range r.axes {
		if a != axis {
			axes = append(axes, a)
		}
	}
	out := &Reference{
		axes:  axes,
		shape: make(map[string]int, len(axes)),
		cells: make(map[string]Value),
	}
	for _, a := range axes {
		out.shape[a] = r.shape[a]
	}
	for _, c := range out.Coords() {
		var grouped Tuple
		for i := 0; i < r.shape[axis]; i++ {
			full := make(Coord, 0, len(c)+1)
			full = append(full, c[:pos]...)
			full = append(full, i)
			full = append(full, c[pos:]...)
			if v, ok := r.cells[full.Key()]; ok {
				grouped = append(grouped, v)
			}
		}
		if len(grouped) > 0 {
			out.cells[c.Key()] = grouped
		}
	}
	return out, nil
}

// WithAxisRenamed returns a copy of r with one axis renamed. Axis order,
// shape, and cells are unchanged.
func (r *Reference) WithAxisRenamed(old, renamed string) (*Reference, error) {
	pos := -1
	for i, a := range r.axes {
		if a == old {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil, &AxisMismatchError{Axis: old, Message: "axis not present"}
	}
	if _, exists := r.shape[renamed]; exists && renamed != old {
		return nil, &AxisMismatchError{Axis: renamed, Message: "axis already present"}
	}
	axes := append([]string(nil), r.axes...)
	axes[pos] = renamed
	shape := make(map[string]int, len(r.shape))
	for k, v := range r.shape {
		if k == old {
			shape[renamed] = v
		} else {
			shape[k] = v
		}
	}
	cells := make(map[string]Value, len(r.cells))
	for k, v := range r.cells {
		cells[k] = v
	}
	return &Reference{axes: axes, shape: shape, cells: cells}, nil
}
