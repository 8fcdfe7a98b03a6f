package transform

import (
	"fmt"
	"strings"

	"ndreg/pkg/interpolation"
	"ndreg/pkg/ndarray"
)

// LocalDisplacement holds an independent Displacement for every plane taken
// along Axis.
type LocalDisplacement struct {
	delta [][]float64
	axis  int
}

// NewLocalDisplacement returns a LocalDisplacement holding a copy of delta,
// one offset vector per plane along axis. Every vector must have the same
// length.
func NewLocalDisplacement(delta [][]float64, axis int) (LocalDisplacement, error) {
	for i, d := range delta {
		if len(d) != len(delta[0]) {
			return LocalDisplacement{}, fmt.Errorf("new local displacement: %w: plane %d has %d offsets, plane 0 has %d",
				ErrShapeMismatch, i, len(d), len(delta[0]))
		}
	}
	return LocalDisplacement{delta: copyDeltas(delta), axis: axis}, nil
}

func copyDeltas(delta [][]float64) [][]float64 {
	out := make([][]float64, len(delta))
	for i, d := range delta {
		out[i] = append([]float64(nil), d...)
	}
	return out
}

// Delta returns a copy of the per-plane offsets.
func (l LocalDisplacement) Delta() [][]float64 { return copyDeltas(l.delta) }

// Axis returns the axis planes are taken along.
func (l LocalDisplacement) Axis() int { return l.axis }

// ToArray returns the offsets as a [planes, ndim-1] array.
func (l LocalDisplacement) ToArray() *ndarray.Array {
	cols := 0
	if len(l.delta) > 0 {
		cols = len(l.delta[0])
	}
	data := make([]float64, 0, len(l.delta)*cols)
	for _, d := range l.delta {
		data = append(data, d...)
	}
	// rows have equal length, so the shape always matches
	a, _ := ndarray.FromSlice(data, len(l.delta), cols)
	return a
}

// Apply shifts every plane of im along the axis by its own negated offset,
// with the same interpolation policy as Displacement.Apply. The result has
// the original shape and axis order; im is not modified.
func (l LocalDisplacement) Apply(im *ndarray.Array) (*ndarray.Array, error) {
	return l.ApplyWith(im, interpolation.DefaultOptions())
}

// ApplyWith is Apply with explicit interpolation options.
func (l LocalDisplacement) ApplyWith(im *ndarray.Array, opts interpolation.Options) (*ndarray.Array, error) {
	axis, err := ndarray.NormalizeAxis(l.axis, im.NDim())
	if err != nil || im.NDim() < 2 {
		return nil, fmt.Errorf("apply local displacement: %w: axis %d for rank %d array",
			ErrInvalidConfiguration, l.axis, im.NDim())
	}
	if im.Dim(axis) != len(l.delta) {
		return nil, fmt.Errorf("apply local displacement: %w: %d planes along axis %d, %d offsets",
			ErrShapeMismatch, im.Dim(axis), axis, len(l.delta))
	}

	planes, err := im.MoveAxis(axis, 0)
	if err != nil {
		return nil, fmt.Errorf("apply local displacement: %w", err)
	}
	out := ndarray.New(planes.Shape()...)
	for i, d := range l.delta {
		shifted, err := Displacement{delta: d}.ApplyWith(planes.Index(i), opts)
		if err != nil {
			return nil, fmt.Errorf("plane %d: %w", i, err)
		}
		if err := out.Index(i).CopyFrom(shifted); err != nil {
			return nil, fmt.Errorf("plane %d: %w", i, err)
		}
	}

	restored, err := out.MoveAxis(0, axis)
	if err != nil {
		return nil, fmt.Errorf("apply local displacement: %w", err)
	}
	return restored.Clone(), nil
}

func (l LocalDisplacement) String() string {
	rows := make([]string, len(l.delta))
	for i, d := range l.delta {
		rows[i] = fmt.Sprint(d)
	}
	return fmt.Sprintf("LocalDisplacement(delta=[%s])", strings.Join(rows, " "))
}

// ComputeLocalDisplacement estimates a Displacement independently for every
// plane of a and b along axis, in ascending plane order. A negative axis
// counts from the last dimension. Neither input is modified.
func ComputeLocalDisplacement(a, b *ndarray.Array, axis int) (LocalDisplacement, error) {
	if !a.SameShape(b) {
		return LocalDisplacement{}, fmt.Errorf("compute local displacement: %w", shapeMismatch(a, b))
	}
	if a.NDim() < 2 {
		return LocalDisplacement{}, fmt.Errorf("compute local displacement: %w: rank %d array has no planes",
			ErrInvalidConfiguration, a.NDim())
	}
	ax, err := ndarray.NormalizeAxis(axis, a.NDim())
	if err != nil {
		return LocalDisplacement{}, fmt.Errorf("compute local displacement: %w: %v", ErrInvalidConfiguration, err)
	}

	ap, err := a.MoveAxis(ax, 0)
	if err != nil {
		return LocalDisplacement{}, err
	}
	bp, err := b.MoveAxis(ax, 0)
	if err != nil {
		return LocalDisplacement{}, err
	}

	delta := make([][]float64, ap.Dim(0))
	for i := range delta {
		d, err := ComputeDisplacement(ap.Index(i), bp.Index(i))
		if err != nil {
			return LocalDisplacement{}, fmt.Errorf("plane %d: %w", i, err)
		}
		delta[i] = d.delta
	}
	return LocalDisplacement{delta: delta, axis: ax}, nil
}
