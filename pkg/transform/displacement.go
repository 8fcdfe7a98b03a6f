package transform

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"ndreg/pkg/interpolation"
	"ndreg/pkg/ndarray"
	"ndreg/pkg/spectral"
)

// Displacement is a per-axis translational offset. Delta describes how a
// moving array is displaced relative to its reference; Apply undoes it.
type Displacement struct {
	delta []float64
}

// NewDisplacement returns a Displacement holding a copy of delta.
func NewDisplacement(delta []float64) Displacement {
	return Displacement{delta: append([]float64(nil), delta...)}
}

// Delta returns a copy of the per-axis offsets.
func (d Displacement) Delta() []float64 {
	return append([]float64(nil), d.delta...)
}

// ToArray returns the offsets as a rank-1 array.
func (d Displacement) ToArray() *ndarray.Array {
	a, _ := ndarray.FromSlice(d.Delta(), len(d.delta))
	return a
}

// Apply shifts im by the negated offsets using cubic spline interpolation
// with edge replication, realigning it to the reference frame.
func (d Displacement) Apply(im *ndarray.Array) (*ndarray.Array, error) {
	return d.ApplyWith(im, interpolation.DefaultOptions())
}

// ApplyWith is Apply with explicit interpolation options.
func (d Displacement) ApplyWith(im *ndarray.Array, opts interpolation.Options) (*ndarray.Array, error) {
	if len(d.delta) != im.NDim() {
		return nil, fmt.Errorf("apply displacement: %w: %d offsets for rank %d array",
			ErrShapeMismatch, len(d.delta), im.NDim())
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("apply displacement: %w: %v", ErrInvalidConfiguration, err)
	}
	offsets := make([]float64, len(d.delta))
	for i, v := range d.delta {
		offsets[i] = -v
	}
	out, err := interpolation.Shift(im, offsets, opts)
	if err != nil {
		return nil, numeric("apply displacement", err)
	}
	return out, nil
}

func (d Displacement) String() string {
	return fmt.Sprintf("Displacement(delta=%v)", d.delta)
}

// ComputeDisplacement finds the integer offset of a relative to b by
// locating the peak of their cross-correlation, computed through the
// cross-power spectrum.
//
// Offsets beyond half of an axis extent are reported as negative shifts,
// since the transform treats both arrays as periodic. When several positions
// share the peak value the first in row-major order wins, so two all-zero
// arrays yield a zero displacement.
func ComputeDisplacement(a, b *ndarray.Array) (Displacement, error) {
	if !a.SameShape(b) {
		return Displacement{}, fmt.Errorf("compute displacement: %w", shapeMismatch(a, b))
	}

	c, err := spectral.CrossCorrelation(a, b)
	if err != nil {
		return Displacement{}, numeric("compute displacement", err)
	}

	surface := c.Data()
	for i, v := range surface {
		surface[i] = math.Abs(v)
	}
	shape := c.Shape()
	peak := ndarray.Unravel(floats.MaxIdx(surface), shape)

	delta := make([]float64, len(shape))
	for i, d := range peak {
		n := shape[i]
		if d > n/2 {
			d -= n
		}
		delta[i] = float64(d)
	}
	return Displacement{delta: delta}, nil
}
