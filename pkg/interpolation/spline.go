// Package interpolation resamples n-dimensional arrays under translations
// using B-spline interpolation of order 0, 1 or 3.
package interpolation

import (
	"errors"
	"fmt"
	"math"

	"ndreg/pkg/ndarray"
)

// Mode selects how values beyond the array border are produced.
type Mode int

const (
	// Nearest repeats the nearest in-bounds value (edge replication).
	Nearest Mode = iota
	// Wrap treats the array as periodic.
	Wrap
	// Constant fills with Options.Cval.
	Constant
)

// String returns the configuration name of the mode.
func (m Mode) String() string {
	switch m {
	case Nearest:
		return "nearest"
	case Wrap:
		return "wrap"
	case Constant:
		return "constant"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode maps a configuration name onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "nearest", "":
		return Nearest, nil
	case "wrap":
		return Wrap, nil
	case "constant":
		return Constant, nil
	}
	return 0, fmt.Errorf("%w: unknown boundary mode %q", ErrInvalidOptions, s)
}

var (
	// ErrInvalidOptions is returned for unsupported orders, modes or offsets.
	ErrInvalidOptions = errors.New("invalid interpolation options")

	// ErrNonFinite is returned when the input or an offset is NaN or Inf.
	ErrNonFinite = errors.New("non-finite value")
)

// Options controls a resampling operation.
type Options struct {
	// Order is the spline order: 0 (nearest neighbour), 1 (linear) or 3 (cubic)
	Order int

	// Mode is the boundary policy
	Mode Mode

	// Cval is the fill value for Constant mode
	Cval float64
}

// DefaultOptions returns cubic spline interpolation with edge replication.
func DefaultOptions() Options {
	return Options{Order: 3, Mode: Nearest}
}

// Validate checks that the options describe a supported kernel and policy.
func (o Options) Validate() error {
	switch o.Order {
	case 0, 1, 3:
	default:
		return fmt.Errorf("%w: spline order %d (must be 0, 1 or 3)", ErrInvalidOptions, o.Order)
	}
	switch o.Mode {
	case Nearest, Wrap, Constant:
	default:
		return fmt.Errorf("%w: %v", ErrInvalidOptions, o.Mode)
	}
	return nil
}

// cubic spline prefilter pole
var splinePole = math.Sqrt(3) - 2

// Shift returns a translated copy of a: out[i] = a[i - offsets]. Offsets may
// be fractional. The translation is separable, so each axis is resampled in
// turn; axes with a zero offset are copied unchanged. a is never modified.
func Shift(a *ndarray.Array, offsets []float64, opts Options) (*ndarray.Array, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if len(offsets) != a.NDim() {
		return nil, fmt.Errorf("%w: %d offsets for rank %d array", ndarray.ErrShapeMismatch, len(offsets), a.NDim())
	}
	for _, s := range offsets {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("%w: offset %v", ErrNonFinite, offsets)
		}
	}
	if !a.AllFinite() {
		return nil, ErrNonFinite
	}

	shape := a.Shape()
	data := a.Data()
	for axis, s := range offsets {
		if s == 0 || shape[axis] == 0 {
			continue
		}
		shiftAxis(data, shape, axis, s, opts)
	}
	return ndarray.FromSlice(data, shape...)
}

// shiftAxis resamples every line of a row-major grid along one axis.
func shiftAxis(data []float64, shape []int, axis int, s float64, opts Options) {
	n := shape[axis]
	stride := 1
	for _, d := range shape[axis+1:] {
		stride *= d
	}
	outer := len(data) / (n * stride)

	line := make([]float64, n)
	out := make([]float64, n)
	var buf lineBuffer
	for o := 0; o < outer; o++ {
		for in := 0; in < stride; in++ {
			base := o*n*stride + in
			for k := 0; k < n; k++ {
				line[k] = data[base+k*stride]
			}
			buf.shift(out, line, s, opts)
			for k := 0; k < n; k++ {
				data[base+k*stride] = out[k]
			}
		}
	}
}

// lineBuffer holds the padded line and its spline coefficients so a single
// axis pass reuses its allocations.
type lineBuffer struct {
	ext    []float64
	coeffs []float64
}

// shift resamples src into dst: dst[i] = src[i - s]. A line moved by its
// full length or more holds only boundary values; a wrapped line is reduced
// modulo its length first. The padding therefore never exceeds n+4 on each
// side.
func (b *lineBuffer) shift(dst, src []float64, s float64, opts Options) {
	n := len(src)
	switch {
	case opts.Mode == Wrap:
		s = math.Mod(s, float64(n))
	case math.Abs(s) >= float64(n):
		fill := opts.Cval
		if opts.Mode == Nearest {
			fill = src[n-1]
			if s > 0 {
				fill = src[0]
			}
		}
		for i := range dst {
			dst[i] = fill
		}
		return
	}
	pad := int(math.Ceil(math.Abs(s))) + 4
	m := n + 2*pad
	if cap(b.ext) < m {
		b.ext = make([]float64, m)
		b.coeffs = make([]float64, m)
	}
	ext := b.ext[:m]
	for j := range ext {
		ext[j] = boundaryValue(src, j-pad, opts)
	}

	if s == math.Trunc(s) {
		k := int(s)
		for i := range dst {
			dst[i] = ext[i-k+pad]
		}
		return
	}

	switch opts.Order {
	case 0:
		for i := range dst {
			x := float64(i) - s + float64(pad)
			dst[i] = ext[clampIndex(int(math.Floor(x+0.5)), m)]
		}
	case 1:
		for i := range dst {
			x := float64(i) - s + float64(pad)
			j := int(math.Floor(x))
			t := x - float64(j)
			dst[i] = (1-t)*ext[clampIndex(j, m)] + t*ext[clampIndex(j+1, m)]
		}
	default:
		c := b.coeffs[:m]
		copy(c, ext)
		prefilterCubic(c)
		for i := range dst {
			x := float64(i) - s + float64(pad)
			dst[i] = evalCubic(c, x)
		}
	}
}

// boundaryValue returns src[j] extended beyond its ends by the mode.
func boundaryValue(src []float64, j int, opts Options) float64 {
	n := len(src)
	if j >= 0 && j < n {
		return src[j]
	}
	switch opts.Mode {
	case Wrap:
		j %= n
		if j < 0 {
			j += n
		}
		return src[j]
	case Constant:
		return opts.Cval
	default:
		if j < 0 {
			return src[0]
		}
		return src[n-1]
	}
}

func clampIndex(j, m int) int {
	if j < 0 {
		return 0
	}
	if j >= m {
		return m - 1
	}
	return j
}

// prefilterCubic converts samples into cubic B-spline coefficients in place
// using the causal/anti-causal recursive filter with mirror boundaries.
func prefilterCubic(c []float64) {
	m := len(c)
	if m == 1 {
		return
	}
	z := splinePole
	gain := (1 - z) * (1 - 1/z)
	for i := range c {
		c[i] *= gain
	}

	horizon := m
	if h := int(math.Ceil(math.Log(1e-15) / math.Log(math.Abs(z)))); h < m {
		horizon = h
	}
	zn := z
	sum := c[0]
	for k := 1; k < horizon; k++ {
		sum += zn * c[k]
		zn *= z
	}
	c[0] = sum

	for k := 1; k < m; k++ {
		c[k] += z * c[k-1]
	}
	c[m-1] = (z / (z*z - 1)) * (c[m-1] + z*c[m-2])
	for k := m - 2; k >= 0; k-- {
		c[k] = z * (c[k+1] - c[k])
	}
}

// evalCubic evaluates the cubic B-spline with coefficients c at x.
func evalCubic(c []float64, x float64) float64 {
	m := len(c)
	j := int(math.Floor(x))
	t := x - float64(j)
	t2 := t * t
	t3 := t2 * t
	u := 1 - t

	w0 := u * u * u / 6
	w1 := (3*t3 - 6*t2 + 4) / 6
	w2 := (-3*t3 + 3*t2 + 3*t + 1) / 6
	w3 := t3 / 6

	return w0*c[clampIndex(j-1, m)] +
		w1*c[clampIndex(j, m)] +
		w2*c[clampIndex(j+1, m)] +
		w3*c[clampIndex(j+2, m)]
}
