// Package spectral implements n-dimensional discrete Fourier transforms of
// real arrays on top of gonum's one-dimensional FFT plans.
package spectral

import (
	"errors"
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"

	"ndreg/pkg/ndarray"
)

// ErrNonFinite is returned when a transform input holds NaN or Inf values.
var ErrNonFinite = errors.New("non-finite input")

// Spectrum is the half-spectrum of a real n-dimensional array: the last
// axis holds n/2+1 coefficients, the others are complete.
type Spectrum struct {
	// shape is the shape of the real array the spectrum came from
	shape []int

	// dims is the shape of the coefficient grid
	dims []int

	// coeffs holds the coefficients in row-major order over dims
	coeffs []complex128
}

// Shape returns the real-domain shape of the spectrum.
func (s *Spectrum) Shape() []int {
	return append([]int(nil), s.shape...)
}

// Forward computes the real-input n-dimensional DFT of a.
//
// The last axis is transformed with a real FFT, then each remaining axis with
// a complex FFT, from the innermost outwards. Plans are allocated per call so
// Forward is safe for concurrent use on independent inputs.
func Forward(a *ndarray.Array) (*Spectrum, error) {
	if a.Size() == 0 {
		return nil, fmt.Errorf("%w: empty array", ndarray.ErrShapeMismatch)
	}
	if !a.AllFinite() {
		return nil, ErrNonFinite
	}

	shape := a.Shape()
	nd := len(shape)
	last := shape[nd-1]
	half := last/2 + 1

	dims := append([]int(nil), shape...)
	dims[nd-1] = half

	data := a.Data()
	rows := len(data) / last
	coeffs := make([]complex128, rows*half)

	plan := newRealFFT(last)
	for r := 0; r < rows; r++ {
		plan.coefficients(coeffs[r*half:(r+1)*half], data[r*last:(r+1)*last])
	}

	for axis := nd - 2; axis >= 0; axis-- {
		transformAxis(coeffs, dims, axis, false)
	}

	return &Spectrum{shape: shape, dims: dims, coeffs: coeffs}, nil
}

// MulConj multiplies s in place by the complex conjugate of o, forming the
// cross-power spectrum of the two source arrays.
func (s *Spectrum) MulConj(o *Spectrum) error {
	if !ndarray.EqualShape(s.shape, o.shape) {
		return fmt.Errorf("%w: spectra of shapes %v and %v", ndarray.ErrShapeMismatch, s.shape, o.shape)
	}
	for i, c := range o.coeffs {
		s.coeffs[i] *= cmplx.Conj(c)
	}
	return nil
}

// Inverse computes the normalized inverse real DFT of s, returning an array
// with the spectrum's real-domain shape. s is left unchanged.
func Inverse(s *Spectrum) (*ndarray.Array, error) {
	coeffs := append([]complex128(nil), s.coeffs...)
	nd := len(s.shape)
	for axis := 0; axis < nd-1; axis++ {
		transformAxis(coeffs, s.dims, axis, true)
	}

	last := s.shape[nd-1]
	half := s.dims[nd-1]
	rows := len(coeffs) / half
	out := make([]float64, rows*last)

	plan := newRealFFT(last)
	scale := 1 / float64(last)
	for r := 0; r < rows; r++ {
		row := out[r*last : (r+1)*last]
		plan.sequence(row, coeffs[r*half:(r+1)*half])
		for i := range row {
			row[i] *= scale
		}
	}

	return ndarray.FromSlice(out, s.shape...)
}

// CrossCorrelation returns the circular cross-correlation surface
// c[k] = sum_n a[n+k] b[n] of two equally shaped arrays.
func CrossCorrelation(a, b *ndarray.Array) (*ndarray.Array, error) {
	if !a.SameShape(b) {
		return nil, fmt.Errorf("%w: %v and %v", ndarray.ErrShapeMismatch, a.Shape(), b.Shape())
	}
	fa, err := Forward(a)
	if err != nil {
		return nil, err
	}
	fb, err := Forward(b)
	if err != nil {
		return nil, err
	}
	if err := fa.MulConj(fb); err != nil {
		return nil, err
	}
	return Inverse(fa)
}

// transformAxis applies a complex FFT along one axis of a row-major
// coefficient grid. Inverse transforms are normalized by the axis length.
func transformAxis(coeffs []complex128, dims []int, axis int, inverse bool) {
	n := dims[axis]
	if n == 1 {
		return
	}
	stride := 1
	for _, d := range dims[axis+1:] {
		stride *= d
	}
	outer := len(coeffs) / (n * stride)

	plan := fourier.NewCmplxFFT(n)
	line := make([]complex128, n)
	res := make([]complex128, n)
	scale := complex(1/float64(n), 0)

	for o := 0; o < outer; o++ {
		for in := 0; in < stride; in++ {
			base := o*n*stride + in
			for k := 0; k < n; k++ {
				line[k] = coeffs[base+k*stride]
			}
			if inverse {
				res = plan.Sequence(res, line)
			} else {
				res = plan.Coefficients(res, line)
			}
			for k := 0; k < n; k++ {
				if inverse {
					coeffs[base+k*stride] = res[k] * scale
				} else {
					coeffs[base+k*stride] = res[k]
				}
			}
		}
	}
}

// realFFT wraps a gonum real FFT plan; length-one transforms are the
// identity and need no plan.
type realFFT struct {
	plan *fourier.FFT
}

func newRealFFT(n int) *realFFT {
	if n == 1 {
		return &realFFT{}
	}
	return &realFFT{plan: fourier.NewFFT(n)}
}

func (r *realFFT) coefficients(dst []complex128, seq []float64) {
	if r.plan == nil {
		dst[0] = complex(seq[0], 0)
		return
	}
	r.plan.Coefficients(dst, seq)
}

func (r *realFFT) sequence(dst []float64, coeff []complex128) {
	if r.plan == nil {
		dst[0] = real(coeff[0])
		return
	}
	r.plan.Sequence(dst, coeff)
}
