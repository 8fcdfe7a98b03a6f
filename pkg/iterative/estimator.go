// Package iterative registers arrays by optimizing a similarity metric over
// sub-pixel translations. It is the general-purpose optimizer behind the
// registration.External algorithm.
//
// Estimation starts from the integer phase-correlation offset and refines it
// with gonum's optimizers, so shifts larger than the metric's basin of
// attraction are still recovered.
package iterative

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"ndreg/pkg/interpolation"
	"ndreg/pkg/ndarray"
	"ndreg/pkg/registration"
	"ndreg/pkg/transform"
)

// Metric names accepted by Settings.
const (
	MeanSquares = "meansquares"
	Correlation = "correlation"
)

// Method names accepted by Settings.
const (
	NelderMead = "nelder-mead"
	BFGS       = "bfgs"
)

// Settings configures an Estimator.
type Settings struct {
	// Metric is the similarity measure: "meansquares" or "correlation"
	Metric string

	// Method is the optimizer: "nelder-mead" or "bfgs"
	Method string

	// MaxIterations bounds the optimizer's major iterations
	MaxIterations int

	// Tolerance is the absolute metric change below which the optimizer
	// is considered converged
	Tolerance float64

	// Margin is the number of border samples excluded from the metric on
	// each side, on top of the initial offset
	Margin int

	// Interpolation controls resampling during and after estimation
	Interpolation interpolation.Options
}

// DefaultSettings returns mean-squares Nelder-Mead estimation with cubic
// spline resampling.
func DefaultSettings() Settings {
	return Settings{
		Metric:        MeanSquares,
		Method:        NelderMead,
		MaxIterations: 2000,
		Tolerance:     1e-12,
		Margin:        2,
		Interpolation: interpolation.DefaultOptions(),
	}
}

// Validate reports unsupported settings.
func (s Settings) Validate() error {
	switch s.Metric {
	case MeanSquares, Correlation:
	default:
		return fmt.Errorf("%w: unknown metric %q", transform.ErrInvalidConfiguration, s.Metric)
	}
	switch s.Method {
	case NelderMead, BFGS:
	default:
		return fmt.Errorf("%w: unknown optimizer %q", transform.ErrInvalidConfiguration, s.Method)
	}
	if s.MaxIterations <= 0 {
		return fmt.Errorf("%w: maxIterations must be positive", transform.ErrInvalidConfiguration)
	}
	if s.Tolerance < 0 || s.Margin < 0 {
		return fmt.Errorf("%w: tolerance and margin must not be negative", transform.ErrInvalidConfiguration)
	}
	if err := s.Interpolation.Validate(); err != nil {
		return fmt.Errorf("%w: %v", transform.ErrInvalidConfiguration, err)
	}
	return nil
}

// Transform is the handle returned by Estimator.Estimate: a translation in
// array-axis order, mapping the moving array onto the fixed one.
type Transform struct {
	offset []float64
	value  float64
	status optimize.Status
}

// Parameters returns the translation, one value per axis.
func (t *Transform) Parameters() []float64 {
	return append([]float64(nil), t.offset...)
}

// Value returns the metric at the optimum.
func (t *Transform) Value() float64 { return t.value }

func (t *Transform) String() string {
	return fmt.Sprintf("Transform(offset=%v, metric=%g, status=%v)", t.offset, t.value, t.status)
}

// Estimator implements registration.Adapter. It holds only immutable
// settings and is safe for concurrent use.
type Estimator struct {
	settings Settings
}

var _ registration.Adapter = (*Estimator)(nil)

// NewEstimator returns an Estimator after validating settings.
func NewEstimator(settings Settings) (*Estimator, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{settings: settings}, nil
}

// Estimate finds the sub-pixel translation that best aligns moving with
// fixed under the configured metric.
func (e *Estimator) Estimate(moving, fixed *ndarray.Array) (registration.Handle, error) {
	if !moving.SameShape(fixed) {
		return nil, fmt.Errorf("estimate: %w", &transform.ShapeMismatchError{A: moving.Shape(), B: fixed.Shape()})
	}
	initial, err := transform.ComputeDisplacement(moving, fixed)
	if err != nil {
		return nil, fmt.Errorf("estimate: %w", err)
	}
	x0 := initial.Delta()

	mask := interiorMask(fixed.Shape(), x0, e.settings.Margin)
	if len(mask) < 2 {
		return nil, fmt.Errorf("estimate: %w: margin leaves %d samples", transform.ErrInvalidConfiguration, len(mask))
	}
	target := fixed.Data()
	want := gather(target, mask)

	var evalErr error
	objective := func(x []float64) float64 {
		shifted, err := transform.NewDisplacement(x).ApplyWith(moving, e.settings.Interpolation)
		if err != nil {
			evalErr = err
			return math.Inf(1)
		}
		got := gather(shifted.Data(), mask)
		return e.metric(got, want)
	}

	problem := optimize.Problem{Func: objective}
	var method optimize.Method
	switch e.settings.Method {
	case BFGS:
		problem.Grad = func(grad, x []float64) {
			fd.Gradient(grad, objective, x, &fd.Settings{Formula: fd.Central, Step: 1e-4})
		}
		method = &optimize.BFGS{}
	default:
		method = &optimize.NelderMead{SimplexSize: 0.5}
	}

	result, err := optimize.Minimize(problem, x0, &optimize.Settings{
		MajorIterations: e.settings.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   e.settings.Tolerance,
			Iterations: 20,
		},
	}, method)
	if evalErr != nil {
		return nil, fmt.Errorf("estimate: %w", evalErr)
	}
	// A stalled line search still reports its best location, which is kept.
	if result == nil || math.IsNaN(result.F) || math.IsInf(result.F, 0) {
		return nil, fmt.Errorf("estimate: %w: optimizer found no finite optimum: %v", transform.ErrNumericCompute, err)
	}

	return &Transform{
		offset: append([]float64(nil), result.X...),
		value:  result.F,
		status: result.Status,
	}, nil
}

// Resample applies a Transform produced by Estimate to image.
func (e *Estimator) Resample(image *ndarray.Array, h registration.Handle) (*ndarray.Array, error) {
	t, ok := h.(*Transform)
	if !ok || t == nil {
		return nil, fmt.Errorf("resample: %w: unsupported handle %T", transform.ErrInvalidConfiguration, h)
	}
	return transform.NewDisplacement(t.offset).ApplyWith(image, e.settings.Interpolation)
}

func (e *Estimator) metric(got, want []float64) float64 {
	if e.settings.Metric == Correlation {
		if stat.Variance(got, nil) == 0 || stat.Variance(want, nil) == 0 {
			return 0
		}
		return -stat.Correlation(got, want, nil)
	}
	sum := 0.0
	for i := range got {
		d := got[i] - want[i]
		sum += d * d
	}
	return sum / float64(len(got))
}

// interiorMask lists the row-major positions at least margin+|offset|+1
// samples away from every border. Refinement moves less than one sample
// from offset, so resampling there never reaches the replicated edge.
func interiorMask(shape []int, offset []float64, margin int) []int {
	lo := make([]int, len(shape))
	hi := make([]int, len(shape))
	for i, n := range shape {
		m := margin + int(math.Ceil(math.Abs(offset[i]))) + 1
		lo[i] = m
		hi[i] = n - m
		if shape[i] == 1 {
			lo[i], hi[i] = 0, 1
		}
		if hi[i] <= lo[i] {
			return nil
		}
	}

	var mask []int
	size := 1
	for _, n := range shape {
		size *= n
	}
	for flat := 0; flat < size; flat++ {
		idx := ndarray.Unravel(flat, shape)
		inside := true
		for i, v := range idx {
			if v < lo[i] || v >= hi[i] {
				inside = false
				break
			}
		}
		if inside {
			mask = append(mask, flat)
		}
	}
	return mask
}

func gather(data []float64, mask []int) []float64 {
	out := make([]float64, len(mask))
	for i, p := range mask {
		out[i] = data[p]
	}
	return out
}
