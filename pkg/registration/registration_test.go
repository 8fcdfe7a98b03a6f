package registration

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ndreg/pkg/interpolation"
	"ndreg/pkg/ndarray"
	"ndreg/pkg/transform"
)

func arange(t *testing.T, shape ...int) *ndarray.Array {
	t.Helper()
	data := make([]float64, ndarray.New(shape...).Size())
	for i := range data {
		data[i] = float64(i)
	}
	a, err := ndarray.FromSlice(data, shape...)
	require.NoError(t, err)
	return a
}

func roll(t *testing.T, a *ndarray.Array, d []float64) *ndarray.Array {
	t.Helper()
	out, err := interpolation.Shift(a, d, interpolation.Options{Order: 0, Mode: interpolation.Wrap})
	require.NoError(t, err)
	return out
}

func TestCrossCorrFit(t *testing.T) {
	reference := arange(t, 5, 5)
	deltas := [][]float64{{1, 2}, {-2, 1}}
	images := []*ndarray.Array{roll(t, reference, deltas[0]), roll(t, reference, deltas[1])}

	model, err := NewCrossCorr(WithWorkers(2)).Fit(context.Background(), images, reference)
	require.NoError(t, err)
	require.Equal(t, "CrossCorr", model.Algorithm)
	require.Equal(t, []int{0, 1}, model.Keys())

	arr, err := model.ToArray()
	require.NoError(t, err)
	require.Equal(t, []int{2, 2}, arr.Shape())
	require.Equal(t, []float64{1, 2, -2, 1}, arr.Data())
}

func TestCrossCorrFit3D(t *testing.T) {
	reference := arange(t, 5, 5, 5)
	deltas := [][]float64{{1, 0, 2}, {0, 1, 2}}
	images := []*ndarray.Array{roll(t, reference, deltas[0]), roll(t, reference, deltas[1])}

	model, err := NewCrossCorr().Fit(context.Background(), images, reference)
	require.NoError(t, err)
	arr, err := model.ToArray()
	require.NoError(t, err)
	require.Equal(t, []float64{1, 0, 2, 0, 1, 2}, arr.Data())
}

func TestCrossCorrFitAxis(t *testing.T) {
	reference := arange(t, 2, 5, 6)
	build := func(d0, d1 []float64) *ndarray.Array {
		v := ndarray.New(2, 5, 6)
		require.NoError(t, v.Index(0).CopyFrom(roll(t, reference.Index(0), d0)))
		require.NoError(t, v.Index(1).CopyFrom(roll(t, reference.Index(1), d1)))
		return v
	}
	images := []*ndarray.Array{
		build([]float64{1, 2}, []float64{-2, 1}),
		build([]float64{2, 1}, []float64{1, -2}),
	}

	model, err := NewCrossCorr(WithAxis(0)).Fit(context.Background(), images, reference)
	require.NoError(t, err)
	arr, err := model.ToArray()
	require.NoError(t, err)
	require.Equal(t, []int{2, 2, 2}, arr.Shape())
	require.Equal(t, []float64{1, 2, -2, 1, 2, 1, 1, -2}, arr.Data())

	_, isLocal := model.Transformations[0].(transform.LocalDisplacement)
	require.True(t, isLocal)
}

func TestCrossCorrFitInvalidAxis(t *testing.T) {
	reference := arange(t, 4, 4)
	_, err := NewCrossCorr(WithAxis(2)).Fit(context.Background(), []*ndarray.Array{reference}, reference)
	require.True(t, errors.Is(err, transform.ErrInvalidConfiguration))
}

func TestFitDefaultsToMeanReference(t *testing.T) {
	a := arange(t, 6, 6)
	model, err := NewCrossCorr().Fit(context.Background(), []*ndarray.Array{a, a}, nil)
	require.NoError(t, err)
	arr, err := model.ToArray()
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0, 0, 0}, arr.Data())
}

func TestFitInputChecks(t *testing.T) {
	ctx := context.Background()
	alg := NewCrossCorr()

	_, err := alg.Fit(ctx, nil, nil)
	require.True(t, errors.Is(err, transform.ErrInvalidConfiguration))

	_, err = alg.Fit(ctx, []*ndarray.Array{ndarray.New(5)}, nil)
	require.True(t, errors.Is(err, transform.ErrShapeMismatch))

	_, err = alg.Fit(ctx, []*ndarray.Array{ndarray.New(3, 3), ndarray.New(4, 4)}, nil)
	require.True(t, errors.Is(err, transform.ErrShapeMismatch))

	_, err = alg.Fit(ctx, []*ndarray.Array{ndarray.New(3, 3)}, ndarray.New(4, 4))
	require.True(t, errors.Is(err, transform.ErrShapeMismatch))
}

func TestModelTransformRealigns(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	data := make([]float64, 12*12)
	for i := range data {
		data[i] = rng.Float64()
	}
	reference, err := ndarray.FromSlice(data, 12, 12)
	require.NoError(t, err)
	images := []*ndarray.Array{roll(t, reference, []float64{2, 1}), roll(t, reference, []float64{-1, -2})}

	model, err := NewCrossCorr().Fit(context.Background(), images, reference)
	require.NoError(t, err)
	aligned, err := model.Transform(context.Background(), images, 2)
	require.NoError(t, err)
	require.Len(t, aligned, 2)

	for i := 2; i < 10; i++ {
		for j := 2; j < 10; j++ {
			require.InDelta(t, reference.At(i, j), aligned[0].At(i, j), 1e-9)
			require.InDelta(t, reference.At(i, j), aligned[1].At(i, j), 1e-9)
		}
	}

	_, err = model.Transform(context.Background(), append(images, reference), 1)
	require.True(t, errors.Is(err, transform.ErrInvalidConfiguration))
}

func TestModelString(t *testing.T) {
	m := NewModel(map[int]transform.Transformation{0: transform.NewDisplacement([]float64{1})}, "CrossCorr")
	require.Equal(t, "RegistrationModel(algorithm=CrossCorr, transformations=1)", m.String())

	_, err := NewModel(nil, "CrossCorr").ToArray()
	require.True(t, errors.Is(err, transform.ErrInvalidConfiguration))
}

func TestParallelMapCollectsEveryKey(t *testing.T) {
	inputs := make(map[string]int)
	for i, k := range []string{"a", "b", "c", "d", "e", "f"} {
		inputs[k] = i
	}

	var running, peak int32
	out, err := ParallelMap(context.Background(), inputs, 2,
		func(_ context.Context, _ string, v int) (int, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return v * v, nil
		})
	require.NoError(t, err)
	require.Len(t, out, len(inputs))
	for k, v := range inputs {
		require.Equal(t, v*v, out[k])
	}
	require.LessOrEqual(t, peak, int32(2))
}

func TestParallelMapPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	out, err := ParallelMap(context.Background(), map[int]int{0: 0, 1: 1, 2: 2}, 0,
		func(_ context.Context, k int, _ int) (int, error) {
			if k == 1 {
				return 0, boom
			}
			return k, nil
		})
	require.ErrorIs(t, err, boom)
	require.Nil(t, out)
}

type fakeHandle []float64

func (h fakeHandle) Parameters() []float64 { return h }

// fakeAdapter reports the phase correlation offset and resamples with it.
type fakeAdapter struct{}

func (fakeAdapter) Estimate(moving, fixed *ndarray.Array) (Handle, error) {
	d, err := transform.ComputeDisplacement(moving, fixed)
	if err != nil {
		return nil, err
	}
	return fakeHandle(d.Delta()), nil
}

func (fakeAdapter) Resample(image *ndarray.Array, h Handle) (*ndarray.Array, error) {
	return transform.NewDisplacement(h.Parameters()).Apply(image)
}

func TestExternalFit(t *testing.T) {
	reference := arange(t, 5, 5)
	images := []*ndarray.Array{roll(t, reference, []float64{1, 2})}

	alg, err := NewExternal(fakeAdapter{})
	require.NoError(t, err)
	model, err := alg.Fit(context.Background(), images, reference)
	require.NoError(t, err)
	require.Equal(t, "External", model.Algorithm)

	arr, err := model.ToArray()
	require.NoError(t, err)
	require.Equal(t, []float64{1, 2}, arr.Data())
	require.Equal(t, "AdapterTransform(parameters=[1 2])", model.Transformations[0].String())

	_, err = model.Transform(context.Background(), images, 1)
	require.NoError(t, err)
}

func TestExternalRequiresAdapter(t *testing.T) {
	_, err := NewExternal(nil)
	require.True(t, errors.Is(err, transform.ErrInvalidConfiguration))

	_, err = NewAdapterTransform(fakeAdapter{}, nil)
	require.True(t, errors.Is(err, transform.ErrInvalidConfiguration))

	_, err = (&AdapterTransform{}).Apply(ndarray.New(2, 2))
	require.True(t, errors.Is(err, transform.ErrInvalidConfiguration))
}

func TestScore(t *testing.T) {
	reference := arange(t, 4, 4)
	m, err := Score(reference, reference)
	require.NoError(t, err)
	require.InDelta(t, 0, m.RMSE, 1e-12)
	require.InDelta(t, 1, m.Correlation, 1e-12)
	require.InDelta(t, 1, m.SSIM, 1e-12)

	shifted := roll(t, reference, []float64{1, 1})
	worse, err := Score(shifted, reference)
	require.NoError(t, err)
	require.Greater(t, worse.RMSE, m.RMSE)
	require.Less(t, worse.Correlation, m.Correlation)

	_, err = Score(ndarray.New(2, 2), ndarray.New(3, 3))
	require.True(t, errors.Is(err, transform.ErrShapeMismatch))
}
