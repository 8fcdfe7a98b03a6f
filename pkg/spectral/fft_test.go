package spectral

import (
	"errors"
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"ndreg/pkg/ndarray"
)

func randomArray(t *testing.T, seed int64, shape ...int) *ndarray.Array {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, ndarray.New(shape...).Size())
	for i := range data {
		data[i] = rng.Float64()
	}
	a, err := ndarray.FromSlice(data, shape...)
	require.NoError(t, err)
	return a
}

// naiveDFT evaluates the full n-dimensional DFT at one frequency index.
func naiveDFT(a *ndarray.Array, freq []int) complex128 {
	shape := a.Shape()
	data := a.Data()
	var sum complex128
	for flat, v := range data {
		idx := ndarray.Unravel(flat, shape)
		phase := 0.0
		for d, n := range shape {
			phase -= 2 * math.Pi * float64(freq[d]*idx[d]) / float64(n)
		}
		sum += complex(v, 0) * cmplx.Exp(complex(0, phase))
	}
	return sum
}

func TestForwardMatchesNaiveDFT(t *testing.T) {
	for _, shape := range [][]int{{7}, {4, 6}, {3, 5, 4}, {1, 5}, {5, 1}} {
		a := randomArray(t, 1, shape...)
		s, err := Forward(a)
		require.NoError(t, err)

		for flat, c := range s.coeffs {
			freq := ndarray.Unravel(flat, s.dims)
			want := naiveDFT(a, freq)
			if cmplx.Abs(c-want) > 1e-9 {
				t.Errorf("shape %v freq %v: got %v, want %v", shape, freq, c, want)
			}
		}
	}
}

func TestInverseRoundTrip(t *testing.T) {
	for _, shape := range [][]int{{8}, {5, 7}, {4, 3, 6}, {2, 1, 3}} {
		a := randomArray(t, 2, shape...)
		s, err := Forward(a)
		require.NoError(t, err)
		back, err := Inverse(s)
		require.NoError(t, err)
		require.Equal(t, shape, back.Shape())
		require.True(t, floats.EqualApprox(a.Data(), back.Data(), 1e-12), "shape %v", shape)
	}
}

func TestCrossCorrelationPeak(t *testing.T) {
	b := randomArray(t, 3, 6, 8)
	// a is b circularly shifted by (2, 3)
	a := ndarray.New(6, 8)
	for i := 0; i < 6; i++ {
		for j := 0; j < 8; j++ {
			a.Set(b.At((i-2+6)%6, (j-3+8)%8), i, j)
		}
	}

	c, err := CrossCorrelation(a, b)
	require.NoError(t, err)
	peak := floats.MaxIdx(c.Data())
	require.Equal(t, []int{2, 3}, ndarray.Unravel(peak, c.Shape()))
}

func TestForwardRejectsNonFinite(t *testing.T) {
	a := ndarray.New(4)
	a.Set(math.NaN(), 2)
	_, err := Forward(a)
	require.True(t, errors.Is(err, ErrNonFinite))
}

func TestMulConjShapeMismatch(t *testing.T) {
	a, err := Forward(ndarray.New(3, 3))
	require.NoError(t, err)
	b, err := Forward(ndarray.New(4, 4))
	require.NoError(t, err)
	require.True(t, errors.Is(a.MulConj(b), ndarray.ErrShapeMismatch))
}
