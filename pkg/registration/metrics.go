package registration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"ndreg/pkg/ndarray"
	"ndreg/pkg/transform"
)

// Metrics summarizes how closely an aligned image matches its reference.
type Metrics struct {
	// RMSE is the root mean square intensity difference. Lower is better.
	RMSE float64

	// Correlation is the Pearson correlation of intensities, in [-1, 1].
	Correlation float64

	// SSIM is the global structural similarity index, with the dynamic
	// range taken from the reference.
	SSIM float64

	// MI approximates mutual information under a Gaussian model.
	MI float64
}

// Score compares an aligned image with the reference.
func Score(aligned, reference *ndarray.Array) (Metrics, error) {
	if !aligned.SameShape(reference) {
		return Metrics{}, fmt.Errorf("score: %w", &transform.ShapeMismatchError{A: aligned.Shape(), B: reference.Shape()})
	}
	x := aligned.Data()
	y := reference.Data()
	if len(x) < 2 {
		return Metrics{}, fmt.Errorf("score: %w: need at least two elements", transform.ErrInvalidConfiguration)
	}

	return Metrics{
		RMSE:        calculateRMSE(x, y),
		Correlation: calculateCorrelation(x, y),
		SSIM:        calculateSSIM(x, y, floats.Max(y)-floats.Min(y)),
		MI:          calculateMutualInformation(x, y),
	}, nil
}

func (m Metrics) String() string {
	return fmt.Sprintf("rmse=%.6f corr=%.4f ssim=%.4f mi=%.4f", m.RMSE, m.Correlation, m.SSIM, m.MI)
}

// calculateRMSE computes the root mean square error
func calculateRMSE(x, y []float64) float64 {
	mse := 0.0
	for i := range x {
		diff := x[i] - y[i]
		mse += diff * diff
	}
	return math.Sqrt(mse / float64(len(x)))
}

// calculateCorrelation is the Pearson correlation, 0 when either input is
// constant.
func calculateCorrelation(x, y []float64) float64 {
	if stat.Variance(x, nil) == 0 || stat.Variance(y, nil) == 0 {
		return 0
	}
	return stat.Correlation(x, y, nil)
}

// calculateSSIM computes the Structural Similarity Index over the whole image
func calculateSSIM(x, y []float64, dynamicRange float64) float64 {
	const k1 = 0.01
	const k2 = 0.03
	if dynamicRange <= 0 {
		dynamicRange = 1
	}
	c1 := (k1 * dynamicRange) * (k1 * dynamicRange)
	c2 := (k2 * dynamicRange) * (k2 * dynamicRange)

	muX := stat.Mean(x, nil)
	muY := stat.Mean(y, nil)
	sigmaX := stat.Variance(x, nil)
	sigmaY := stat.Variance(y, nil)
	sigmaXY := stat.Covariance(x, y, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)
	if den > 0 {
		return num / den
	}
	return 0
}

// calculateMutualInformation approximates MI as
// 0.5 * log(var(X) var(Y) / (var(X) var(Y) - cov(X,Y)^2)).
func calculateMutualInformation(x, y []float64) float64 {
	varX := stat.Variance(x, nil)
	varY := stat.Variance(y, nil)
	cov := stat.Covariance(x, y, nil)
	if varX > 0 && varY > 0 {
		det := varX*varY - cov*cov
		if det > 0 {
			return 0.5 * math.Log(varX*varY/det)
		}
		return math.Inf(1)
	}
	return 0
}
