package transform

import (
	"errors"
	"fmt"

	"ndreg/pkg/ndarray"
)

var (
	// ErrShapeMismatch is returned when inputs have incompatible shapes.
	ErrShapeMismatch = ndarray.ErrShapeMismatch

	// ErrInvalidConfiguration is returned for a missing or invalid estimator
	// configuration, axis or transform handle.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrNumericCompute is returned when a Fourier transform or an
	// interpolation cannot be computed, e.g. on non-finite input.
	ErrNumericCompute = errors.New("numeric compute failure")
)

// ShapeMismatchError reports the two shapes that failed to match.
type ShapeMismatchError struct {
	A, B []int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch: %v and %v", e.A, e.B)
}

// Is lets errors.Is match ShapeMismatchError against ErrShapeMismatch.
func (e *ShapeMismatchError) Is(target error) bool {
	return target == ErrShapeMismatch
}

func shapeMismatch(a, b *ndarray.Array) error {
	return &ShapeMismatchError{A: a.Shape(), B: b.Shape()}
}

// numeric wraps a low-level failure as ErrNumericCompute, keeping shape and
// configuration errors as they are.
func numeric(op string, err error) error {
	if errors.Is(err, ErrShapeMismatch) || errors.Is(err, ErrInvalidConfiguration) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrNumericCompute, err)
}
