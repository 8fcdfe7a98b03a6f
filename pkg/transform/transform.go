// Package transform estimates and applies translational alignment between
// n-dimensional arrays.
//
// ComputeDisplacement locates the integer offset between two arrays by phase
// correlation; ComputeLocalDisplacement does the same independently for every
// plane along one axis. The resulting values are immutable and safe to share
// between goroutines.
package transform

import (
	"ndreg/pkg/ndarray"
)

// Transformation is a spatial transform that can be applied to an array and
// exported as plain numbers.
type Transformation interface {
	// Apply returns a transformed copy of im with the same shape.
	Apply(im *ndarray.Array) (*ndarray.Array, error)

	// ToArray returns the transform parameters as an array.
	ToArray() *ndarray.Array

	String() string
}
