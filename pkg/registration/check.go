package registration

import (
	"fmt"

	"ndreg/pkg/ndarray"
	"ndreg/pkg/transform"
)

// checkImages requires a non-empty collection of equally shaped 2-D images
// or 3-D volumes.
func checkImages(images []*ndarray.Array) error {
	if len(images) == 0 {
		return fmt.Errorf("%w: no images to register", transform.ErrInvalidConfiguration)
	}
	first := images[0]
	if first == nil {
		return fmt.Errorf("%w: image 0 is nil", transform.ErrInvalidConfiguration)
	}
	if nd := first.NDim(); nd != 2 && nd != 3 {
		return fmt.Errorf("%w: number of image dimensions %d must be 2 or 3", transform.ErrShapeMismatch, nd)
	}
	for i, im := range images[1:] {
		if im == nil {
			return fmt.Errorf("%w: image %d is nil", transform.ErrInvalidConfiguration, i+1)
		}
		if !im.SameShape(first) {
			return fmt.Errorf("image %d: %w", i+1, &transform.ShapeMismatchError{A: im.Shape(), B: first.Shape()})
		}
	}
	return nil
}

// checkReference ensures the reference matches the image shape, using the
// mean image when no reference is given.
func checkReference(images []*ndarray.Array, reference *ndarray.Array) (*ndarray.Array, error) {
	if reference == nil {
		return ndarray.Mean(images)
	}
	if !reference.SameShape(images[0]) {
		return nil, fmt.Errorf("reference: %w", &transform.ShapeMismatchError{A: images[0].Shape(), B: reference.Shape()})
	}
	return reference, nil
}
