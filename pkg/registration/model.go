package registration

import (
	"context"
	"fmt"
	"sort"

	"ndreg/pkg/ndarray"
	"ndreg/pkg/transform"
)

// Model holds the transformations estimated for a collection, keyed by the
// position of each image in the collection.
type Model struct {
	// Transformations maps image keys to their estimated transforms
	Transformations map[int]transform.Transformation

	// Algorithm is the name of the algorithm that produced the model
	Algorithm string
}

// NewModel returns a model over the given transformations.
func NewModel(transformations map[int]transform.Transformation, algorithm string) *Model {
	return &Model{Transformations: transformations, Algorithm: algorithm}
}

// Keys returns the model keys in ascending order.
func (m *Model) Keys() []int {
	keys := make([]int, 0, len(m.Transformations))
	for k := range m.Transformations {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// ToArray stacks the parameters of every transformation in key order.
func (m *Model) ToArray() (*ndarray.Array, error) {
	keys := m.Keys()
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: empty model", transform.ErrInvalidConfiguration)
	}
	arrays := make([]*ndarray.Array, len(keys))
	for i, k := range keys {
		arrays[i] = m.Transformations[k].ToArray()
	}
	return ndarray.Stack(arrays)
}

// Transform applies the transformation stored under each image's position
// to that image, processing up to workers images concurrently.
func (m *Model) Transform(ctx context.Context, images []*ndarray.Array, workers int) ([]*ndarray.Array, error) {
	for i := range images {
		if _, ok := m.Transformations[i]; !ok {
			return nil, fmt.Errorf("%w: no transformation for image %d", transform.ErrInvalidConfiguration, i)
		}
	}

	results, err := ParallelMap(ctx, keyed(images), workers,
		func(_ context.Context, key int, image *ndarray.Array) (*ndarray.Array, error) {
			return m.Transformations[key].Apply(image)
		})
	if err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}

	out := make([]*ndarray.Array, len(images))
	for i := range out {
		out[i] = results[i]
	}
	return out, nil
}

func (m *Model) String() string {
	return fmt.Sprintf("RegistrationModel(algorithm=%s, transformations=%d)", m.Algorithm, len(m.Transformations))
}
