package registration

import (
	"context"
	"fmt"
	"log/slog"

	"ndreg/pkg/ndarray"
	"ndreg/pkg/transform"
)

// Handle is an opaque transform produced by an Adapter.
type Handle interface {
	// Parameters returns the transform parameters as plain numbers.
	Parameters() []float64
}

// Adapter is a general-purpose registration optimizer. Implementations
// exchange plain arrays and opaque handles only and must be safe for
// concurrent use.
type Adapter interface {
	// Estimate finds the transform that maps moving onto fixed.
	Estimate(moving, fixed *ndarray.Array) (Handle, error)

	// Resample applies a handle returned by Estimate to image.
	Resample(image *ndarray.Array, h Handle) (*ndarray.Array, error)
}

// AdapterTransform exposes an Adapter handle as a transform.Transformation.
type AdapterTransform struct {
	adapter Adapter
	handle  Handle
}

// NewAdapterTransform binds a handle to the adapter that produced it.
func NewAdapterTransform(adapter Adapter, h Handle) (*AdapterTransform, error) {
	if adapter == nil {
		return nil, fmt.Errorf("%w: nil adapter", transform.ErrInvalidConfiguration)
	}
	if h == nil {
		return nil, fmt.Errorf("%w: nil transform handle", transform.ErrInvalidConfiguration)
	}
	return &AdapterTransform{adapter: adapter, handle: h}, nil
}

// Apply resamples im through the adapter.
func (t *AdapterTransform) Apply(im *ndarray.Array) (*ndarray.Array, error) {
	if t.adapter == nil || t.handle == nil {
		return nil, fmt.Errorf("%w: unbound adapter transform", transform.ErrInvalidConfiguration)
	}
	return t.adapter.Resample(im, t.handle)
}

// ToArray returns the handle parameters as a rank-1 array.
func (t *AdapterTransform) ToArray() *ndarray.Array {
	p := t.handle.Parameters()
	a, _ := ndarray.FromSlice(append([]float64(nil), p...), len(p))
	return a
}

func (t *AdapterTransform) String() string {
	return fmt.Sprintf("AdapterTransform(parameters=%v)", t.handle.Parameters())
}

// External registers images with a user-supplied Adapter.
type External struct {
	adapter Adapter
	opts    options
}

// NewExternal returns an algorithm delegating estimation to adapter.
func NewExternal(adapter Adapter, opts ...Option) (*External, error) {
	if adapter == nil {
		return nil, fmt.Errorf("%w: adapter is required", transform.ErrInvalidConfiguration)
	}
	return &External{adapter: adapter, opts: newOptions(opts)}, nil
}

// Name returns the algorithm name recorded in fitted models.
func (e *External) Name() string { return "External" }

// Fit estimates a transform between each image and the reference; a nil
// reference is replaced by the mean image.
func (e *External) Fit(ctx context.Context, images []*ndarray.Array, reference *ndarray.Array) (*Model, error) {
	if err := checkImages(images); err != nil {
		return nil, err
	}
	reference, err := checkReference(images, reference)
	if err != nil {
		return nil, err
	}

	log := e.opts.logger.With(slog.String("algorithm", e.Name()))
	log.Info("fitting registration model", slog.Int("images", len(images)), slog.Any("shape", reference.Shape()))

	results, err := ParallelMap(ctx, keyed(images), e.opts.workers,
		func(_ context.Context, key int, image *ndarray.Array) (transform.Transformation, error) {
			h, err := e.adapter.Estimate(image, reference)
			if err != nil {
				return nil, err
			}
			t, err := NewAdapterTransform(e.adapter, h)
			if err != nil {
				return nil, err
			}
			log.Debug("estimated transform", handleAttrs(key, h)...)
			return t, nil
		})
	if err != nil {
		return nil, fmt.Errorf("fit %s: %w", e.Name(), err)
	}
	return NewModel(results, e.Name()), nil
}

// handleAttrs describes h for debug logging, including the metric value and
// the handle's own rendering when the adapter provides them.
func handleAttrs(key int, h Handle) []any {
	attrs := []any{slog.Int("key", key), slog.Any("parameters", h.Parameters())}
	if v, ok := h.(interface{ Value() float64 }); ok {
		attrs = append(attrs, slog.Float64("metric", v.Value()))
	}
	if s, ok := h.(fmt.Stringer); ok {
		attrs = append(attrs, slog.String("transform", s.String()))
	}
	return attrs
}
