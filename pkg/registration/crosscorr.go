// Package registration fits translational registration models over
// collections of images or volumes against a common reference.
//
// The CrossCorr algorithm estimates one displacement per image by phase
// correlation, optionally localized to planes along an axis; External wraps
// any Adapter. Per-image estimates run concurrently through ParallelMap and
// are gathered in a Model keyed by image position.
package registration

import (
	"context"
	"fmt"
	"log/slog"

	"ndreg/pkg/ndarray"
	"ndreg/pkg/transform"
)

// Algorithm fits a registration model.
type Algorithm interface {
	Name() string
	Fit(ctx context.Context, images []*ndarray.Array, reference *ndarray.Array) (*Model, error)
}

type options struct {
	axis      int
	localized bool
	workers   int
	logger    *slog.Logger
}

// Option configures an algorithm.
type Option func(*options)

// WithAxis localizes CrossCorr displacements to planes along axis.
func WithAxis(axis int) Option {
	return func(o *options) {
		o.axis = axis
		o.localized = true
	}
}

// WithWorkers bounds the number of images processed concurrently.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithLogger sets the logger used for progress messages.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts []Option) options {
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// CrossCorr registers images by phase correlation.
type CrossCorr struct {
	opts options
}

// NewCrossCorr returns a cross-correlation algorithm.
func NewCrossCorr(opts ...Option) *CrossCorr {
	return &CrossCorr{opts: newOptions(opts)}
}

// Name returns the algorithm name recorded in fitted models.
func (c *CrossCorr) Name() string { return "CrossCorr" }

// Fit estimates the displacement of each image relative to the reference,
// or a LocalDisplacement per image when an axis was configured. A nil
// reference is replaced by the mean image.
func (c *CrossCorr) Fit(ctx context.Context, images []*ndarray.Array, reference *ndarray.Array) (*Model, error) {
	if err := checkImages(images); err != nil {
		return nil, err
	}
	reference, err := checkReference(images, reference)
	if err != nil {
		return nil, err
	}
	if c.opts.localized {
		if _, err := ndarray.NormalizeAxis(c.opts.axis, reference.NDim()); err != nil {
			return nil, fmt.Errorf("fit %s: %w: %v", c.Name(), transform.ErrInvalidConfiguration, err)
		}
	}

	log := c.opts.logger.With(slog.String("algorithm", c.Name()))
	log.Info("fitting registration model",
		slog.Int("images", len(images)),
		slog.Any("shape", reference.Shape()),
		slog.Bool("localized", c.opts.localized))

	results, err := ParallelMap(ctx, keyed(images), c.opts.workers,
		func(_ context.Context, key int, image *ndarray.Array) (transform.Transformation, error) {
			var t transform.Transformation
			if c.opts.localized {
				l, err := transform.ComputeLocalDisplacement(image, reference, c.opts.axis)
				if err != nil {
					return nil, err
				}
				t = l
			} else {
				d, err := transform.ComputeDisplacement(image, reference)
				if err != nil {
					return nil, err
				}
				t = d
			}
			log.Debug("estimated transform", slog.Int("key", key), slog.String("transform", t.String()))
			return t, nil
		})
	if err != nil {
		return nil, fmt.Errorf("fit %s: %w", c.Name(), err)
	}
	return NewModel(results, c.Name()), nil
}
