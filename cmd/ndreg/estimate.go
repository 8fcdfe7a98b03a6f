package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ndreg/internal/models"
	"ndreg/pkg/config"
	"ndreg/pkg/imageio"
	"ndreg/pkg/interpolation"
	"ndreg/pkg/iterative"
	"ndreg/pkg/ndarray"
	"ndreg/pkg/registration"
	"ndreg/pkg/transform"
	"ndreg/pkg/visualization"
)

// fitFlags are shared by estimate and align.
type fitFlags struct {
	reference string
	algorithm string
	axis      int
	metrics   bool
}

func (f *fitFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.reference, "reference", "r", "", "reference image or slice directory (default: mean of the inputs)")
	cmd.Flags().StringVarP(&f.algorithm, "algorithm", "a", "", "crosscorr or iterative (default: from config)")
	cmd.Flags().IntVar(&f.axis, "axis", config.NoAxis, "estimate one displacement per plane along this axis")
	cmd.Flags().BoolVar(&f.metrics, "metrics", false, "print quality metrics of the aligned inputs")
}

// apply copies the flags that were set onto the configuration.
func (f *fitFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("algorithm") {
		cfg.Registration.Algorithm = strings.ToLower(f.algorithm)
	}
	if cmd.Flags().Changed("axis") {
		cfg.Registration.Axis = f.axis
	}
	if f.metrics {
		cfg.Output.Verbose = true
	}
	return cfg.Validate()
}

func newEstimateCmd(a *app) *cobra.Command {
	var flags fitFlags
	cmd := &cobra.Command{
		Use:   "estimate [flags] inputs...",
		Short: "Estimate the displacement of each input",
		Long: `Estimate the displacement of each input relative to the reference and print
one row per input.

Examples:
  # Integer displacement of two images against a reference
  ndreg estimate -r ref.png moving1.png moving2.png

  # One displacement per slice of a volume
  ndreg estimate --axis 0 -r ref_slices/ moving_slices/

  # Sub-pixel estimation with quality metrics
  ndreg estimate -a iterative --metrics -r ref.tif moving.tif`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.apply(cmd, a.cfg); err != nil {
				return err
			}
			_, err := a.register(cmd.Context(), cmd.OutOrStdout(), flags.reference, args)
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

func newAlignCmd(a *app) *cobra.Command {
	var flags fitFlags
	var outDir string
	var format string
	var normalize bool
	cmd := &cobra.Command{
		Use:   "align [flags] inputs... --out DIR",
		Short: "Estimate displacements and write the realigned inputs",
		Long: `Estimate the displacement of each input, resample it into the reference
frame and write it to the output directory. Images are written as
<name>.<format>; volumes as a directory of z slices.

Examples:
  ndreg align -r ref.png moving.png --out aligned/
  ndreg align --axis 0 -r ref_slices/ moving_slices/ --out aligned/ --format tif

  # Stretch each written image to the full gray range
  ndreg align --normalize -r ref.tif moving.tif --out aligned/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.apply(cmd, a.cfg); err != nil {
				return err
			}
			if outDir == "" {
				return fmt.Errorf("--out is required")
			}
			if !imageio.IsImage("aligned." + format) {
				return fmt.Errorf("%w: %q", imageio.ErrUnsupportedFormat, format)
			}
			aligned, err := a.register(cmd.Context(), cmd.OutOrStdout(), flags.reference, args)
			if err != nil {
				return err
			}
			return a.write(aligned, outDir, format, normalize)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory")
	cmd.Flags().StringVar(&format, "format", "png", "output format: png, jpg or tif")
	cmd.Flags().BoolVar(&normalize, "normalize", false, "stretch each written image from its own min and max")
	return cmd
}

// register loads the inputs, fits the configured algorithm and prints one
// row per input, followed by quality metrics when verbose. It returns the
// inputs with their data resampled into the reference frame.
func (a *app) register(ctx context.Context, w io.Writer, referencePath string, inputs []string) ([]models.Input, error) {
	loaded, err := models.LoadInputs(inputs)
	if err != nil {
		return nil, err
	}
	images := models.Arrays(loaded)

	var reference *ndarray.Array
	if referencePath != "" {
		ref, err := imageio.LoadPath(referencePath)
		if err != nil {
			return nil, fmt.Errorf("reference %s: %w", referencePath, err)
		}
		reference = ref
	}

	alg, err := a.algorithm()
	if err != nil {
		return nil, err
	}
	opts, err := a.cfg.InterpolationOptions()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	model, err := alg.Fit(ctx, images, reference)
	if err != nil {
		return nil, err
	}
	a.log.Info("registration finished",
		slog.String("algorithm", model.Algorithm),
		slog.Int("images", len(images)),
		slog.Duration("elapsed", time.Since(start)))

	aligned, err := alignAll(ctx, model, images, opts, a.cfg.Registration.Workers)
	if err != nil {
		return nil, err
	}

	if reference == nil {
		if reference, err = ndarray.Mean(images); err != nil {
			return nil, err
		}
	}
	for _, key := range model.Keys() {
		fmt.Fprintf(w, "%d\t%s\t%s\n", key, loaded[key].Path, model.Transformations[key])
		if !a.cfg.Output.Verbose {
			continue
		}
		m, err := registration.Score(aligned[key], reference)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(w, "\t%s\n", m)
	}
	out := make([]models.Input, len(loaded))
	for i, in := range loaded {
		out[i] = models.Input{Index: in.Index, Path: in.Path, Data: aligned[i]}
	}
	return out, nil
}

// algorithm builds the configured registration algorithm.
func (a *app) algorithm() (registration.Algorithm, error) {
	opts := []registration.Option{
		registration.WithWorkers(a.cfg.Registration.Workers),
		registration.WithLogger(a.log),
	}

	switch a.cfg.Registration.Algorithm {
	case config.AlgorithmIterative:
		settings, err := a.cfg.IterativeSettings()
		if err != nil {
			return nil, err
		}
		est, err := iterative.NewEstimator(settings)
		if err != nil {
			return nil, err
		}
		return registration.NewExternal(est, opts...)
	default:
		if a.cfg.Registration.Axis != config.NoAxis {
			opts = append(opts, registration.WithAxis(a.cfg.Registration.Axis))
		}
		return registration.NewCrossCorr(opts...), nil
	}
}

// alignAll resamples every image with its transformation, honoring the
// configured interpolation for displacement transforms.
func alignAll(ctx context.Context, model *registration.Model, images []*ndarray.Array, opts interpolation.Options, workers int) ([]*ndarray.Array, error) {
	inputs := make(map[int]*ndarray.Array, len(images))
	for i, im := range images {
		inputs[i] = im
	}

	out, err := registration.ParallelMap(ctx, inputs, workers,
		func(_ context.Context, key int, im *ndarray.Array) (*ndarray.Array, error) {
			switch t := model.Transformations[key].(type) {
			case transform.Displacement:
				return t.ApplyWith(im, opts)
			case transform.LocalDisplacement:
				return t.ApplyWith(im, opts)
			case nil:
				return nil, fmt.Errorf("%w: no transformation for image %d", transform.ErrInvalidConfiguration, key)
			default:
				return t.Apply(im)
			}
		})
	if err != nil {
		return nil, fmt.Errorf("align: %w", err)
	}

	aligned := make([]*ndarray.Array, len(images))
	for i := range aligned {
		aligned[i] = out[i]
	}
	return aligned, nil
}

// write saves each aligned input under outDir, named after the input. With
// normalize, every image or slice is stretched to the full gray range;
// otherwise samples are clipped to [0, 1].
func (a *app) write(aligned []models.Input, outDir, format string, normalize bool) error {
	for _, in := range aligned {
		switch in.Kind() {
		case models.Image:
			path := filepath.Join(outDir, in.Name()+"."+format)
			if err := imageio.Save(path, in.Data, normalize); err != nil {
				return err
			}
			a.log.Info("wrote aligned image", slog.String("path", path))
		case models.Volume:
			viewer, err := visualization.NewViewer(in.Data)
			if err != nil {
				return err
			}
			if err := viewer.SetFormat(format); err != nil {
				return err
			}
			viewer.SetNormalize(normalize)
			dir := filepath.Join(outDir, in.Name())
			if err := viewer.SaveSliceSequence("z", dir); err != nil {
				return fmt.Errorf("failed to save slices of %s: %w", in.Path, err)
			}
			a.log.Info("wrote aligned volume", slog.String("dir", dir), slog.Int("slices", in.Data.Dim(0)))
		}
	}
	return nil
}
