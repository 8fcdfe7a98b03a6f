package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"ndreg/internal/logging"
	"ndreg/pkg/config"
)

// app carries the state shared by every subcommand.
type app struct {
	cfgFile   string
	workers   int
	logLevel  string
	logFormat string

	cfg *config.Config
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "ndreg",
		Short: "Translational registration of n-dimensional images",
		Long: `ndreg estimates the translation of each input image or volume relative to
a reference and can resample the inputs back into the reference frame.

Inputs are PNG, JPEG or TIFF files (2D) or directories of numbered slices (3D).`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "ndreg.yaml", "config file")
	root.PersistentFlags().IntVarP(&a.workers, "workers", "w", 0, "images registered concurrently (default: from config)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(newEstimateCmd(a), newAlignCmd(a), newConfigCmd())
	return root
}

// setup loads the configuration, applies flag overrides and builds the
// logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(a.cfgFile)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Registration.Workers = a.workers
	}
	if flags.Changed("log-level") {
		cfg.Output.LogLevel = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Output.LogFormat = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.cfg = cfg
	a.log = logging.New(cfg.Output.LogLevel, cfg.Output.LogFormat, cmd.ErrOrStderr())
	return nil
}
