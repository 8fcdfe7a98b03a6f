// Package config provides configuration loading and management for ndreg.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"ndreg/pkg/interpolation"
	"ndreg/pkg/iterative"
	"ndreg/pkg/transform"
)

// Algorithm names accepted in the registration section.
const (
	AlgorithmCrossCorr = "crosscorr"
	AlgorithmIterative = "iterative"
)

// NoAxis disables axis-localized estimation.
const NoAxis = -1

// Config represents the application configuration loaded from YAML
type Config struct {
	// Registration parameters
	Registration struct {
		// Algorithm selects the estimator: "crosscorr" or "iterative"
		Algorithm string `yaml:"algorithm"`

		// Axis localizes cross-correlation estimates to planes along this
		// axis; -1 estimates one displacement per image
		Axis int `yaml:"axis"`

		// Workers bounds how many images are registered concurrently
		Workers int `yaml:"workers"`
	} `yaml:"registration"`

	// Interpolation parameters used when applying displacements
	Interpolation struct {
		// Order is the spline order: 0, 1 or 3
		Order int `yaml:"order"`

		// Mode is the boundary mode: "nearest", "wrap" or "constant"
		Mode string `yaml:"mode"`
	} `yaml:"interpolation"`

	// Iterative estimator parameters
	Iterative struct {
		// Metric is "meansquares" or "correlation"
		Metric string `yaml:"metric"`

		// Method is "nelder-mead" or "bfgs"
		Method string `yaml:"method"`

		// MaxIterations bounds the optimizer's major iterations
		MaxIterations int `yaml:"maxIterations"`

		// Tolerance is the absolute convergence threshold on the metric
		Tolerance float64 `yaml:"tolerance"`

		// Margin is the border width excluded from the metric
		Margin int `yaml:"margin"`
	} `yaml:"iterative"`

	// Output parameters
	Output struct {
		// Verbose prints per-image quality metrics
		Verbose bool `yaml:"verbose"`

		// LogLevel is one of debug, info, warn or error
		LogLevel string `yaml:"logLevel"`

		// LogFormat is "text" or "json"
		LogFormat string `yaml:"logFormat"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Registration.Algorithm = AlgorithmCrossCorr
	cfg.Registration.Axis = NoAxis
	cfg.Registration.Workers = runtime.NumCPU()

	interp := interpolation.DefaultOptions()
	cfg.Interpolation.Order = interp.Order
	cfg.Interpolation.Mode = interp.Mode.String()

	it := iterative.DefaultSettings()
	cfg.Iterative.Metric = it.Metric
	cfg.Iterative.Method = it.Method
	cfg.Iterative.MaxIterations = it.MaxIterations
	cfg.Iterative.Tolerance = it.Tolerance
	cfg.Iterative.Margin = it.Margin

	cfg.Output.Verbose = false
	cfg.Output.LogLevel = "info"
	cfg.Output.LogFormat = "text"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks every section, returning an error wrapping
// transform.ErrInvalidConfiguration for the first invalid value.
func (c *Config) Validate() error {
	switch c.Registration.Algorithm {
	case AlgorithmCrossCorr, AlgorithmIterative:
	default:
		return fmt.Errorf("%w: unknown algorithm %q", transform.ErrInvalidConfiguration, c.Registration.Algorithm)
	}
	if c.Registration.Axis < NoAxis {
		return fmt.Errorf("%w: axis must be -1 or a non-negative axis", transform.ErrInvalidConfiguration)
	}
	if c.Registration.Axis != NoAxis && c.Registration.Algorithm != AlgorithmCrossCorr {
		return fmt.Errorf("%w: axis is only supported by %s", transform.ErrInvalidConfiguration, AlgorithmCrossCorr)
	}
	if _, err := c.InterpolationOptions(); err != nil {
		return err
	}
	if _, err := c.IterativeSettings(); err != nil {
		return err
	}
	switch c.Output.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", transform.ErrInvalidConfiguration, c.Output.LogFormat)
	}
	return nil
}

// InterpolationOptions converts the interpolation section.
func (c *Config) InterpolationOptions() (interpolation.Options, error) {
	mode, err := interpolation.ParseMode(c.Interpolation.Mode)
	if err != nil {
		return interpolation.Options{}, fmt.Errorf("%w: %v", transform.ErrInvalidConfiguration, err)
	}
	opts := interpolation.Options{Order: c.Interpolation.Order, Mode: mode}
	if err := opts.Validate(); err != nil {
		return interpolation.Options{}, fmt.Errorf("%w: %v", transform.ErrInvalidConfiguration, err)
	}
	return opts, nil
}

// IterativeSettings converts the iterative section, resampling with the
// interpolation section's options.
func (c *Config) IterativeSettings() (iterative.Settings, error) {
	opts, err := c.InterpolationOptions()
	if err != nil {
		return iterative.Settings{}, err
	}
	s := iterative.Settings{
		Metric:        c.Iterative.Metric,
		Method:        c.Iterative.Method,
		MaxIterations: c.Iterative.MaxIterations,
		Tolerance:     c.Iterative.Tolerance,
		Margin:        c.Iterative.Margin,
		Interpolation: opts,
	}
	if err := s.Validate(); err != nil {
		return iterative.Settings{}, err
	}
	return s, nil
}
