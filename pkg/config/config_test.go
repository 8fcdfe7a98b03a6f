package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"ndreg/pkg/interpolation"
	"ndreg/pkg/iterative"
	"ndreg/pkg/transform"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, AlgorithmCrossCorr, cfg.Registration.Algorithm)
	require.Equal(t, NoAxis, cfg.Registration.Axis)

	opts, err := cfg.InterpolationOptions()
	require.NoError(t, err)
	require.Equal(t, interpolation.DefaultOptions(), opts)

	s, err := cfg.IterativeSettings()
	require.NoError(t, err)
	require.Equal(t, iterative.DefaultSettings(), s)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ndreg.yaml")

	cfg := DefaultConfig()
	cfg.Registration.Algorithm = AlgorithmCrossCorr
	cfg.Registration.Axis = 0
	cfg.Registration.Workers = 3
	cfg.Interpolation.Order = 1
	cfg.Interpolation.Mode = "wrap"
	cfg.Iterative.Method = iterative.BFGS
	cfg.Output.LogFormat = "json"
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestLoadConfigPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ndreg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("registration:\n  algorithm: iterative\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, AlgorithmIterative, cfg.Registration.Algorithm)
	require.Equal(t, DefaultConfig().Iterative, cfg.Iterative)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ndreg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interpolation:\n  order: 2\n"), 0644))

	_, err := LoadConfig(path)
	require.True(t, errors.Is(err, transform.ErrInvalidConfiguration))

	require.NoError(t, os.WriteFile(path, []byte("registration: [\n"), 0644))
	_, err = LoadConfig(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"algorithm":      func(c *Config) { c.Registration.Algorithm = "elastic" },
		"axis":           func(c *Config) { c.Registration.Axis = -2 },
		"iterative axis": func(c *Config) { c.Registration.Algorithm = AlgorithmIterative; c.Registration.Axis = 0 },
		"mode":           func(c *Config) { c.Interpolation.Mode = "mirror" },
		"metric":         func(c *Config) { c.Iterative.Metric = "mattes" },
		"log format":     func(c *Config) { c.Output.LogFormat = "xml" },
		"max iterations": func(c *Config) { c.Iterative.MaxIterations = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			require.True(t, errors.Is(cfg.Validate(), transform.ErrInvalidConfiguration))
		})
	}
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ndreg.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "algorithm: crosscorr")
	require.Contains(t, string(data), "maxIterations: 2000")
}
