package main

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"ndreg/pkg/config"
	"ndreg/pkg/imageio"
	"ndreg/pkg/interpolation"
	"ndreg/pkg/ndarray"
	"ndreg/pkg/transform"
)

func texture(t *testing.T, seed int64, shape ...int) *ndarray.Array {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, ndarray.New(shape...).Size())
	for i := range data {
		data[i] = 0.1 + 0.8*rng.Float64()
	}
	a, err := ndarray.FromSlice(data, shape...)
	require.NoError(t, err)
	return a
}

func rolled(t *testing.T, a *ndarray.Array, d ...float64) *ndarray.Array {
	t.Helper()
	out, err := interpolation.Shift(a, d, interpolation.Options{Order: 0, Mode: interpolation.Wrap})
	require.NoError(t, err)
	return out
}

// execute runs ndreg with a config path that does not exist, so defaults apply.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cfg := filepath.Join(t.TempDir(), "missing.yaml")
	err := run(context.Background(), &out, &errOut, append([]string{args[0], "-c", cfg}, args[1:]...))
	return out.String(), errOut.String(), err
}

func TestEstimateImages(t *testing.T) {
	dir := t.TempDir()
	reference := texture(t, 1, 16, 16)
	ref := filepath.Join(dir, "ref.png")
	m1 := filepath.Join(dir, "m1.png")
	m2 := filepath.Join(dir, "m2.png")
	require.NoError(t, imageio.Save(ref, reference, false))
	require.NoError(t, imageio.Save(m1, rolled(t, reference, 1, 2), false))
	require.NoError(t, imageio.Save(m2, rolled(t, reference, -3, 1), false))

	out, logs, err := execute(t, "estimate", "-r", ref, "--metrics", m1, m2)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	require.Equal(t, "0\t"+m1+"\tDisplacement(delta=[1 2])", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "\trmse="))
	require.Equal(t, "1\t"+m2+"\tDisplacement(delta=[-3 1])", lines[2])
	require.Contains(t, logs, "registration finished")
}

func TestEstimateVolumeAlongAxis(t *testing.T) {
	dir := t.TempDir()
	reference := texture(t, 2, 3, 12, 12)
	moving := ndarray.New(3, 12, 12)
	shifts := [][]float64{{1, 2}, {-2, 1}, {0, 3}}
	for i, s := range shifts {
		require.NoError(t, moving.Index(i).CopyFrom(rolled(t, reference.Index(i), s...)))
	}

	for name, vol := range map[string]*ndarray.Array{"ref": reference, "moving": moving} {
		for i := 0; i < 3; i++ {
			path := filepath.Join(dir, name, "slice_"+string(rune('0'+i))+".png")
			require.NoError(t, imageio.Save(path, vol.Index(i), false))
		}
	}

	out, _, err := execute(t, "estimate", "--axis", "0", "-r", filepath.Join(dir, "ref"), filepath.Join(dir, "moving"))
	require.NoError(t, err)
	require.Contains(t, out, "LocalDisplacement(delta=[[1 2] [-2 1] [0 3]])")
}

func TestAlignWritesRealignedImages(t *testing.T) {
	dir := t.TempDir()
	reference := texture(t, 3, 16, 16)
	ref := filepath.Join(dir, "ref.png")
	moving := filepath.Join(dir, "moving.png")
	require.NoError(t, imageio.Save(ref, reference, false))
	require.NoError(t, imageio.Save(moving, rolled(t, reference, 1, 2), false))

	outDir := filepath.Join(dir, "aligned")
	_, _, err := execute(t, "align", "-r", ref, moving, "--out", outDir)
	require.NoError(t, err)

	aligned, err := imageio.Load(filepath.Join(outDir, "000_moving.png"))
	require.NoError(t, err)
	want, err := imageio.Load(ref)
	require.NoError(t, err)
	for i := 0; i < 15; i++ {
		for j := 0; j < 14; j++ {
			require.InDelta(t, want.At(i, j), aligned.At(i, j), 1e-9)
		}
	}
}

func TestAlignVolume(t *testing.T) {
	dir := t.TempDir()
	reference := texture(t, 4, 2, 8, 8)
	for i := 0; i < 2; i++ {
		require.NoError(t, imageio.Save(filepath.Join(dir, "ref", "s"+string(rune('0'+i))+".png"), reference.Index(i), false))
		require.NoError(t, imageio.Save(filepath.Join(dir, "vol", "s"+string(rune('0'+i))+".png"), reference.Index(i), false))
	}

	outDir := filepath.Join(dir, "aligned")
	_, _, err := execute(t, "align", "-r", filepath.Join(dir, "ref"), filepath.Join(dir, "vol"), "--out", outDir, "--format", "tif")
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(outDir, "000_vol", "slice_z_001.tif"))
	require.NoError(t, err)
}

func TestAlignNormalize(t *testing.T) {
	dir := t.TempDir()
	reference := texture(t, 5, 16, 16)
	ref := filepath.Join(dir, "ref.png")
	moving := filepath.Join(dir, "moving.png")
	require.NoError(t, imageio.Save(ref, reference, false))
	require.NoError(t, imageio.Save(moving, rolled(t, reference, 2, -1), false))

	outDir := filepath.Join(dir, "aligned")
	_, _, err := execute(t, "align", "--normalize", "-r", ref, moving, "--out", outDir)
	require.NoError(t, err)

	aligned, err := imageio.Load(filepath.Join(outDir, "000_moving.png"))
	require.NoError(t, err)
	require.InDelta(t, 0, floats.Min(aligned.Data()), 1e-9)
	require.InDelta(t, 1, floats.Max(aligned.Data()), 1e-9)

	// without the flag the texture keeps its [0.1, 0.9] range
	plain := filepath.Join(dir, "plain")
	_, _, err = execute(t, "align", "-r", ref, moving, "--out", plain)
	require.NoError(t, err)
	aligned, err = imageio.Load(filepath.Join(plain, "000_moving.png"))
	require.NoError(t, err)
	require.Greater(t, floats.Min(aligned.Data()), 0.05)
	require.Less(t, floats.Max(aligned.Data()), 0.95)
}

func TestAlignRequiresOut(t *testing.T) {
	_, _, err := execute(t, "align", "input.png")
	require.ErrorContains(t, err, "--out")
}

func TestInvalidAlgorithm(t *testing.T) {
	_, _, err := execute(t, "estimate", "--algorithm", "elastic", "input.png")
	require.True(t, errors.Is(err, transform.ErrInvalidConfiguration))

	_, _, err = execute(t, "estimate", "--algorithm", "iterative", "--axis", "0", "input.png")
	require.True(t, errors.Is(err, transform.ErrInvalidConfiguration))
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "ndreg.yaml")
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), &out, &out, []string{"config", "init", path}))
	require.Contains(t, out.String(), path)

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, config.DefaultConfig(), cfg)
}

func TestWorkersFlagOverridesConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "ndreg.yaml")
	require.NoError(t, config.CreateDefaultConfigFile(cfgPath))

	reference := texture(t, 5, 8, 8)
	ref := filepath.Join(dir, "ref.png")
	require.NoError(t, imageio.Save(ref, reference, false))

	var out, logs bytes.Buffer
	err := run(context.Background(), &out, &logs, []string{
		"estimate", "-c", cfgPath, "--workers", "1", "--log-level", "debug", "--log-format", "json", "-r", ref, ref,
	})
	require.NoError(t, err)
	require.Contains(t, out.String(), "Displacement(delta=[0 0])")
	require.Contains(t, logs.String(), `"msg":"estimated transform"`)
}
