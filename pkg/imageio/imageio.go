// Package imageio converts between image files and ndarray arrays.
//
// Images load as [rows, cols] arrays of luminance in [0, 1]. A directory of
// slices loads as a [slices, rows, cols] volume, ordered by the number
// embedded in each file name.
package imageio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/floats"

	"ndreg/pkg/ndarray"
)

// ErrUnsupportedFormat is returned for file extensions that cannot be
// decoded or encoded.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// ErrNoImages is returned when a slice directory holds no readable images.
var ErrNoImages = errors.New("no images found")

// IsImage reports whether path has a supported image extension.
func IsImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff":
		return true
	}
	return false
}

// Load decodes a PNG, JPEG or TIFF image into a [rows, cols] array.
func Load(path string) (*ndarray.Array, error) {
	if !IsImage(path) {
		return nil, fmt.Errorf("load %s: %w", path, ErrUnsupportedFormat)
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return FromImage(img), nil
}

// FromImage converts img to a [rows, cols] array of luminance in [0, 1].
func FromImage(img image.Image) *ndarray.Array {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	out := ndarray.New(height, width)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
			out.Set(float64(g.Y)/65535.0, y, x)
		}
	}
	return out
}

// ToImage converts a [rows, cols] array to a 16-bit grayscale image. Values
// are clamped to [0, 1], or stretched from [min, max] when normalize is set.
func ToImage(a *ndarray.Array, normalize bool) (*image.Gray16, error) {
	if a.NDim() != 2 {
		return nil, fmt.Errorf("%w: image needs a rank 2 array, got %v", ndarray.ErrShapeMismatch, a.Shape())
	}
	height, width := a.Dim(0), a.Dim(1)

	lo, scale := 0.0, 1.0
	if normalize {
		data := a.Data()
		hi := floats.Max(data)
		lo = floats.Min(data)
		scale = 0
		if hi > lo {
			scale = 1 / (hi - lo)
		}
	}
	return toGray16(a, height, width, lo, scale), nil
}

func toGray16(a *ndarray.Array, height, width int, lo, scale float64) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := (a.At(y, x) - lo) * scale
			value := uint16(math.Round(math.Max(0, math.Min(65535, v*65535))))
			img.SetGray16(x, y, color.Gray16{Y: value})
		}
	}
	return img
}

// Save writes a [rows, cols] array to path, choosing PNG, JPEG or TIFF from
// the extension.
func Save(path string, a *ndarray.Array, normalize bool) error {
	img, err := ToImage(a, normalize)
	if err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return Encode(path, img)
}

// Encode writes img to path in the format implied by its extension.
func Encode(path string, img image.Image) error {
	ext := strings.ToLower(filepath.Ext(path))
	if !IsImage(path) {
		return fmt.Errorf("encode %s: %w", path, ErrUnsupportedFormat)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}

	switch ext {
	case ".png":
		err = png.Encode(file, img)
	case ".jpg", ".jpeg":
		err = jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		err = tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate})
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to encode image %s: %w", path, err)
	}
	return nil
}

// ListSlices returns the image files in dir sorted by the number embedded in
// their names, falling back to the name itself on ties.
func ListSlices(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && IsImage(e.Name()) {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoImages, dir)
	}

	sort.SliceStable(files, func(i, j int) bool {
		numI, numJ := extractNumber(files[i]), extractNumber(files[j])
		if numI != numJ {
			return numI < numJ
		}
		return files[i] < files[j]
	})

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = filepath.Join(dir, f)
	}
	return paths, nil
}

// LoadVolume loads the slices in dir as a [slices, rows, cols] volume. All
// slices must share the same dimensions.
func LoadVolume(dir string) (*ndarray.Array, error) {
	paths, err := ListSlices(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load slices: %w", err)
	}
	slices := make([]*ndarray.Array, len(paths))
	for i, p := range paths {
		if slices[i], err = Load(p); err != nil {
			return nil, err
		}
	}
	vol, err := ndarray.Stack(slices)
	if err != nil {
		return nil, fmt.Errorf("failed to stack slices from %s: %w", dir, err)
	}
	return vol, nil
}

// LoadPath loads a single image file, or a volume when path is a directory.
func LoadPath(path string) (*ndarray.Array, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return LoadVolume(path)
	}
	return Load(path)
}

// extractNumber concatenates the digits of a file's base name, so that
// "slice_12.png" sorts after "slice_9.png".
func extractNumber(filename string) int {
	base := filepath.Base(filename)
	var digits strings.Builder
	for _, c := range base {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() > 0 {
		if num, err := strconv.Atoi(digits.String()); err == nil {
			return num
		}
	}
	return 0
}
