// Package visualization extracts and saves orthogonal slices of volumes,
// used to inspect aligned stacks.
package visualization

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"ndreg/pkg/imageio"
	"ndreg/pkg/ndarray"
)

// Viewer exposes the planes of a [depth, height, width] volume. Axis "z"
// indexes the first dimension, "y" the second and "x" the third.
type Viewer struct {
	// volume holds the voxel data in [z, y, x] order
	volume *ndarray.Array

	// dimensions of the volume
	width  int
	height int
	depth  int

	// format is the file extension used by SaveSliceSequence
	format string

	// normalize stretches each saved slice to the full intensity range
	normalize bool
}

// NewViewer creates a viewer over a rank 3 volume. Slices are saved as PNG.
func NewViewer(volume *ndarray.Array) (*Viewer, error) {
	if volume.NDim() != 3 {
		return nil, fmt.Errorf("%w: viewer needs a rank 3 volume, got %v", ndarray.ErrShapeMismatch, volume.Shape())
	}
	return &Viewer{
		volume: volume,
		depth:  volume.Dim(0),
		height: volume.Dim(1),
		width:  volume.Dim(2),
		format: "png",
	}, nil
}

// SetFormat selects the output format of SaveSliceSequence: "png", "jpg"
// or "tif".
func (v *Viewer) SetFormat(format string) error {
	if !imageio.IsImage("slice." + format) {
		return fmt.Errorf("%w: %q", imageio.ErrUnsupportedFormat, format)
	}
	v.format = format
	return nil
}

// SetNormalize controls whether saved slices are stretched from their own
// minimum and maximum instead of clamped to [0, 1].
func (v *Viewer) SetNormalize(normalize bool) { v.normalize = normalize }

// ExtractPlane returns the 2D plane at position along axis. X planes are
// laid out [y, z], Y planes [z, x] and Z planes [y, x].
func (v *Viewer) ExtractPlane(axis string, position int) (*ndarray.Array, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var plane *ndarray.Array
	switch axis {
	case "x", "X":
		if position >= v.width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.width)
		}
		plane = ndarray.New(v.height, v.depth)
		for y := 0; y < v.height; y++ {
			for z := 0; z < v.depth; z++ {
				plane.Set(v.volume.At(z, y, position), y, z)
			}
		}

	case "y", "Y":
		if position >= v.height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.height)
		}
		plane = ndarray.New(v.depth, v.width)
		for z := 0; z < v.depth; z++ {
			for x := 0; x < v.width; x++ {
				plane.Set(v.volume.At(z, position, x), z, x)
			}
		}

	case "z", "Z":
		if position >= v.depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.depth)
		}
		plane = v.volume.Index(position).Clone()

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return plane, nil
}

// ExtractSlice renders the plane at position along axis as a 16-bit
// grayscale image.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	plane, err := v.ExtractPlane(axis, position)
	if err != nil {
		return nil, err
	}
	return imageio.ToImage(plane, v.normalize)
}

// SaveSlice saves an extracted slice in the format implied by filename.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	return imageio.Encode(filename, img)
}

// SaveSliceSequence extracts and saves every slice along the specified axis
// as slice_<axis>_<position>.<format>.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.width
	case "y", "Y":
		maxPos = v.height
	case "z", "Z":
		maxPos = v.depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.%s", axis, pos, v.format))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
