package models

import (
	"fmt"
	"path/filepath"
	"strings"

	"ndreg/pkg/imageio"
	"ndreg/pkg/ndarray"
)

// Kind distinguishes single images from slice volumes.
type Kind int

const (
	Image Kind = iota
	Volume
)

func (k Kind) String() string {
	switch k {
	case Image:
		return "image"
	case Volume:
		return "volume"
	default:
		return "unknown"
	}
}

// Input is one array handed to registration, with where it came from
type Input struct {
	// Index is the position of this input in the collection and its model key
	Index int

	// Path is the file or slice directory the data was loaded from
	Path string

	// Data is the loaded array: [rows, cols] or [slices, rows, cols]
	Data *ndarray.Array
}

// Kind reports whether the input is an image or a volume.
func (in Input) Kind() Kind {
	if in.Data != nil && in.Data.NDim() == 3 {
		return Volume
	}
	return Image
}

// Name is the output name of the input: its position followed by the base
// name of its path without extension, e.g. "002_moving".
func (in Input) Name() string {
	base := filepath.Base(filepath.Clean(in.Path))
	return fmt.Sprintf("%03d_%s", in.Index, strings.TrimSuffix(base, filepath.Ext(base)))
}

// LoadInputs loads every path, images and slice directories alike.
func LoadInputs(paths []string) ([]Input, error) {
	inputs := make([]Input, len(paths))
	for i, p := range paths {
		data, err := imageio.LoadPath(p)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", p, err)
		}
		inputs[i] = Input{Index: i, Path: p, Data: data}
	}
	return inputs, nil
}

// Arrays returns the data of each input in order.
func Arrays(inputs []Input) []*ndarray.Array {
	out := make([]*ndarray.Array, len(inputs))
	for i, in := range inputs {
		out[i] = in.Data
	}
	return out
}
