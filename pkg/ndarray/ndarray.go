// Package ndarray provides a minimal strided n-dimensional array of float64
// values. Data is stored in row-major order, as in the volume layout used
// across the rest of ndreg; views created by MoveAxis and Index share the
// underlying storage with the array they came from.
package ndarray

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrShapeMismatch is returned when two arrays, or an array and its data,
// do not have compatible shapes.
var ErrShapeMismatch = errors.New("shape mismatch")

// ErrInvalidAxis is returned when an axis index is out of range.
var ErrInvalidAxis = errors.New("invalid axis")

// Array is an n-dimensional array of float64 values.
type Array struct {
	// data is the backing store, possibly shared with other views
	data []float64

	// shape holds the extent of each dimension
	shape []int

	// strides holds the step in data for a unit move along each dimension
	strides []int

	// offset is the position in data of the first element
	offset int
}

// New returns a zero-filled contiguous array with the given shape.
// It panics if the shape is empty or has a negative extent.
func New(shape ...int) *Array {
	size := checkShape(shape)
	return &Array{
		data:    make([]float64, size),
		shape:   append([]int(nil), shape...),
		strides: rowMajorStrides(shape),
	}
}

// FromSlice wraps data as an array of the given shape without copying.
// The caller must not modify data afterwards if the array is shared.
func FromSlice(data []float64, shape ...int) (*Array, error) {
	if len(shape) == 0 {
		return nil, fmt.Errorf("%w: rank must be at least 1", ErrShapeMismatch)
	}
	size := 1
	for _, n := range shape {
		if n < 0 {
			return nil, fmt.Errorf("%w: negative extent in %v", ErrShapeMismatch, shape)
		}
		size *= n
	}
	if size != len(data) {
		return nil, fmt.Errorf("%w: %d values cannot fill shape %v", ErrShapeMismatch, len(data), shape)
	}
	return &Array{
		data:    data,
		shape:   append([]int(nil), shape...),
		strides: rowMajorStrides(shape),
	}, nil
}

func checkShape(shape []int) int {
	if len(shape) == 0 {
		panic("ndarray: rank must be at least 1")
	}
	size := 1
	for _, n := range shape {
		if n < 0 {
			panic(fmt.Sprintf("ndarray: negative extent in shape %v", shape))
		}
		size *= n
	}
	return size
}

func rowMajorStrides(shape []int) []int {
	strides := make([]int, len(shape))
	step := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = step
		step *= shape[i]
	}
	return strides
}

// Shape returns a copy of the array's shape.
func (a *Array) Shape() []int {
	return append([]int(nil), a.shape...)
}

// NDim returns the number of dimensions.
func (a *Array) NDim() int { return len(a.shape) }

// Size returns the total number of elements.
func (a *Array) Size() int {
	size := 1
	for _, n := range a.shape {
		size *= n
	}
	return size
}

// Dim returns the extent of dimension i.
func (a *Array) Dim(i int) int { return a.shape[i] }

func (a *Array) pos(idx []int) int {
	if len(idx) != len(a.shape) {
		panic(fmt.Sprintf("ndarray: %d indices for rank %d array", len(idx), len(a.shape)))
	}
	p := a.offset
	for i, v := range idx {
		if v < 0 || v >= a.shape[i] {
			panic(fmt.Sprintf("ndarray: index %d out of range for axis %d with size %d", v, i, a.shape[i]))
		}
		p += v * a.strides[i]
	}
	return p
}

// At returns the element at the given index.
func (a *Array) At(idx ...int) float64 {
	return a.data[a.pos(idx)]
}

// Set stores v at the given index.
func (a *Array) Set(v float64, idx ...int) {
	a.data[a.pos(idx)] = v
}

// IsContiguous reports whether the array is laid out in row-major order
// without gaps, starting at the beginning of its backing store.
func (a *Array) IsContiguous() bool {
	if a.offset != 0 || len(a.data) != a.Size() {
		return false
	}
	step := 1
	for i := len(a.shape) - 1; i >= 0; i-- {
		if a.shape[i] != 1 && a.strides[i] != step {
			return false
		}
		step *= a.shape[i]
	}
	return true
}

// each calls fn with the backing-store position of every element, in
// row-major order of the array's logical shape.
func (a *Array) each(fn func(p int)) {
	size := a.Size()
	if size == 0 {
		return
	}
	nd := len(a.shape)
	counter := make([]int, nd)
	p := a.offset
	for n := 0; n < size; n++ {
		fn(p)
		for d := nd - 1; d >= 0; d-- {
			counter[d]++
			p += a.strides[d]
			if counter[d] < a.shape[d] {
				break
			}
			p -= counter[d] * a.strides[d]
			counter[d] = 0
		}
	}
}

// Data returns the elements in row-major order. The returned slice is
// always a fresh copy.
func (a *Array) Data() []float64 {
	out := make([]float64, 0, a.Size())
	a.each(func(p int) {
		out = append(out, a.data[p])
	})
	return out
}

// Clone returns a contiguous deep copy of the array.
func (a *Array) Clone() *Array {
	return &Array{
		data:    a.Data(),
		shape:   a.Shape(),
		strides: rowMajorStrides(a.shape),
	}
}

// CopyFrom overwrites the elements of a with those of b, element by element
// in row-major order. Both arrays must have the same shape.
func (a *Array) CopyFrom(b *Array) error {
	if !a.SameShape(b) {
		return fmt.Errorf("%w: cannot copy %v into %v", ErrShapeMismatch, b.shape, a.shape)
	}
	src := b.Data()
	i := 0
	a.each(func(p int) {
		a.data[p] = src[i]
		i++
	})
	return nil
}

// SameShape reports whether a and b have identical shapes.
func (a *Array) SameShape(b *Array) bool {
	return EqualShape(a.shape, b.shape)
}

// EqualShape reports whether two shapes are identical.
func EqualShape(s, t []int) bool {
	if len(s) != len(t) {
		return false
	}
	for i := range s {
		if s[i] != t[i] {
			return false
		}
	}
	return true
}

// NormalizeAxis maps a possibly negative axis onto [0, ndim).
func NormalizeAxis(axis, ndim int) (int, error) {
	if axis < 0 {
		axis += ndim
	}
	if axis < 0 || axis >= ndim {
		return 0, fmt.Errorf("%w: axis %d for rank %d array", ErrInvalidAxis, axis, ndim)
	}
	return axis, nil
}

// MoveAxis returns a view of a with axis src moved to position dst, the
// remaining axes keeping their relative order. No data is copied and a is
// left untouched.
func (a *Array) MoveAxis(src, dst int) (*Array, error) {
	nd := len(a.shape)
	src, err := NormalizeAxis(src, nd)
	if err != nil {
		return nil, err
	}
	dst, err = NormalizeAxis(dst, nd)
	if err != nil {
		return nil, err
	}

	order := make([]int, 0, nd)
	for i := 0; i < nd; i++ {
		if i != src {
			order = append(order, i)
		}
	}
	order = append(order[:dst], append([]int{src}, order[dst:]...)...)

	v := &Array{
		data:    a.data,
		shape:   make([]int, nd),
		strides: make([]int, nd),
		offset:  a.offset,
	}
	for i, o := range order {
		v.shape[i] = a.shape[o]
		v.strides[i] = a.strides[o]
	}
	return v, nil
}

// Index returns a view of the sub-array at position i along the first axis.
// A rank-1 array yields a rank-1 view holding a single element.
func (a *Array) Index(i int) *Array {
	if i < 0 || i >= a.shape[0] {
		panic(fmt.Sprintf("ndarray: index %d out of range for axis 0 with size %d", i, a.shape[0]))
	}
	if len(a.shape) == 1 {
		return &Array{
			data:    a.data,
			shape:   []int{1},
			strides: []int{1},
			offset:  a.offset + i*a.strides[0],
		}
	}
	return &Array{
		data:    a.data,
		shape:   append([]int(nil), a.shape[1:]...),
		strides: append([]int(nil), a.strides[1:]...),
		offset:  a.offset + i*a.strides[0],
	}
}

// Ravel converts a per-dimension index into a row-major flat index.
func Ravel(idx, shape []int) int {
	flat := 0
	for i, n := range shape {
		flat = flat*n + idx[i]
	}
	return flat
}

// Unravel converts a row-major flat index into a per-dimension index.
func Unravel(flat int, shape []int) []int {
	idx := make([]int, len(shape))
	for i := len(shape) - 1; i >= 0; i-- {
		n := shape[i]
		if n == 0 {
			continue
		}
		idx[i] = flat % n
		flat /= n
	}
	return idx
}

// Stack joins equally shaped arrays along a new leading axis.
func Stack(arrays []*Array) (*Array, error) {
	if len(arrays) == 0 {
		return nil, fmt.Errorf("%w: nothing to stack", ErrShapeMismatch)
	}
	shape := arrays[0].Shape()
	out := make([]float64, 0, len(arrays)*arrays[0].Size())
	for i, a := range arrays {
		if !EqualShape(shape, a.shape) {
			return nil, fmt.Errorf("%w: array %d has shape %v, expected %v", ErrShapeMismatch, i, a.shape, shape)
		}
		out = append(out, a.Data()...)
	}
	return FromSlice(out, append([]int{len(arrays)}, shape...)...)
}

// Mean returns the elementwise mean of equally shaped arrays.
func Mean(arrays []*Array) (*Array, error) {
	if len(arrays) == 0 {
		return nil, fmt.Errorf("%w: mean of no arrays", ErrShapeMismatch)
	}
	out := New(arrays[0].shape...)
	for i, a := range arrays {
		if !a.SameShape(out) {
			return nil, fmt.Errorf("%w: array %d has shape %v, expected %v", ErrShapeMismatch, i, a.shape, out.shape)
		}
		for j, v := range a.Data() {
			out.data[j] += v
		}
	}
	scale := 1 / float64(len(arrays))
	for j := range out.data {
		out.data[j] *= scale
	}
	return out, nil
}

// AllFinite reports whether every element is neither NaN nor infinite.
func (a *Array) AllFinite() bool {
	ok := true
	a.each(func(p int) {
		v := a.data[p]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			ok = false
		}
	})
	return ok
}

// String formats the array as nested bracketed rows.
func (a *Array) String() string {
	var b strings.Builder
	data := a.Data()
	var write func(dim, start int)
	write = func(dim, start int) {
		b.WriteByte('[')
		n := a.shape[dim]
		step := 1
		for _, s := range a.shape[dim+1:] {
			step *= s
		}
		for i := 0; i < n; i++ {
			if i > 0 {
				b.WriteByte(' ')
			}
			if dim == len(a.shape)-1 {
				fmt.Fprintf(&b, "%g", data[start+i])
			} else {
				write(dim+1, start+i*step)
			}
		}
		b.WriteByte(']')
	}
	write(0, 0)
	return b.String()
}
