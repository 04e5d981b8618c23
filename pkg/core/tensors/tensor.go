// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement a `Tensor`, a representation of a multidimensional array of float64.
//
// Values are stored in a flat Go slice in row-major order, defined by a shapes.Shape.
//
// There are various ways to construct a Tensor from local data:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//
//   - FromScalarAndDimensions(value float64, dimensions ...int): creates a Tensor with the
//     given dimensions, filled with the scalar value given.
//
//   - FromFlatDataAndDimensions(data []float64, dimensions ...int): creates a Tensor with the
//     given dimensions, using the given flat data (not copied). Example:
//
//     t := FromFlatDataAndDimensions([]float64{1, 2, 3, 4}, 2, 2}) // Tensor with [[1,2], [3,4]]
//
//   - FromValue(value any): conversion from a float64 or any regular multidimensional slice of float64.
//     Example:
//
//     t := FromValue([][]float64{{1,2}, {3, 5}, {7, 11}})
package tensors

import (
	"fmt"
	"math"
	"reflect"
	"slices"
	"strings"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/shapes"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// Tensor is a multidimensional array of float64 values.
//
// Tensors are not safe for concurrent mutation: the graph package treats values as
// immutable once a node is created, and only optimizers mutate leaf values in place.
type Tensor struct {
	shape shapes.Shape
	flat  []float64
}

// FromShape returns a zero-initialized Tensor with the given shape.
// It panics if the shape dtype is not dtypes.Float64.
func FromShape(shape shapes.Shape) *Tensor {
	if err := shape.CheckFloat64(); err != nil {
		exceptions.Panicf("FromShape: %v", err)
	}
	return &Tensor{
		shape: shape.Clone(),
		flat:  make([]float64, shape.Size()),
	}
}

// FromScalar returns a scalar Tensor with the given value.
func FromScalar(value float64) *Tensor {
	return &Tensor{shape: shapes.Scalar(), flat: []float64{value}}
}

// FromScalarAndDimensions returns a Tensor with the given dimensions filled with value.
func FromScalarAndDimensions(value float64, dimensions ...int) *Tensor {
	t := FromShape(shapes.Make(dimensions...))
	t.Fill(value)
	return t
}

// FromFlatDataAndDimensions returns a Tensor backed by the given flat data (it is not copied).
// It panics if the size of data doesn't match the dimensions.
func FromFlatDataAndDimensions(data []float64, dimensions ...int) *Tensor {
	shape := shapes.Make(dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(%s): data size is %d, but dimensions size is %d",
			shape, len(data), shape.Size())
	}
	return &Tensor{shape: shape, flat: data}
}

// FromValue converts a float64 or a regular multidimensional slice of float64 to a Tensor.
// It panics if the value is not supported or if the slices are not regular.
func FromValue(value any) *Tensor {
	v := reflect.ValueOf(value)
	var dims []int
	for probe := v; probe.Kind() == reflect.Slice; {
		if probe.Len() == 0 {
			exceptions.Panicf("FromValue(%T): empty slices can't be converted to a Tensor", value)
		}
		dims = append(dims, probe.Len())
		probe = probe.Index(0)
	}
	t := &Tensor{shape: shapes.Make(dims...)}
	t.flat = make([]float64, 0, t.shape.Size())
	var walk func(v reflect.Value, axis int)
	walk = func(v reflect.Value, axis int) {
		if axis == len(dims) {
			if v.Kind() != reflect.Float64 {
				exceptions.Panicf("FromValue(%T): only float64 values are supported, got %s", value, v.Kind())
			}
			t.flat = append(t.flat, v.Float())
			return
		}
		if v.Kind() != reflect.Slice || v.Len() != dims[axis] {
			exceptions.Panicf("FromValue(%T): irregular slice on axis %d, expected dimension %d", value, axis, dims[axis])
		}
		for ii := range v.Len() {
			walk(v.Index(ii), axis+1)
		}
	}
	walk(v, 0)
	return t
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// Rank of the tensor.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size is the number of elements of the tensor.
func (t *Tensor) Size() int { return len(t.flat) }

// Flat returns the underlying flat data, in row-major order. It is not a copy: changes
// are reflected in the tensor.
func (t *Tensor) Flat() []float64 { return t.flat }

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: t.shape.Clone(), flat: slices.Clone(t.flat)}
}

// Reshape returns a tensor sharing the same data, with a different shape of the same size.
func (t *Tensor) Reshape(dimensions ...int) *Tensor {
	shape := shapes.Make(dimensions...)
	if shape.Size() != t.Size() {
		exceptions.Panicf("Tensor.Reshape(%v): size %d doesn't match tensor shape %s (size %d)",
			dimensions, shape.Size(), t.shape, t.Size())
	}
	return &Tensor{shape: shape, flat: t.flat}
}

// flatIndex converts indices to the position in the flat data, panicking if out-of-bounds.
func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != t.Rank() {
		exceptions.Panicf("tensor of shape %s requires %d indices, got %v", t.shape, t.Rank(), indices)
	}
	pos := 0
	for axis, idx := range indices {
		dim := t.shape.Dimensions[axis]
		if idx < 0 || idx >= dim {
			exceptions.Panicf("index %d out of bounds for axis %d with size %d (shape %s)", idx, axis, dim, t.shape)
		}
		pos = pos*dim + idx
	}
	return pos
}

// At returns the value at the given indices.
func (t *Tensor) At(indices ...int) float64 {
	return t.flat[t.flatIndex(indices)]
}

// Set the value at the given indices.
func (t *Tensor) Set(value float64, indices ...int) {
	t.flat[t.flatIndex(indices)] = value
}

// Fill sets all elements to value.
func (t *Tensor) Fill(value float64) {
	for ii := range t.flat {
		t.flat[ii] = value
	}
}

// ToScalar returns the value of a scalar tensor (or a tensor with a single element).
func (t *Tensor) ToScalar() float64 {
	if t.Size() != 1 {
		exceptions.Panicf("ToScalar requires a tensor with one element, got shape %s instead", t.shape)
	}
	return t.flat[0]
}

// AddInPlace adds other to t, element-wise. Shapes must match.
func (t *Tensor) AddInPlace(other *Tensor) {
	if !t.shape.Equal(other.shape) {
		exceptions.Panicf("AddInPlace: shapes %s and %s don't match", t.shape, other.shape)
	}
	floats.Add(t.flat, other.flat)
}

// Value returns a multidimensional slice of float64 ([][]float64 for rank 2, etc.) with a copy
// of the tensor values, or a float64 for scalars.
func (t *Tensor) Value() any {
	if t.Rank() == 0 {
		return t.flat[0]
	}
	sliceType := reflect.TypeOf(float64(0))
	for range t.Rank() {
		sliceType = reflect.SliceOf(sliceType)
	}
	pos := 0
	var build func(sliceType reflect.Type, axis int) reflect.Value
	build = func(sliceType reflect.Type, axis int) reflect.Value {
		dim := t.shape.Dimensions[axis]
		v := reflect.MakeSlice(sliceType, dim, dim)
		for ii := range dim {
			if axis == t.Rank()-1 {
				v.Index(ii).SetFloat(t.flat[pos])
				pos++
			} else {
				v.Index(ii).Set(build(sliceType.Elem(), axis+1))
			}
		}
		return v
	}
	return build(sliceType, 0).Interface()
}

// Equal returns whether the tensors have the same shape and values.
func (t *Tensor) Equal(other *Tensor) bool {
	return t.shape.Equal(other.shape) && slices.Equal(t.flat, other.flat)
}

// InDelta returns an error if the tensors have different shapes or any pair of values differ
// by more than delta.
func (t *Tensor) InDelta(other *Tensor, delta float64) error {
	if !t.shape.Equal(other.shape) {
		return errors.Errorf("shapes differ: %s != %s", t.shape, other.shape)
	}
	for ii, v := range t.flat {
		if math.Abs(v-other.flat[ii]) > delta {
			return errors.Errorf("values differ at flat position %d: %g != %g (delta %g)", ii, v, other.flat[ii], delta)
		}
	}
	return nil
}

// String implements fmt.Stringer. Large tensors are abbreviated.
func (t *Tensor) String() string {
	const maxValues = 16
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tensor%s{", t.shape)
	for ii, v := range t.flat {
		if ii == maxValues {
			fmt.Fprintf(&sb, ", ... (%d more)", len(t.flat)-maxValues)
			break
		}
		if ii > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%g", v)
	}
	sb.WriteString("}")
	return sb.String()
}
