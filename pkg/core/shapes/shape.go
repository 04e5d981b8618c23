// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the dimensions of a tensor or of the value of a node
// in the computation graph.
//
// A shape carries the dtype of its values, but all computation in this module is done in
// float64: Make, Scalar and every tensor created by the tensors package use dtypes.Float64,
// and a shape with any other dtype is rejected by CheckFloat64.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of a tensor.
//   - Axis: the index of a dimension on a multidimensional tensor.
//   - Dimension: the size of a tensor in one of its axes.
//   - Scalar: a shape with no axes, holding a single value.
//
// Example: an image batch in channels-first layout has shape `[1 3 224 224]`: rank 4,
// axis 1 has dimension 3 (the RGB channels).
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// Shape represents the shape of a Tensor or of the value of a graph node.
//
// Use Make to create a new shape. The zero value, Shape{}, has dtypes.InvalidDType and is not Ok.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// HasShape is implemented by anything with a Shape: tensors, graph nodes and shapes themselves.
type HasShape interface {
	Shape() Shape
}

// Make returns a Float64 Shape with the given dimensions. It panics if any dimension is <= 0.
func Make(dimensions ...int) Shape {
	return MakeWithDType(dtypes.Float64, dimensions...)
}

// MakeWithDType returns a Shape with the given dtype and dimensions. It panics if any dimension is <= 0.
func MakeWithDType(dtype dtypes.DType, dimensions ...int) Shape {
	s := Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
	for _, dim := range dimensions {
		if dim <= 0 {
			exceptions.Panicf("shapes.Make(%s): cannot create a shape with an axis with dimension <= 0", s)
		}
	}
	return s
}

// Scalar returns the shape of a Float64 scalar.
func Scalar() Shape {
	return Shape{DType: dtypes.Float64}
}

// Ok returns whether the shape has a valid dtype.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// CheckFloat64 returns an error if the shape dtype is not dtypes.Float64, the only dtype tensors
// are stored in.
func (s Shape) CheckFloat64() error {
	if s.DType != dtypes.Float64 {
		return errors.Errorf("shape %s has dtype %s, only %s is supported", s, s.DType, dtypes.Float64)
	}
	return nil
}

// Memory returns the number of bytes used to store the values of a tensor with this shape.
func (s Shape) Memory() uintptr {
	return s.DType.Memory() * uintptr(s.Size())
}

// Shape implements HasShape, so a shape can be given where a HasShape is expected.
func (s Shape) Shape() Shape { return s }

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar returns whether the shape represents a scalar (rank 0).
func (s Shape) IsScalar() bool { return s.Rank() == 0 }

// Dim returns the dimension of the given axis. Negative axes count from the end, so
// axis=-1 refers to the last axis.
// Like with slice indexing, it panics for an out-of-bound axis.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		exceptions.Panicf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s)
	}
	return s.Dimensions[adjustedAxis]
}

// Size returns the number of elements of a tensor with this shape. A scalar has size 1.
func (s Shape) Size() int {
	size := 1
	for _, dim := range s.Dimensions {
		size *= dim
	}
	return size
}

// Strides returns the row-major strides for each axis: how many elements one has to
// skip in the flat representation to move one position on that axis.
func (s Shape) Strides() []int {
	strides := make([]int, s.Rank())
	stride := 1
	for axis := s.Rank() - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= s.Dimensions[axis]
	}
	return strides
}

// Equal compares the dtype and dimensions of two shapes.
func (s Shape) Equal(s2 Shape) bool {
	return s.DType == s2.DType && s.EqualDimensions(s2)
}

// EqualDimensions compares only the dimensions of two shapes.
func (s Shape) EqualDimensions(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// Check that the shape has the given dimensions. A dimension of -1 matches anything.
// It returns an error describing the mismatch otherwise.
func (s Shape) Check(dimensions ...int) error {
	if s.Rank() != len(dimensions) {
		return errors.Errorf("shape %s has rank %d, wanted rank %d (dimensions %v)", s, s.Rank(), len(dimensions), dimensions)
	}
	for axis, dim := range dimensions {
		if dim != -1 && s.Dimensions[axis] != dim {
			return errors.Errorf("shape %s has dimension %d on axis %d, wanted %d (dimensions %v)",
				s, s.Dimensions[axis], axis, dim, dimensions)
		}
	}
	return nil
}

// AssertDims panics if the shape of the given value doesn't match the dimensions (-1 matches anything).
func AssertDims(value HasShape, dimensions ...int) {
	if err := value.Shape().Check(dimensions...); err != nil {
		exceptions.Panicf("AssertDims failed: %v", err)
	}
}

// String implements fmt.Stringer, e.g. "(Float64)[1 3 224 224]".
func (s Shape) String() string {
	if s.Rank() == 0 {
		return fmt.Sprintf("(%s)", s.DType)
	}
	parts := make([]string, len(s.Dimensions))
	for ii, dim := range s.Dimensions {
		parts[ii] = fmt.Sprintf("%d", dim)
	}
	return fmt.Sprintf("(%s)[%s]", s.DType, strings.Join(parts, " "))
}
