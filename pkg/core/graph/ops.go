// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"math/rand/v2"
	"slices"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/shapes"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrIndexOutOfBounds is the cause of the panic raised by Index when an index is out of range.
// Use errors.Is (or errors.Cause) on the recovered error to test for it.
var ErrIndexOutOfBounds = errors.New("index out of bounds")

// unaryOp applies fn element-wise, and uses derivative (evaluated at the input and output values)
// for the VJP.
func unaryOp(opName string, x *Node, fn func(v float64) float64, derivative func(input, output float64) float64) *Node {
	output := tensors.FromShape(x.Shape())
	inFlat, outFlat := x.value.Flat(), output.Flat()
	for ii, v := range inFlat {
		outFlat[ii] = fn(v)
	}
	return newNode(opName, output, func(v *tensors.Tensor, _ []bool) []*tensors.Tensor {
		grad := tensors.FromShape(x.Shape())
		gradFlat, vFlat := grad.Flat(), v.Flat()
		for ii, input := range inFlat {
			gradFlat[ii] = vFlat[ii] * derivative(input, outFlat[ii])
		}
		return []*tensors.Tensor{grad}
	}, x)
}

// ReLU returns max(x, 0), element-wise.
func ReLU(x *Node) *Node {
	return unaryOp("ReLU", x,
		func(v float64) float64 { return max(v, 0) },
		func(input, _ float64) float64 {
			if input > 0 {
				return 1
			}
			return 0
		})
}

// Neg returns -x.
func Neg(x *Node) *Node {
	return MulScalar(x, -1)
}

// MulScalar returns x*scalar, element-wise.
func MulScalar(x *Node, scalar float64) *Node {
	output := x.value.Clone()
	floats.Scale(scalar, output.Flat())
	return newNode("MulScalar", output, func(v *tensors.Tensor, _ []bool) []*tensors.Tensor {
		grad := v.Clone()
		floats.Scale(scalar, grad.Flat())
		return []*tensors.Tensor{grad}
	}, x)
}

// Add returns x+y, element-wise. Shapes must match.
func Add(x, y *Node) *Node {
	if !x.Shape().Equal(y.Shape()) {
		exceptions.Panicf("Add(x, y) requires operands with the same shape, got x.shape=%s and y.shape=%s", x.Shape(), y.Shape())
	}
	output := x.value.Clone()
	output.AddInPlace(y.value)
	return newNode("Add", output, func(v *tensors.Tensor, _ []bool) []*tensors.Tensor {
		return []*tensors.Tensor{v, v}
	}, x, y)
}

// Mul returns x*y, element-wise. Shapes must match.
func Mul(x, y *Node) *Node {
	if !x.Shape().Equal(y.Shape()) {
		exceptions.Panicf("Mul(x, y) requires operands with the same shape, got x.shape=%s and y.shape=%s", x.Shape(), y.Shape())
	}
	output := tensors.FromShape(x.Shape())
	floats.MulTo(output.Flat(), x.value.Flat(), y.value.Flat())
	return newNode("Mul", output, func(v *tensors.Tensor, needed []bool) []*tensors.Tensor {
		grads := make([]*tensors.Tensor, 2)
		if needed[0] {
			grads[0] = tensors.FromShape(x.Shape())
			floats.MulTo(grads[0].Flat(), v.Flat(), y.value.Flat())
		}
		if needed[1] {
			grads[1] = tensors.FromShape(y.Shape())
			floats.MulTo(grads[1].Flat(), v.Flat(), x.value.Flat())
		}
		return grads
	}, x, y)
}

// ReduceAllSum reduces x to a scalar with the sum of all its elements.
func ReduceAllSum(x *Node) *Node {
	output := tensors.FromScalar(floats.Sum(x.value.Flat()))
	return newNode("ReduceAllSum", output, func(v *tensors.Tensor, _ []bool) []*tensors.Tensor {
		return []*tensors.Tensor{tensors.FromScalarAndDimensions(v.ToScalar(), x.Shape().Dimensions...)}
	}, x)
}

// ReduceAllMean reduces x to a scalar with the mean of all its elements.
func ReduceAllMean(x *Node) *Node {
	return MulScalar(ReduceAllSum(x), 1.0/float64(x.Shape().Size()))
}

// Reshape x to the given dimensions, which must have the same size.
// The value shares the underlying data with x.
func Reshape(x *Node, dimensions ...int) *Node {
	output := x.value.Reshape(dimensions...)
	inputDims := slices.Clone(x.Shape().Dimensions)
	return newNode("Reshape", output, func(v *tensors.Tensor, _ []bool) []*tensors.Tensor {
		if len(inputDims) == 0 {
			return []*tensors.Tensor{tensors.FromScalar(v.ToScalar())}
		}
		return []*tensors.Tensor{v.Reshape(inputDims...)}
	}, x)
}

// Flatten reshapes x to rank-2, keeping the first (batch) axis.
func Flatten(x *Node) *Node {
	if x.Rank() < 1 {
		exceptions.Panicf("Flatten requires rank >= 1, got x.shape=%s", x.Shape())
	}
	batchSize := x.Shape().Dim(0)
	return Reshape(x, batchSize, x.Shape().Size()/batchSize)
}

// Index selects the sub-tensor x[indices[0], indices[1], ...]: the indexed leading axes are
// removed from the output. Selecting all axes returns a scalar.
//
// It panics with an error wrapping ErrIndexOutOfBounds if any index is outside of its axis range.
func Index(x *Node, indices ...int) *Node {
	shape := x.Shape()
	if len(indices) > shape.Rank() {
		exceptions.Panicf("Index(x, %v): too many indices for x.shape=%s", indices, shape)
	}
	strides := shape.Strides()
	offset := 0
	for axis, idx := range indices {
		dim := shape.Dimensions[axis]
		if idx < 0 || idx >= dim {
			panic(errors.Wrapf(ErrIndexOutOfBounds, "Index(x, %v): index %d for axis %d with size %d (x.shape=%s)",
				indices, idx, axis, dim, shape))
		}
		offset += idx * strides[axis]
	}
	output := tensors.FromShape(shapes.Make(shape.Dimensions[len(indices):]...))
	copy(output.Flat(), x.value.Flat()[offset:offset+output.Size()])
	return newNode("Index", output, func(v *tensors.Tensor, _ []bool) []*tensors.Tensor {
		grad := tensors.FromShape(shape)
		copy(grad.Flat()[offset:], v.Flat())
		return []*tensors.Tensor{grad}
	}, x)
}

// Dense returns x·weightsᵀ + bias, where x is shaped [batchSize, inputs], weights is shaped
// [outputs, inputs] and bias (optional, can be nil) is shaped [outputs].
func Dense(x, weights, bias *Node) *Node {
	if x.Rank() != 2 || weights.Rank() != 2 || x.Shape().Dim(1) != weights.Shape().Dim(1) {
		exceptions.Panicf("Dense(x, weights): invalid shapes x.shape=%s, weights.shape=%s, expected [batch, inputs] and [outputs, inputs]",
			x.Shape(), weights.Shape())
	}
	batchSize, numInputs, numOutputs := x.Shape().Dim(0), x.Shape().Dim(1), weights.Shape().Dim(0)
	if bias != nil {
		shapes.AssertDims(bias, numOutputs)
	}
	xMat := mat.NewDense(batchSize, numInputs, x.value.Flat())
	wMat := mat.NewDense(numOutputs, numInputs, weights.value.Flat())
	output := tensors.FromShape(shapes.Make(batchSize, numOutputs))
	mat.NewDense(batchSize, numOutputs, output.Flat()).Mul(xMat, wMat.T())
	if bias != nil {
		outFlat := output.Flat()
		for row := range batchSize {
			floats.Add(outFlat[row*numOutputs:(row+1)*numOutputs], bias.value.Flat())
		}
	}

	vjp := func(v *tensors.Tensor, needed []bool) []*tensors.Tensor {
		vMat := mat.NewDense(batchSize, numOutputs, v.Flat())
		grads := make([]*tensors.Tensor, 3)
		if needed[0] {
			grads[0] = tensors.FromShape(x.Shape())
			mat.NewDense(batchSize, numInputs, grads[0].Flat()).Mul(vMat, wMat)
		}
		if needed[1] {
			grads[1] = tensors.FromShape(weights.Shape())
			mat.NewDense(numOutputs, numInputs, grads[1].Flat()).Mul(vMat.T(), xMat)
		}
		if bias != nil && needed[2] {
			grads[2] = tensors.FromShape(bias.Shape())
			vFlat := v.Flat()
			for row := range batchSize {
				floats.Add(grads[2].Flat(), vFlat[row*numOutputs:(row+1)*numOutputs])
			}
		}
		return grads
	}
	return newNode("Dense", output, vjp, x, weights, bias)
}

// Dropout zeroes each element of x with probability rate, and scales the remaining ones by
// 1/(1-rate), using rng as the source of randomness.
//
// A rate of 0 returns x unchanged.
func Dropout(x *Node, rate float64, rng *rand.Rand) *Node {
	if rate < 0 || rate >= 1 {
		exceptions.Panicf("Dropout(rate=%g): rate must be in the range [0, 1)", rate)
	}
	if rate == 0 {
		return x
	}
	scale := 1 / (1 - rate)
	mask := tensors.FromShape(x.Shape())
	maskFlat := mask.Flat()
	for ii := range maskFlat {
		if rng.Float64() >= rate {
			maskFlat[ii] = scale
		}
	}
	output := x.value.Clone()
	floats.Mul(output.Flat(), maskFlat)
	return newNode("Dropout", output, func(v *tensors.Tensor, _ []bool) []*tensors.Tensor {
		grad := v.Clone()
		floats.Mul(grad.Flat(), maskFlat)
		return []*tensors.Tensor{grad}
	}, x)
}
