// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graphtest holds test utilities for packages that depend on the graph package.
package graphtest

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/graph"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/shapes"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
	"github.com/stretchr/testify/require"
)

// ScalarFn builds a scalar from the given leaves.
type ScalarFn func(inputs []*graph.Node) *graph.Node

// RandomTensor returns a tensor with the given dimensions and values uniformly distributed
// in [-1, 1), using a fixed seed so tests are reproducible.
func RandomTensor(seed uint64, dimensions ...int) *tensors.Tensor {
	rng := rand.New(rand.NewPCG(seed, seed))
	t := tensors.FromShape(shapes.Make(dimensions...))
	for ii := range t.Flat() {
		t.Flat()[ii] = 2*rng.Float64() - 1
	}
	return t
}

// NumericGradient estimates the gradient of fn with respect to inputs[inputIdx] with
// central finite differences.
func NumericGradient(fn ScalarFn, inputs []*tensors.Tensor, inputIdx int, epsilon float64) *tensors.Tensor {
	eval := func() float64 {
		leaves := make([]*graph.Node, len(inputs))
		for ii, input := range inputs {
			leaves[ii] = graph.Const(input)
		}
		return fn(leaves).Value().ToScalar()
	}
	target := inputs[inputIdx]
	grad := tensors.FromShape(target.Shape())
	flat := target.Flat()
	for ii := range flat {
		original := flat[ii]
		flat[ii] = original + epsilon
		plus := eval()
		flat[ii] = original - epsilon
		minus := eval()
		flat[ii] = original
		grad.Flat()[ii] = (plus - minus) / (2 * epsilon)
	}
	return grad
}

// CheckGradients compares the gradients computed by graph.Gradient with the numeric
// estimate, for each of the inputs. Inputs are not modified.
func CheckGradients(t *testing.T, fn ScalarFn, inputs ...*tensors.Tensor) {
	t.Helper()
	leaves := make([]*graph.Node, len(inputs))
	for ii, input := range inputs {
		leaves[ii] = graph.Leaf(input, true)
	}
	got := graph.Gradient(fn(leaves), leaves...)
	for ii := range inputs {
		want := NumericGradient(fn, inputs, ii, 1e-5)
		require.NoErrorf(t, got[ii].InDelta(want, 1e-4*math.Max(1, maxAbs(want))),
			"gradient for input #%d: got %s, want %s", ii, got[ii], want)
	}
}

func maxAbs(t *tensors.Tensor) float64 {
	var result float64
	for _, v := range t.Flat() {
		result = math.Max(result, math.Abs(v))
	}
	return result
}
