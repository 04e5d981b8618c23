// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package initializer holds the initial value generators of the model parameters.
package initializer

import (
	"math"
	"math/rand/v2"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/shapes"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
)

// Initializer creates the initial value of a parameter with the given shape, using rng as the
// source of randomness.
type Initializer func(rng *rand.Rand, shape shapes.Shape) *tensors.Tensor

var (
	// Zero initializes variables with zero.
	Zero Initializer = func(_ *rand.Rand, shape shapes.Shape) *tensors.Tensor {
		return tensors.FromShape(shape)
	}

	// One initializes variables with one.
	One Initializer = func(_ *rand.Rand, shape shapes.Shape) *tensors.Tensor {
		return tensors.FromScalarAndDimensions(1, shape.Dimensions...)
	}
)

// Uniform returns an initializer that generates random uniform values from [min, max).
func Uniform(minValue, maxValue float64) Initializer {
	return func(rng *rand.Rand, shape shapes.Shape) *tensors.Tensor {
		t := tensors.FromShape(shape)
		flat := t.Flat()
		for ii := range flat {
			flat[ii] = minValue + rng.Float64()*(maxValue-minValue)
		}
		return t
	}
}

// FanIn returns the number of inputs per output of a parameter shaped as the weights of
// a dense layer ([outputs, inputs]) or of a convolution kernel ([outputChannels, inputChannels, <spatial...>]).
func FanIn(shape shapes.Shape) int {
	if shape.Rank() < 2 {
		return 1
	}
	return shape.Size() / shape.Dimensions[0]
}

// KaimingUniform returns the default initializer of dense and convolution weights: uniform in
// [-bound, bound), with bound = 1/sqrt(fanIn), where fanIn is computed from the shape.
// That is He uniform initialization with a leaky ReLU slope of sqrt(5).
func KaimingUniform() Initializer {
	return func(rng *rand.Rand, shape shapes.Shape) *tensors.Tensor {
		bound := 1 / math.Sqrt(float64(FanIn(shape)))
		return Uniform(-bound, bound)(rng, shape)
	}
}

// BiasUniform returns the default initializer of the bias of a layer whose weights have the
// given fanIn: uniform in [-1/sqrt(fanIn), 1/sqrt(fanIn)).
func BiasUniform(fanIn int) Initializer {
	bound := 1 / math.Sqrt(float64(max(fanIn, 1)))
	return Uniform(-bound, bound)
}
