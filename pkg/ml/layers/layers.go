// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layers holds the building blocks of the models: each Layer is a callable transform of
// a node, with its own trainable parameters (if any).
//
// Layers with parameters are created with builders, following the pattern
//
//	conv := layers.Convolution(3).Channels(16).KernelSize(3).Padding(1).Done()
//
// All layers use the channels-first layout for images: [batch, channels, height, width].
package layers

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/graph"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/shapes"
	"github.com/gomlx/exceptions"
)

// Layer is a callable transform of a node.
type Layer interface {
	// Forward computes the output of the layer for x.
	Forward(x *graph.Node) *graph.Node

	// OutputShape returns the shape of the output for an input with the given shape,
	// without computing anything.
	OutputShape(input shapes.Shape) shapes.Shape

	// Parameters returns the trainable parameters of the layer, in a fixed order. It is empty
	// for layers without parameters.
	Parameters() []*Parameter

	fmt.Stringer
}

// TrainingSetter is implemented by layers that behave differently during training and
// evaluation, like Dropout.
type TrainingSetter interface {
	SetTraining(training bool)
}

// Parameter is a named trainable value of a layer. Its Node is a leaf requiring gradients,
// which the optimizers update in place.
type Parameter struct {
	Name string
	Node *graph.Node
}

var (
	muDefaultRand sync.Mutex
	defaultRand   = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
)

// SetDefaultSeed resets the random number generator used by layers built without WithRand,
// making the initialization reproducible.
func SetDefaultSeed(seed uint64) {
	muDefaultRand.Lock()
	defer muDefaultRand.Unlock()
	defaultRand = rand.New(rand.NewPCG(seed, seed))
}

// withDefaultRand calls fn with the default random number generator, under lock.
func withDefaultRand(fn func(rng *rand.Rand)) {
	muDefaultRand.Lock()
	defer muDefaultRand.Unlock()
	fn(defaultRand)
}

// checkRank panics if the input shape doesn't have the rank required by the layer.
func checkRank(layer Layer, input shapes.Shape, rank int) {
	if input.Rank() != rank {
		exceptions.Panicf("%s requires a rank-%d input, got shape %s", layer, rank, input)
	}
}

// ReLU is a parameterless layer that applies graph.ReLU.
type ReLU struct{}

// Forward implements Layer.
func (ReLU) Forward(x *graph.Node) *graph.Node { return graph.ReLU(x) }

// OutputShape implements Layer.
func (ReLU) OutputShape(input shapes.Shape) shapes.Shape { return input.Clone() }

// Parameters implements Layer.
func (ReLU) Parameters() []*Parameter { return nil }

// String implements fmt.Stringer.
func (ReLU) String() string { return "ReLU()" }

// Flatten reshapes its input to [batch, features].
type Flatten struct{}

// Forward implements Layer.
func (Flatten) Forward(x *graph.Node) *graph.Node { return graph.Flatten(x) }

// OutputShape implements Layer.
func (f Flatten) OutputShape(input shapes.Shape) shapes.Shape {
	if input.Rank() < 1 {
		exceptions.Panicf("%s requires an input of rank >= 1, got shape %s", f, input)
	}
	return shapes.Make(input.Dimensions[0], input.Size()/input.Dimensions[0])
}

// Parameters implements Layer.
func (Flatten) Parameters() []*Parameter { return nil }

// String implements fmt.Stringer.
func (Flatten) String() string { return "Flatten()" }

// Dropout zeroes a random fraction (rate) of its inputs during training, and is the identity
// during evaluation.
type Dropout struct {
	rate     float64
	training bool
	rng      *rand.Rand
}

// NewDropout creates a Dropout layer with the given rate, in training mode.
// If rng is nil, the layers' default random number generator is used.
func NewDropout(rate float64, rng *rand.Rand) *Dropout {
	if rate < 0 || rate >= 1 {
		exceptions.Panicf("NewDropout(rate=%g): rate must be in the range [0, 1)", rate)
	}
	return &Dropout{rate: rate, training: true, rng: rng}
}

// SetTraining implements TrainingSetter.
func (d *Dropout) SetTraining(training bool) { d.training = training }

// Forward implements Layer.
func (d *Dropout) Forward(x *graph.Node) (output *graph.Node) {
	if !d.training || d.rate == 0 {
		return x
	}
	if d.rng != nil {
		return graph.Dropout(x, d.rate, d.rng)
	}
	withDefaultRand(func(rng *rand.Rand) { output = graph.Dropout(x, d.rate, rng) })
	return
}

// OutputShape implements Layer.
func (d *Dropout) OutputShape(input shapes.Shape) shapes.Shape { return input.Clone() }

// Parameters implements Layer.
func (d *Dropout) Parameters() []*Parameter { return nil }

// String implements fmt.Stringer.
func (d *Dropout) String() string { return fmt.Sprintf("Dropout(p=%g)", d.rate) }
