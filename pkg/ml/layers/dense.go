// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"fmt"
	"math/rand/v2"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/graph"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/shapes"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/initializer"
	"github.com/gomlx/exceptions"
)

// DenseBuilder is a helper to build a fully connected layer. Create it with DenseLayer,
// configure it and call Done.
type DenseBuilder struct {
	inputs, outputs int
	bias            bool
	rng             *rand.Rand
}

// DenseLayer prepares a fully connected layer mapping inputs features to outputs features:
// y = x·weightᵀ + bias, with x shaped [batch, inputs].
func DenseLayer(inputs, outputs int) *DenseBuilder {
	if inputs <= 0 || outputs <= 0 {
		exceptions.Panicf("DenseLayer(inputs=%d, outputs=%d): dimensions must be > 0", inputs, outputs)
	}
	return &DenseBuilder{inputs: inputs, outputs: outputs, bias: true}
}

// UseBias sets whether to add a trainable bias term. Default is true.
func (b *DenseBuilder) UseBias(useBias bool) *DenseBuilder {
	b.bias = useBias
	return b
}

// WithRand sets the random number generator used to initialize the parameters.
func (b *DenseBuilder) WithRand(rng *rand.Rand) *DenseBuilder {
	b.rng = rng
	return b
}

// Done creates the Dense layer, initializing its parameters.
func (b *DenseBuilder) Done() *Dense {
	layer := &Dense{inputs: b.inputs, outputs: b.outputs}
	weightShape := shapes.Make(b.outputs, b.inputs)
	initFn := func(rng *rand.Rand) {
		layer.weight = graph.Leaf(initializer.KaimingUniform()(rng, weightShape), true)
		if b.bias {
			layer.bias = graph.Leaf(initializer.BiasUniform(b.inputs)(rng, shapes.Make(b.outputs)), true)
		}
	}
	if b.rng != nil {
		initFn(b.rng)
	} else {
		withDefaultRand(initFn)
	}
	return layer
}

// Dense is a fully connected layer, with parameters "weight", shaped [outputs, inputs],
// and optionally "bias", shaped [outputs].
type Dense struct {
	inputs, outputs int
	weight, bias    *graph.Node
}

// Forward implements Layer.
func (d *Dense) Forward(x *graph.Node) *graph.Node {
	checkRank(d, x.Shape(), 2)
	return graph.Dense(x, d.weight, d.bias)
}

// OutputShape implements Layer.
func (d *Dense) OutputShape(input shapes.Shape) shapes.Shape {
	checkRank(d, input, 2)
	if input.Dimensions[1] != d.inputs {
		exceptions.Panicf("%s got input with %d features (shape %s)", d, input.Dimensions[1], input)
	}
	return shapes.Make(input.Dimensions[0], d.outputs)
}

// Parameters implements Layer.
func (d *Dense) Parameters() []*Parameter {
	params := []*Parameter{{Name: "weight", Node: d.weight}}
	if d.bias != nil {
		params = append(params, &Parameter{Name: "bias", Node: d.bias})
	}
	return params
}

// String implements fmt.Stringer.
func (d *Dense) String() string {
	return fmt.Sprintf("Linear(in_features=%d, out_features=%d, bias=%v)", d.inputs, d.outputs, d.bias != nil)
}

// MaxPool2D is a parameterless 2D max-pooling layer, see graph.MaxPool.
type MaxPool2D struct {
	window, stride int
}

// NewMaxPool2D creates a max-pooling layer with a square window and the given stride.
// If stride is 0, it defaults to the window size.
func NewMaxPool2D(window, stride int) *MaxPool2D {
	if stride == 0 {
		stride = window
	}
	if window <= 0 || stride <= 0 {
		exceptions.Panicf("NewMaxPool2D(window=%d, stride=%d): values must be > 0", window, stride)
	}
	return &MaxPool2D{window: window, stride: stride}
}

// Forward implements Layer.
func (p *MaxPool2D) Forward(x *graph.Node) *graph.Node {
	return graph.MaxPool(x).Window(p.window).Strides(p.stride).Done()
}

// OutputShape implements Layer.
func (p *MaxPool2D) OutputShape(input shapes.Shape) shapes.Shape {
	checkRank(p, input, 4)
	return shapes.Make(input.Dimensions[0], input.Dimensions[1],
		(input.Dimensions[2]-p.window)/p.stride+1, (input.Dimensions[3]-p.window)/p.stride+1)
}

// Parameters implements Layer.
func (p *MaxPool2D) Parameters() []*Parameter { return nil }

// String implements fmt.Stringer.
func (p *MaxPool2D) String() string {
	return fmt.Sprintf("MaxPool2d(kernel_size=%d, stride=%d)", p.window, p.stride)
}
