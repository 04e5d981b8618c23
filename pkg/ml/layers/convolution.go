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

// This file contains all parts of the layers.Convolution implementation.

// ConvBuilder is a helper to build a convolution layer. Create it with Convolution, set the desired parameters,
// and when all is set, call Done.
type ConvBuilder struct {
	inputChannels, outputChannels int
	kernelSize                    [2]int
	strides                       [2]int
	paddings                      [2]int
	bias                          bool
	rng                           *rand.Rand
	kernelInitializer             initializer.Initializer
}

// Convolution prepares a 2D convolution layer over inputs with inputChannels channels.
//
// It returns a ConvBuilder object for configuration.
// Once it is set up, call `ConvBuilder.Done` and it will return the *Conv2D layer.
//
// Two parameters need setting: Channels and KernelSize. It will fail if they are not set.
//
// The input of the layer is shaped `[batch, inputChannels, height, width]`, and the output
// `[batch, outputChannels, outputHeight, outputWidth]`.
func Convolution(inputChannels int) *ConvBuilder {
	if inputChannels <= 0 {
		exceptions.Panicf("Convolution(inputChannels=%d): number of input channels must be > 0", inputChannels)
	}
	conv := &ConvBuilder{
		inputChannels:     inputChannels,
		kernelInitializer: initializer.KaimingUniform(),
	}
	return conv.NoPadding().UseBias(true).Strides(1)
}

// Channels sets the number of output channels.
// There is no default, and this number must be set before Done is called.
func (conv *ConvBuilder) Channels(channels int) *ConvBuilder {
	if channels <= 0 {
		exceptions.Panicf("number of output channels must be > 0, it was set to %d", channels)
	}
	conv.outputChannels = channels
	return conv
}

// KernelSize sets the kernel size for both spatial axes.
// There is no default, and this value must be set before Done is called.
func (conv *ConvBuilder) KernelSize(size int) *ConvBuilder {
	return conv.KernelSizePerAxis(size, size)
}

// KernelSizePerAxis sets the kernel size for the height and width axes.
func (conv *ConvBuilder) KernelSizePerAxis(height, width int) *ConvBuilder {
	if height <= 0 || width <= 0 {
		exceptions.Panicf("kernel sizes must be > 0, got (%d, %d)", height, width)
	}
	conv.kernelSize = [2]int{height, width}
	return conv
}

// UseBias sets whether to add a trainable bias term to the convolution. Default is true.
func (conv *ConvBuilder) UseBias(useBias bool) *ConvBuilder {
	conv.bias = useBias
	return conv
}

// Strides sets the strides of the convolution, the same for both spatial axes. The default is 1.
func (conv *ConvBuilder) Strides(strides int) *ConvBuilder {
	if strides <= 0 {
		exceptions.Panicf("strides must be > 0, got %d", strides)
	}
	conv.strides = [2]int{strides, strides}
	return conv
}

// Padding sets the zero-padding added to both sides of each spatial axis.
func (conv *ConvBuilder) Padding(padding int) *ConvBuilder {
	if padding < 0 {
		exceptions.Panicf("padding must be >= 0, got %d", padding)
	}
	conv.paddings = [2]int{padding, padding}
	return conv
}

// PadSame sets the padding such that, with stride 1, the output has the same spatial
// dimensions as the input. The kernel size must be set before and be odd.
func (conv *ConvBuilder) PadSame() *ConvBuilder {
	if conv.kernelSize[0]%2 == 0 || conv.kernelSize[1]%2 == 0 {
		exceptions.Panicf("PadSame requires the kernel size to be set first and be odd, got %v", conv.kernelSize)
	}
	conv.paddings = [2]int{conv.kernelSize[0] / 2, conv.kernelSize[1] / 2}
	return conv
}

// NoPadding removes any paddings, so if the kernel spatial dimensions > 1,
// the output shape will be reduced on the edges.
//
// This is the default.
func (conv *ConvBuilder) NoPadding() *ConvBuilder {
	conv.paddings = [2]int{}
	return conv
}

// WithRand sets the random number generator used to initialize the parameters.
// The default is the package's generator, see SetDefaultSeed.
func (conv *ConvBuilder) WithRand(rng *rand.Rand) *ConvBuilder {
	conv.rng = rng
	return conv
}

// KernelInitializer sets the initializer of the kernel. The default is initializer.KaimingUniform.
// The bias is always initialized with initializer.BiasUniform.
func (conv *ConvBuilder) KernelInitializer(init initializer.Initializer) *ConvBuilder {
	conv.kernelInitializer = init
	return conv
}

// Done creates the Conv2D layer, initializing its parameters.
func (conv *ConvBuilder) Done() *Conv2D {
	if conv.outputChannels == 0 || conv.kernelSize[0] == 0 {
		exceptions.Panicf("Convolution requires Channels and KernelSize to be set, got channels=%d, kernelSize=%v",
			conv.outputChannels, conv.kernelSize)
	}
	layer := &Conv2D{
		inputChannels:  conv.inputChannels,
		outputChannels: conv.outputChannels,
		kernelSize:     conv.kernelSize,
		strides:        conv.strides,
		paddings:       conv.paddings,
	}
	kernelShape := shapes.Make(conv.outputChannels, conv.inputChannels, conv.kernelSize[0], conv.kernelSize[1])
	initFn := func(rng *rand.Rand) {
		layer.weight = graph.Leaf(conv.kernelInitializer(rng, kernelShape), true)
		if conv.bias {
			biasInit := initializer.BiasUniform(initializer.FanIn(kernelShape))
			layer.bias = graph.Leaf(biasInit(rng, shapes.Make(conv.outputChannels)), true)
		}
	}
	if conv.rng != nil {
		initFn(conv.rng)
	} else {
		withDefaultRand(initFn)
	}
	return layer
}

// Conv2D is a 2D convolution layer, with parameters "weight", shaped
// [outputChannels, inputChannels, kernelHeight, kernelWidth], and optionally "bias", shaped [outputChannels].
type Conv2D struct {
	inputChannels, outputChannels int
	kernelSize, strides, paddings [2]int
	weight, bias                  *graph.Node
}

// OutputChannels is the number of channels (filters) of the output.
func (c *Conv2D) OutputChannels() int { return c.outputChannels }

// Forward implements Layer.
func (c *Conv2D) Forward(x *graph.Node) *graph.Node {
	checkRank(c, x.Shape(), 4)
	conv := graph.Convolve(x, c.weight).
		StridePerAxis(c.strides[0], c.strides[1]).
		Padding(c.paddings[0], c.paddings[1])
	if c.bias != nil {
		conv.Bias(c.bias)
	}
	return conv.Done()
}

// OutputShape implements Layer.
func (c *Conv2D) OutputShape(input shapes.Shape) shapes.Shape {
	checkRank(c, input, 4)
	if input.Dimensions[1] != c.inputChannels {
		exceptions.Panicf("%s got input with %d channels (shape %s)", c, input.Dimensions[1], input)
	}
	outDims := [2]int{}
	for axis := range 2 {
		outDims[axis] = (input.Dimensions[2+axis]+2*c.paddings[axis]-c.kernelSize[axis])/c.strides[axis] + 1
	}
	return shapes.Make(input.Dimensions[0], c.outputChannels, outDims[0], outDims[1])
}

// Parameters implements Layer.
func (c *Conv2D) Parameters() []*Parameter {
	params := []*Parameter{{Name: "weight", Node: c.weight}}
	if c.bias != nil {
		params = append(params, &Parameter{Name: "bias", Node: c.bias})
	}
	return params
}

// String implements fmt.Stringer.
func (c *Conv2D) String() string {
	return fmt.Sprintf("Conv2d(%d, %d, kernel_size=(%d, %d), stride=(%d, %d), padding=(%d, %d))",
		c.inputChannels, c.outputChannels, c.kernelSize[0], c.kernelSize[1],
		c.strides[0], c.strides[1], c.paddings[0], c.paddings[1])
}
