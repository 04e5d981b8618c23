// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/shapes"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// This file contains all parts of the Convolve implementation.
//
// The convolution is implemented by unfolding the input patches into a matrix ("im2col"), so
// the convolution becomes a single matrix multiplication per example in the batch, done by gonum.

// ConvolutionBuilder is a helper to build a 2D convolution computation.
// Create it with Convolve, set the desired parameters and call Done.
type ConvolutionBuilder struct {
	x, kernel, bias *Node
	strides         [2]int
	paddings        [2]int
	padSame         bool
}

// Convolve prepares a 2D convolution on x with the given kernel.
//
// It returns a ConvolutionBuilder object that can be further configured. Once the
// configuration is finished, call ConvolutionBuilder.Done, and it will return
// the convolved x.
//
// Shapes are channels-first:
//
//   - x: [batch, inputChannels, height, width]
//   - kernel: [outputChannels, inputChannels, kernelHeight, kernelWidth]
//   - output: [batch, outputChannels, outputHeight, outputWidth]
//
// The default is stride 1 and no padding.
func Convolve(x, kernel *Node) *ConvolutionBuilder {
	if x.Rank() != 4 || kernel.Rank() != 4 {
		exceptions.Panicf("Convolve(x, kernel) requires rank-4 operands, got x.shape=%s, kernel.shape=%s",
			x.Shape(), kernel.Shape())
	}
	if x.Shape().Dim(1) != kernel.Shape().Dim(1) {
		exceptions.Panicf("Convolve(x, kernel): x has %d input channels (x.shape=%s), but kernel expects %d (kernel.shape=%s)",
			x.Shape().Dim(1), x.Shape(), kernel.Shape().Dim(1), kernel.Shape())
	}
	return &ConvolutionBuilder{x: x, kernel: kernel, strides: [2]int{1, 1}}
}

// Strides sets the same stride for both spatial axes.
func (conv *ConvolutionBuilder) Strides(stride int) *ConvolutionBuilder {
	return conv.StridePerAxis(stride, stride)
}

// StridePerAxis sets the strides for the height and width axes.
func (conv *ConvolutionBuilder) StridePerAxis(strideHeight, strideWidth int) *ConvolutionBuilder {
	if strideHeight < 1 || strideWidth < 1 {
		exceptions.Panicf("Convolve: strides must be >= 1, got (%d, %d)", strideHeight, strideWidth)
	}
	conv.strides = [2]int{strideHeight, strideWidth}
	return conv
}

// Padding sets a symmetric zero-padding for the height and width axes.
func (conv *ConvolutionBuilder) Padding(padHeight, padWidth int) *ConvolutionBuilder {
	if padHeight < 0 || padWidth < 0 {
		exceptions.Panicf("Convolve: paddings must be >= 0, got (%d, %d)", padHeight, padWidth)
	}
	conv.paddings = [2]int{padHeight, padWidth}
	conv.padSame = false
	return conv
}

// PadSame adds padding such that, with stride 1, the output has the same spatial dimensions as
// the input. It requires odd kernel sizes.
func (conv *ConvolutionBuilder) PadSame() *ConvolutionBuilder {
	conv.padSame = true
	return conv
}

// NoPadding removes any padding, the default.
func (conv *ConvolutionBuilder) NoPadding() *ConvolutionBuilder {
	conv.paddings = [2]int{}
	conv.padSame = false
	return conv
}

// Bias adds a bias shaped [outputChannels] to each output channel.
func (conv *ConvolutionBuilder) Bias(bias *Node) *ConvolutionBuilder {
	conv.bias = bias
	return conv
}

// convGeometry holds the dimensions of one convolution.
type convGeometry struct {
	batchSize, inChannels, height, width   int
	outChannels, kernelHeight, kernelWidth int
	strides, paddings                      [2]int
	outHeight, outWidth                    int
}

// patchSize is the number of rows of the im2col matrix.
func (g *convGeometry) patchSize() int { return g.inChannels * g.kernelHeight * g.kernelWidth }

// numPatches is the number of columns of the im2col matrix.
func (g *convGeometry) numPatches() int { return g.outHeight * g.outWidth }

// expectedOutputSize of one spatial axis.
func expectedOutputSize(inputSize, kernelSize, stride, padding int) int {
	return (inputSize+2*padding-kernelSize)/stride + 1
}

// Done indicates that the convolve operation is finished being configured, and
// it returns the output of the convolution.
func (conv *ConvolutionBuilder) Done() *Node {
	xDims, kDims := conv.x.Shape().Dimensions, conv.kernel.Shape().Dimensions
	g := &convGeometry{
		batchSize: xDims[0], inChannels: xDims[1], height: xDims[2], width: xDims[3],
		outChannels: kDims[0], kernelHeight: kDims[2], kernelWidth: kDims[3],
		strides: conv.strides, paddings: conv.paddings,
	}
	if conv.padSame {
		if g.kernelHeight%2 == 0 || g.kernelWidth%2 == 0 {
			exceptions.Panicf("Convolve.PadSame() requires odd kernel sizes, got kernel.shape=%s", conv.kernel.Shape())
		}
		g.paddings = [2]int{g.kernelHeight / 2, g.kernelWidth / 2}
	}
	g.outHeight = expectedOutputSize(g.height, g.kernelHeight, g.strides[0], g.paddings[0])
	g.outWidth = expectedOutputSize(g.width, g.kernelWidth, g.strides[1], g.paddings[1])
	if g.outHeight < 1 || g.outWidth < 1 {
		exceptions.Panicf("Convolve: kernel %s is larger than the padded input %s", conv.kernel.Shape(), conv.x.Shape())
	}
	if conv.bias != nil {
		shapes.AssertDims(conv.bias, g.outChannels)
	}

	// cols are kept for the VJP of the kernel.
	output := tensors.FromShape(shapes.Make(g.batchSize, g.outChannels, g.outHeight, g.outWidth))
	kernelMat := mat.NewDense(g.outChannels, g.patchSize(), conv.kernel.value.Flat())
	cols := make([]*mat.Dense, g.batchSize)
	exampleInSize := g.inChannels * g.height * g.width
	exampleOutSize := g.outChannels * g.numPatches()
	for example := range g.batchSize {
		cols[example] = im2col(conv.x.value.Flat()[example*exampleInSize:(example+1)*exampleInSize], g)
		outMat := mat.NewDense(g.outChannels, g.numPatches(), output.Flat()[example*exampleOutSize:(example+1)*exampleOutSize])
		outMat.Mul(kernelMat, cols[example])
	}
	if conv.bias != nil {
		biasFlat := conv.bias.value.Flat()
		outFlat := output.Flat()
		for example := range g.batchSize {
			for channel := range g.outChannels {
				start := example*exampleOutSize + channel*g.numPatches()
				floats.AddConst(biasFlat[channel], outFlat[start:start+g.numPatches()])
			}
		}
	}

	vjp := func(v *tensors.Tensor, needed []bool) []*tensors.Tensor {
		grads := make([]*tensors.Tensor, 3)
		vFlat := v.Flat()
		if needed[0] {
			grads[0] = tensors.FromShape(conv.x.Shape())
			colGrad := mat.NewDense(g.patchSize(), g.numPatches(), nil)
			for example := range g.batchSize {
				vMat := mat.NewDense(g.outChannels, g.numPatches(), vFlat[example*exampleOutSize:(example+1)*exampleOutSize])
				colGrad.Mul(kernelMat.T(), vMat)
				col2im(colGrad, grads[0].Flat()[example*exampleInSize:(example+1)*exampleInSize], g)
			}
		}
		if needed[1] {
			grads[1] = tensors.FromShape(conv.kernel.Shape())
			kernelGrad := mat.NewDense(g.outChannels, g.patchSize(), grads[1].Flat())
			var exampleGrad mat.Dense
			for example := range g.batchSize {
				vMat := mat.NewDense(g.outChannels, g.numPatches(), vFlat[example*exampleOutSize:(example+1)*exampleOutSize])
				exampleGrad.Mul(vMat, cols[example].T())
				kernelGrad.Add(kernelGrad, &exampleGrad)
			}
		}
		if conv.bias != nil && needed[2] {
			grads[2] = tensors.FromShape(conv.bias.Shape())
			biasGrad := grads[2].Flat()
			for example := range g.batchSize {
				for channel := range g.outChannels {
					start := example*exampleOutSize + channel*g.numPatches()
					biasGrad[channel] += floats.Sum(vFlat[start : start+g.numPatches()])
				}
			}
		}
		return grads
	}
	return newNode("Convolve", output, vjp, conv.x, conv.kernel, conv.bias)
}

// im2col unfolds one example [inChannels, height, width] into a matrix shaped
// [inChannels*kernelHeight*kernelWidth, outHeight*outWidth]. Padded positions are zero.
func im2col(x []float64, g *convGeometry) *mat.Dense {
	data := make([]float64, g.patchSize()*g.numPatches())
	numPatches := g.numPatches()
	row := 0
	for channel := range g.inChannels {
		channelData := x[channel*g.height*g.width:]
		for kh := range g.kernelHeight {
			for kw := range g.kernelWidth {
				rowData := data[row*numPatches : (row+1)*numPatches]
				for oh := range g.outHeight {
					ih := oh*g.strides[0] - g.paddings[0] + kh
					if ih < 0 || ih >= g.height {
						continue
					}
					for ow := range g.outWidth {
						iw := ow*g.strides[1] - g.paddings[1] + kw
						if iw < 0 || iw >= g.width {
							continue
						}
						rowData[oh*g.outWidth+ow] = channelData[ih*g.width+iw]
					}
				}
				row++
			}
		}
	}
	return mat.NewDense(g.patchSize(), numPatches, data)
}

// col2im is the transpose of im2col: it accumulates the columns back into one example
// [inChannels, height, width]. Values at padded positions are dropped.
func col2im(cols *mat.Dense, x []float64, g *convGeometry) {
	row := 0
	for channel := range g.inChannels {
		channelData := x[channel*g.height*g.width:]
		for kh := range g.kernelHeight {
			for kw := range g.kernelWidth {
				rowData := cols.RawRowView(row)
				for oh := range g.outHeight {
					ih := oh*g.strides[0] - g.paddings[0] + kh
					if ih < 0 || ih >= g.height {
						continue
					}
					for ow := range g.outWidth {
						iw := ow*g.strides[1] - g.paddings[1] + kw
						if iw < 0 || iw >= g.width {
							continue
						}
						channelData[ih*g.width+iw] += rowData[oh*g.outWidth+ow]
					}
				}
				row++
			}
		}
	}
}
