// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	_ "embed"
	"math/rand/v2"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/layers"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/model"
	"github.com/gomlx/exceptions"
)

//go:embed smallcnn.go
var smallCNNSource string

// SmallCNNBuilder configures a SmallCNN model. Create it with SmallCNN and call Done.
type SmallCNNBuilder struct {
	config
	hidden int
}

// SmallCNN prepares a small CNN classifier with the top-level children:
//
//	conv1 -> relu1 -> pool1 -> conv2 -> relu2 -> pool2 -> flatten -> fc1 -> relu3 -> fc2
//
// The convolutions have 16 and 32 channels, kernel 3 and padding 1, and each pooling halves the
// image. Defaults: 3 channels, 224x224 images, 64 hidden units and 10 classes.
func SmallCNN() *SmallCNNBuilder {
	return &SmallCNNBuilder{config: defaultConfig(), hidden: 64}
}

// Channels sets the number of channels of the input images. Default is 3.
func (b *SmallCNNBuilder) Channels(channels int) *SmallCNNBuilder {
	b.channels = channels
	return b
}

// ImageSize sets the size of the input images, used to size the first dense layer. Default is 224x224.
func (b *SmallCNNBuilder) ImageSize(height, width int) *SmallCNNBuilder {
	b.setImageSize(height, width)
	return b
}

// Classes sets the number of output logits. Default is 10.
func (b *SmallCNNBuilder) Classes(classes int) *SmallCNNBuilder {
	b.classes = classes
	return b
}

// Hidden sets the number of units of the hidden dense layer. Default is 64.
func (b *SmallCNNBuilder) Hidden(hidden int) *SmallCNNBuilder {
	b.hidden = hidden
	return b
}

// WithRand sets the random number generator used to initialize the parameters.
// If not set, the layers' default generator is used.
func (b *SmallCNNBuilder) WithRand(rng *rand.Rand) *SmallCNNBuilder {
	b.rng = rng
	return b
}

// Done builds the model.
func (b *SmallCNNBuilder) Done() *model.Module {
	if b.hidden <= 0 || b.classes <= 0 {
		exceptions.Panicf("SmallCNN: hidden (%d) and classes (%d) must be > 0", b.hidden, b.classes)
	}
	children := []*model.Module{
		model.New("conv1", layers.Convolution(b.channels).Channels(16).KernelSize(3).Padding(1).WithRand(b.rng).Done()),
		model.New("relu1", layers.ReLU{}),
		model.New("pool1", layers.NewMaxPool2D(2, 2)),
		model.New("conv2", layers.Convolution(16).Channels(32).KernelSize(3).Padding(1).WithRand(b.rng).Done()),
		model.New("relu2", layers.ReLU{}),
		model.New("pool2", layers.NewMaxPool2D(2, 2)),
		model.New("flatten", layers.Flatten{}),
	}
	fcDim := b.flattenedSize(model.Sequential("SmallCNN", children...))
	children = append(children,
		model.New("fc1", layers.DenseLayer(fcDim, b.hidden).WithRand(b.rng).Done()),
		model.New("relu3", layers.ReLU{}),
		model.New("fc2", layers.DenseLayer(b.hidden, b.classes).WithRand(b.rng).Done()),
	)
	return model.Sequential("SmallCNN", children...)
}

// Description returns the model description with the builder's arguments.
func (b *SmallCNNBuilder) Description() Description {
	args := b.args()
	args["hidden"] = b.hidden
	return Description{ClassName: "SmallCNN", SourceCode: smallCNNSource, Args: args}
}
