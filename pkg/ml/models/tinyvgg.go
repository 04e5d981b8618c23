// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package models

import (
	_ "embed"
	"math/rand/v2"
	"strconv"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/layers"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/model"
)

//go:embed tinyvgg.go
var tinyVGGSource string

// TinyVGGBuilder configures a TinyVGG model. Create it with TinyVGG and call Done.
type TinyVGGBuilder struct {
	config
	widths  []int
	hidden  int
	dropout float64
}

// TinyVGG prepares a small VGG-style model with two top-level children, like the torchvision VGG
// models:
//
//   - "features": for each block, two 3x3 convolutions (padding 1) each followed by a ReLU,
//     and a 2x2 max-pooling. Children are named by their position ("0", "1", ...).
//   - "classifier": flatten, dense, ReLU, dropout and the final dense layer.
//
// Visualizations of the convolutions are done on the "features" module.
//
// Defaults: 3 channels, 224x224 images, blocks with 8 and 16 channels, 32 hidden units,
// dropout 0.5 and 10 classes.
func TinyVGG() *TinyVGGBuilder {
	return &TinyVGGBuilder{config: defaultConfig(), widths: []int{8, 16}, hidden: 32, dropout: 0.5}
}

// Channels sets the number of channels of the input images. Default is 3.
func (b *TinyVGGBuilder) Channels(channels int) *TinyVGGBuilder {
	b.channels = channels
	return b
}

// ImageSize sets the size of the input images, used to size the first dense layer. Default is 224x224.
func (b *TinyVGGBuilder) ImageSize(height, width int) *TinyVGGBuilder {
	b.setImageSize(height, width)
	return b
}

// Classes sets the number of output logits. Default is 10.
func (b *TinyVGGBuilder) Classes(classes int) *TinyVGGBuilder {
	b.classes = classes
	return b
}

// Blocks sets the number of channels of each convolutional block.
func (b *TinyVGGBuilder) Blocks(widths ...int) *TinyVGGBuilder {
	b.widths = widths
	return b
}

// Hidden sets the number of units of the hidden dense layer. Default is 32.
func (b *TinyVGGBuilder) Hidden(hidden int) *TinyVGGBuilder {
	b.hidden = hidden
	return b
}

// Dropout sets the dropout rate of the classifier. Default is 0.5.
func (b *TinyVGGBuilder) Dropout(rate float64) *TinyVGGBuilder {
	b.dropout = rate
	return b
}

// WithRand sets the random number generator used to initialize the parameters.
func (b *TinyVGGBuilder) WithRand(rng *rand.Rand) *TinyVGGBuilder {
	b.rng = rng
	return b
}

// Done builds the model.
func (b *TinyVGGBuilder) Done() *model.Module {
	var features []*model.Module
	add := func(layer layers.Layer) {
		features = append(features, model.New(strconv.Itoa(len(features)), layer))
	}
	channels := b.channels
	for _, width := range b.widths {
		add(layers.Convolution(channels).Channels(width).KernelSize(3).Padding(1).WithRand(b.rng).Done())
		add(layers.ReLU{})
		add(layers.Convolution(width).Channels(width).KernelSize(3).Padding(1).WithRand(b.rng).Done())
		add(layers.ReLU{})
		add(layers.NewMaxPool2D(2, 2))
		channels = width
	}
	featuresModule := model.Sequential("features", features...)
	fcDim := b.flattenedSize(featuresModule)
	classifier := model.Sequential("classifier",
		model.New("0", layers.Flatten{}),
		model.New("1", layers.DenseLayer(fcDim, b.hidden).WithRand(b.rng).Done()),
		model.New("2", layers.ReLU{}),
		model.New("3", layers.NewDropout(b.dropout, b.rng)),
		model.New("4", layers.DenseLayer(b.hidden, b.classes).WithRand(b.rng).Done()),
	)
	return model.Sequential("TinyVGG", featuresModule, classifier)
}

// Description returns the model description with the builder's arguments.
func (b *TinyVGGBuilder) Description() Description {
	args := b.args()
	args["blocks"] = b.widths
	args["hidden"] = b.hidden
	args["dropout"] = b.dropout
	return Description{ClassName: "TinyVGG", SourceCode: tinyVGGSource, Args: args}
}
