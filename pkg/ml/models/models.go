// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package models holds sample CNN models, built as model.Module trees.
//
// Models are built in two phases: first the convolutional stages, then the size of the flattened
// features is computed with model.Module.OutputShape for the configured image size, and only then
// the dense stages are created.
//
// Each model also provides a Description, with its Go source code and construction arguments,
// used to register training runs with a tracking server.
package models

import (
	"math/rand/v2"
	"strings"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/shapes"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/model"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Description of a model, as registered with a tracking server.
type Description struct {
	// ClassName is the name of the model type, e.g. "SmallCNN".
	ClassName string

	// SourceCode is the Go source of the model definition.
	SourceCode string

	// Args are the construction arguments, keyed by name.
	Args map[string]any
}

// config holds the options shared by the sample models.
type config struct {
	channels, height, width, classes int
	rng                              *rand.Rand
}

func defaultConfig() config {
	return config{channels: 3, height: 224, width: 224, classes: 10}
}

func (c *config) setImageSize(height, width int) {
	if height <= 0 || width <= 0 {
		exceptions.Panicf("invalid image size %dx%d: dimensions must be > 0", height, width)
	}
	c.height, c.width = height, width
}

// flattenedSize is the number of features out of the convolutional stages, for one example.
func (c *config) flattenedSize(features *model.Module) int {
	shape := features.OutputShape(shapes.Make(1, c.channels, c.height, c.width))
	return shape.Size()
}

func (c *config) args() map[string]any {
	return map[string]any{
		"channels": c.channels,
		"height":   c.height,
		"width":    c.width,
		"classes":  c.classes,
	}
}

// Names of the sample models accepted by Build.
var Names = []string{"SmallCNN", "TinyVGG"}

// Options for Build. Zero values take the defaults of the model.
type Options struct {
	Channels, Height, Width, Classes int
	Rand                             *rand.Rand
}

// Build creates one of the sample models by name (see Names), matched case-insensitively.
func Build(name string, opts Options) (*model.Module, Description, error) {
	base := defaultConfig()
	if opts.Channels > 0 {
		base.channels = opts.Channels
	}
	if opts.Height > 0 && opts.Width > 0 {
		base.height, base.width = opts.Height, opts.Width
	}
	if opts.Classes > 0 {
		base.classes = opts.Classes
	}
	base.rng = opts.Rand
	switch strings.ToLower(name) {
	case "smallcnn":
		b := SmallCNN()
		b.config = base
		return b.Done(), b.Description(), nil
	case "tinyvgg":
		b := TinyVGG()
		b.config = base
		return b.Done(), b.Description(), nil
	}
	return nil, Description{}, errors.Errorf("unknown model %q, valid models are %v", name, Names)
}

// Features returns the part of the model whose children are the convolutional stages: the
// "features" sub-module if there is one (as in TinyVGG), or the model itself (as in SmallCNN).
func Features(m *model.Module) *model.Module {
	if features, err := m.Lookup("features"); err == nil && features.Layer() == nil {
		return features
	}
	return m
}
