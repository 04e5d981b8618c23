// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package visualizers

import (
	"strconv"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/graph"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/model"
	"github.com/pkg/errors"
)

// ErrActivationNotCaptured is returned when the forward hook didn't fire during the forward
// pass of an iteration, e.g. because the hooked module is not run up to the selected layer.
var ErrActivationNotCaptured = errors.New("activation not captured by the forward hook")

// ExtractFn returns the activation to maximize, given the output of the forward pass up to the
// selected layer.
type ExtractFn func(output *graph.Node) (*graph.Node, error)

// ActivationExtractor is a strategy to obtain the activation of the selected filter in each
// iteration of a visualization.
type ActivationExtractor interface {
	// Begin is called once before the optimization loop starts. It returns the function called at
	// each iteration, and a release function called when the visualization ends, on every path.
	Begin(v *CNNLayerVisualization) (extract ExtractFn, release func(), err error)
}

// DirectExtractor takes the activation from the output of the selected layer: output[0, filter].
//
// Only top-level children can be targeted, and the activation is the raw output of the layer,
// before any activation function in the following children.
type DirectExtractor struct{}

// Begin implements ActivationExtractor.
func (DirectExtractor) Begin(v *CNNLayerVisualization) (ExtractFn, func(), error) {
	filter := v.selectedFilter
	return func(output *graph.Node) (*graph.Node, error) {
		return graph.Index(output, 0, filter), nil
	}, func() {}, nil
}

// HookExtractor captures the activation with a forward hook on a sub-module: output[0, filter]
// of the sub-module at Path, or at the visualizer HookPath if Path is empty, or at the selected
// layer index otherwise.
//
// Any nested sub-module can be targeted, as long as it runs during the forward pass up to the
// selected layer. The hook is registered when the visualization begins, and removed when it ends.
type HookExtractor struct {
	Path string
}

// Begin implements ActivationExtractor.
func (e HookExtractor) Begin(v *CNNLayerVisualization) (ExtractFn, func(), error) {
	path := e.Path
	if path == "" {
		path = v.hookPath
	}
	if path == "" {
		path = strconv.Itoa(v.selectedLayer)
	}
	target, err := v.model.Lookup(path)
	if err != nil {
		return nil, nil, err
	}
	filter := v.selectedFilter
	var captured *graph.Node
	handle := target.RegisterForwardHook(func(_ *model.Module, _, output *graph.Node) {
		captured = graph.Index(output, 0, filter)
	})
	extract := func(*graph.Node) (*graph.Node, error) {
		activation := captured
		captured = nil
		if activation == nil {
			return nil, errors.Wrapf(ErrActivationNotCaptured, "hook on %q did not fire", path)
		}
		return activation, nil
	}
	return extract, handle.Remove, nil
}
