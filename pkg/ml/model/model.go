// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package model organizes layers in a tree of named modules, in the way CNN models are usually
// written: a Module either wraps a single layers.Layer, or holds an ordered list of child modules
// that are applied in sequence.
//
// The tree supports:
//
//   - Partial forward: ForwardUntil runs the children in definition order and stops right after
//     the selected one.
//   - Lookup of nested sub-modules by a dotted path, where each segment is a child name or position.
//   - Forward hooks, called with the output of a module each time it runs, see RegisterForwardHook.
//   - Training/evaluation mode, parameters with dotted names, and saving/loading the weights as
//     NumPy `.npz` files.
//
// Example:
//
//	features := model.Sequential("features",
//		model.New("0", layers.Convolution(3).Channels(8).KernelSize(3).PadSame().Done()),
//		model.New("1", layers.ReLU{}),
//	)
//	net := model.Sequential("net", features, model.New("flatten", layers.Flatten{}))
//	conv := must.M1(net.Lookup("features.0"))
package model

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/graph"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/shapes"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/layers"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// ErrModuleNotFound is returned (wrapped) by Lookup when a path doesn't match any sub-module.
var ErrModuleNotFound = errors.New("module not found")

// Module is a named node of the model tree. It either wraps a layer, or holds children.
//
// The structure of the tree is immutable after construction. The hooks table is protected by a
// mutex, but concurrent forward passes through the same module with hooks are not supported:
// hooks would observe the outputs of every pass.
type Module struct {
	name     string
	layer    layers.Layer
	children []*Module
	training bool

	muHooks    sync.Mutex
	hooks      []*HookHandle
	nextHookID uint64
}

// New creates a module wrapping the given layer. The module starts in training mode.
func New(name string, layer layers.Layer) *Module {
	if layer == nil {
		exceptions.Panicf("model.New(%q): layer cannot be nil", name)
	}
	return &Module{name: name, layer: layer, training: true}
}

// Sequential creates a module that applies its children in order. Children names must be unique.
func Sequential(name string, children ...*Module) *Module {
	seen := make(map[string]bool, len(children))
	for _, child := range children {
		if seen[child.name] {
			exceptions.Panicf("model.Sequential(%q): duplicate child name %q", name, child.name)
		}
		seen[child.name] = true
	}
	return &Module{name: name, children: children, training: true}
}

// Name of the module, as given at construction.
func (m *Module) Name() string { return m.name }

// Layer returns the layer wrapped by the module, or nil for a Sequential module.
func (m *Module) Layer() layers.Layer { return m.layer }

// Children returns the direct children of the module in definition order. Empty for a module
// wrapping a layer.
func (m *Module) Children() []*Module { return m.children }

// NumChildren is the number of direct children.
func (m *Module) NumChildren() int { return len(m.children) }

// Forward runs the module on x: the wrapped layer, or all the children in order. The module's
// forward hooks are called with the output before returning.
func (m *Module) Forward(x *graph.Node) *graph.Node {
	var output *graph.Node
	if m.layer != nil {
		output = m.layer.Forward(x)
	} else {
		output = m.forwardChildren(x, len(m.children)-1)
	}
	m.callHooks(x, output)
	return output
}

// ForwardUntil runs the children of the module in definition order, stopping right after the
// child at position index: children after it are never invoked. If index is past the last
// child, all children are run.
//
// The hooks of the children run as usual, but the module's own hooks are not called, since the
// result is not the module output.
//
// For a module wrapping a layer, it is the same as Forward.
func (m *Module) ForwardUntil(x *graph.Node, index int) *graph.Node {
	if m.layer != nil {
		return m.Forward(x)
	}
	if index < 0 {
		exceptions.Panicf("Module(%q).ForwardUntil(index=%d): index must be >= 0", m.name, index)
	}
	return m.forwardChildren(x, index)
}

func (m *Module) forwardChildren(x *graph.Node, index int) *graph.Node {
	for ii, child := range m.children {
		x = child.Forward(x)
		if ii == index {
			break
		}
	}
	return x
}

// Lookup returns the sub-module at the given dotted path, relative to m. Each segment of the path
// matches a child by name or, if no child has that name and the segment is a number, by position.
// An empty path returns m itself.
//
// It returns an error wrapping ErrModuleNotFound if the path doesn't match any sub-module.
func (m *Module) Lookup(path string) (*Module, error) {
	if path == "" {
		return m, nil
	}
	current := m
	for _, segment := range strings.Split(path, ".") {
		next := current.child(segment)
		if next == nil {
			return nil, errors.Wrapf(ErrModuleNotFound, "no sub-module %q in %q (while looking up %q)", segment, current.name, path)
		}
		current = next
	}
	return current, nil
}

func (m *Module) child(segment string) *Module {
	for _, child := range m.children {
		if child.name == segment {
			return child
		}
	}
	if idx, err := strconv.Atoi(segment); err == nil && idx >= 0 && idx < len(m.children) {
		return m.children[idx]
	}
	return nil
}

// Train sets the module and all its sub-modules to training mode.
func (m *Module) Train() { m.setTraining(true) }

// Eval sets the module and all its sub-modules to evaluation mode: layers like Dropout become
// the identity.
func (m *Module) Eval() { m.setTraining(false) }

// IsTraining returns whether the module is in training mode.
func (m *Module) IsTraining() bool { return m.training }

func (m *Module) setTraining(training bool) {
	m.training = training
	if setter, ok := m.layer.(layers.TrainingSetter); ok {
		setter.SetTraining(training)
	}
	for _, child := range m.children {
		child.setTraining(training)
	}
}

// Parameters returns all the trainable parameters of the module and its sub-modules, in definition
// order, with dotted names relative to m (e.g.: "features.0.weight").
//
// The returned Parameter objects are new, but their nodes are the ones used by the layers.
func (m *Module) Parameters() []*layers.Parameter {
	var params []*layers.Parameter
	m.walkParameters("", func(name string, param *layers.Parameter) {
		params = append(params, &layers.Parameter{Name: name, Node: param.Node})
	})
	return params
}

func (m *Module) walkParameters(prefix string, fn func(name string, param *layers.Parameter)) {
	if m.layer != nil {
		for _, param := range m.layer.Parameters() {
			fn(prefix+param.Name, param)
		}
		return
	}
	for _, child := range m.children {
		child.walkParameters(prefix+child.name+".", fn)
	}
}

// NumParameters returns the total number of scalar values in the trainable parameters.
func (m *Module) NumParameters() int {
	var total int
	for _, param := range m.Parameters() {
		total += param.Node.Shape().Size()
	}
	return total
}

// ZeroGrad clears the accumulated gradients of all parameters.
func (m *Module) ZeroGrad() {
	for _, param := range m.Parameters() {
		param.Node.ZeroGrad()
	}
}

// OutputShape returns the output shape of the module for the given input shape, without running it.
func (m *Module) OutputShape(input shapes.Shape) shapes.Shape {
	return m.OutputShapeUntil(input, len(m.children)-1)
}

// OutputShapeUntil is like OutputShape, but stops right after the child at position index, like ForwardUntil.
func (m *Module) OutputShapeUntil(input shapes.Shape, index int) shapes.Shape {
	if m.layer != nil {
		return m.layer.OutputShape(input)
	}
	shape := input
	for ii, child := range m.children {
		shape = child.OutputShape(shape)
		if ii == index {
			break
		}
	}
	return shape
}

// String returns a multi-line description of the module tree.
func (m *Module) String() string {
	var sb strings.Builder
	m.writeTo(&sb, 0)
	return sb.String()
}

func (m *Module) writeTo(sb *strings.Builder, indent int) {
	if m.layer != nil {
		sb.WriteString(m.layer.String())
		return
	}
	sb.WriteString("Sequential(\n")
	for _, child := range m.children {
		fmt.Fprintf(sb, "%s(%s): ", strings.Repeat("  ", indent+1), child.name)
		child.writeTo(sb, indent+1)
		sb.WriteString("\n")
	}
	fmt.Fprintf(sb, "%s)", strings.Repeat("  ", indent))
}
