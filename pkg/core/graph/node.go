// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph implements eager computation with reverse-mode automatic differentiation.
//
// Each operation (Conv2D, ReLU, ReduceMean, ...) computes its value immediately and returns a
// *Node. Nodes that depend on a leaf requiring gradients also record their inputs and a VJP
// (Vector Jacobian Product) function, so Backward can later propagate gradients from a scalar
// root back to the leaves.
//
// Leaves are created with Leaf (or Const, for leaves that don't require gradients). A leaf has
// no recorded history, which makes it suitable to be directly updated by an optimizer.
//
// Errors in graph operations (shape mismatches, out-of-bound indices) panic, with errors created
// by github.com/gomlx/exceptions or github.com/pkg/errors. Use exceptions.TryCatch[error] at API
// boundaries to convert them back to errors.
package graph

import (
	"fmt"
	"sync/atomic"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/shapes"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
	"github.com/gomlx/exceptions"
)

// VJPFn calculates the VJP (gradient of the root with respect to each of the node's inputs),
// given the VJP of the root with respect to the node's output, v.
//
// needed[i] tells whether the gradient for input i is used: implementations may skip the
// calculation and return nil for it. It must return one value per input. A nil value means
// no gradient flows to that input.
type VJPFn func(v *tensors.Tensor, needed []bool) []*tensors.Tensor

// nodeIDs is used to give nodes an increasing id: inputs are always created before the
// nodes consuming them, so the id order is a topological order of the graph.
var nodeIDs atomic.Uint64

// Node holds the value of an operation and, if it requires gradients, how it was computed.
type Node struct {
	id           uint64
	opName       string
	value        *tensors.Tensor
	inputs       []*Node
	vjp          VJPFn
	requiresGrad bool
	leaf         bool

	// grad is the accumulated gradient for leaves, populated by Backward.
	grad *tensors.Tensor
}

// Leaf creates a node with no history for the given value. If requiresGrad is true,
// Backward will accumulate gradients on it, see Node.Grad.
//
// The value is not copied: optimizers update leaf values in place.
func Leaf(value *tensors.Tensor, requiresGrad bool) *Node {
	return &Node{
		id:           nodeIDs.Add(1),
		opName:       "Leaf",
		value:        value,
		requiresGrad: requiresGrad,
		leaf:         true,
	}
}

// Const creates a leaf that doesn't require gradients.
func Const(value *tensors.Tensor) *Node {
	return Leaf(value, false)
}

// newNode creates the output node of an operation. History (inputs and vjp) is only recorded
// if any of the inputs requires gradients.
func newNode(opName string, value *tensors.Tensor, vjp VJPFn, inputs ...*Node) *Node {
	n := &Node{
		id:     nodeIDs.Add(1),
		opName: opName,
		value:  value,
	}
	for _, input := range inputs {
		if input != nil && input.requiresGrad {
			n.requiresGrad = true
			break
		}
	}
	if n.requiresGrad {
		n.inputs = inputs
		n.vjp = vjp
	}
	return n
}

// Value of the node. For leaves this is the same tensor given at creation.
func (n *Node) Value() *tensors.Tensor { return n.value }

// Shape of the node's value.
func (n *Node) Shape() shapes.Shape { return n.value.Shape() }

// Rank of the node's value.
func (n *Node) Rank() int { return n.value.Rank() }

// OpName returns the name of the operation that created the node.
func (n *Node) OpName() string { return n.opName }

// IsLeaf returns whether the node has no recorded history.
func (n *Node) IsLeaf() bool { return n.leaf }

// RequiresGrad returns whether gradients flow through this node.
func (n *Node) RequiresGrad() bool { return n.requiresGrad }

// SetRequiresGrad changes whether a leaf requires gradients. It panics for non-leaf nodes.
func (n *Node) SetRequiresGrad(requiresGrad bool) {
	if !n.leaf {
		exceptions.Panicf("SetRequiresGrad(%v) called on non-leaf node %s", requiresGrad, n)
	}
	n.requiresGrad = requiresGrad
}

// Inputs returns the recorded inputs of the node. It is empty for leaves and for nodes
// that don't require gradients.
func (n *Node) Inputs() []*Node { return n.inputs }

// Grad returns the gradient accumulated on a leaf by Backward, or nil if none was accumulated
// since the last ZeroGrad.
func (n *Node) Grad() *tensors.Tensor { return n.grad }

// ZeroGrad clears the accumulated gradient.
func (n *Node) ZeroGrad() { n.grad = nil }

// Detach returns a leaf sharing the node's value but with no history and no gradients.
func (n *Node) Detach() *Node {
	return Const(n.value)
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	return fmt.Sprintf("#%d %s%s(requiresGrad=%v)", n.id, n.opName, n.Shape(), n.requiresGrad)
}
