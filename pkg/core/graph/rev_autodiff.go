// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
	"github.com/gomlx/exceptions"
)

// This file implements reverse-mode automatic differentiation, using accumulated VJPs (Vector Jacobian Product).
//
// Conventions:
//
// * root node: the scalar whose gradient we want.
// * selected leaves: the leaves with respect to which we want the gradient. If none are given, all leaves
//   reachable from the root that require gradients are selected.
// * useful nodes: nodes in the path from the root to a selected leaf. Only those need their VJP
//   to be propagated.

// reverseGraph holds the nodes reachable from the root, ordered by id.
type reverseGraph struct {
	root     *Node
	nodes    []*Node
	selected map[*Node]bool
	useful   map[*Node]bool
}

func newReverseGraph(root *Node, leaves []*Node) *reverseGraph {
	rg := &reverseGraph{root: root, useful: make(map[*Node]bool)}
	if len(leaves) > 0 {
		rg.selected = make(map[*Node]bool, len(leaves))
		for _, leaf := range leaves {
			if !leaf.leaf {
				exceptions.Panicf("gradients can only be taken with respect to leaves, got %s", leaf)
			}
			rg.selected[leaf] = true
		}
	}

	// Collect nodes reachable from root, through nodes that require gradients.
	visited := make(map[*Node]bool)
	stack := []*Node{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[node] {
			continue
		}
		visited[node] = true
		rg.nodes = append(rg.nodes, node)
		for _, input := range node.inputs {
			if input != nil && input.requiresGrad && !visited[input] {
				stack = append(stack, input)
			}
		}
	}
	slices.SortFunc(rg.nodes, func(a, b *Node) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})

	// Mark useful nodes: in id order, all inputs are visited before their consumers.
	for _, node := range rg.nodes {
		if node.leaf {
			rg.useful[node] = rg.isSelected(node)
			continue
		}
		for _, input := range node.inputs {
			if input != nil && rg.useful[input] {
				rg.useful[node] = true
				break
			}
		}
	}
	return rg
}

func (rg *reverseGraph) isSelected(leaf *Node) bool {
	if rg.selected == nil {
		return leaf.requiresGrad
	}
	return rg.selected[leaf]
}

// backprop returns the VJPs of the selected leaves.
func (rg *reverseGraph) backprop() map[*Node]*tensors.Tensor {
	vjps := make(map[*Node]*tensors.Tensor, len(rg.nodes))
	vjps[rg.root] = tensors.FromScalarAndDimensions(1, rg.root.Shape().Dimensions...)
	leafGrads := make(map[*Node]*tensors.Tensor)

	// Loop from the root backwards: by the time a node is reached, all nodes consuming its
	// output have already pushed their VJPs to it.
	for nodeIdx := len(rg.nodes) - 1; nodeIdx >= 0; nodeIdx-- {
		node := rg.nodes[nodeIdx]
		v := vjps[node]
		if v == nil || !rg.useful[node] {
			continue
		}
		if node.leaf {
			leafGrads[node] = v
			continue
		}
		if node.vjp == nil {
			exceptions.Panicf("graph has node %s, for which no gradient is defined, cannot back-propagate", node)
		}
		needed := make([]bool, len(node.inputs))
		for ii, input := range node.inputs {
			needed[ii] = input != nil && rg.useful[input]
		}
		inputsVJPs := node.vjp(v, needed)
		if len(inputsVJPs) != len(node.inputs) {
			exceptions.Panicf("VJP(%s) returned %d VJPs, but it has %d inputs, implementation of auto-differentiation for node failed",
				node, len(inputsVJPs), len(node.inputs))
		}
		for ii, input := range node.inputs {
			vjp := inputsVJPs[ii]
			if vjp == nil || !needed[ii] {
				continue
			}
			if !vjp.Shape().Equal(input.Shape()) {
				exceptions.Panicf("invalid gradient calculation for node %s: VJP for input #%d has shape %s, but input has shape %s",
					node, ii, vjp.Shape(), input.Shape())
			}
			if accumulated, found := vjps[input]; found {
				accumulated.AddInPlace(vjp)
			} else {
				// Clone: a VJP function may return a tensor it shares with another input.
				vjps[input] = vjp.Clone()
			}
		}
		// Free intermediary VJPs as soon as they are consumed.
		delete(vjps, node)
	}
	return leafGrads
}

func checkRoot(root *Node) {
	if root.Shape().Size() != 1 {
		exceptions.Panicf("only gradients of a scalar are accepted, not jacobians, but root has shape %s", root.Shape())
	}
	if !root.requiresGrad {
		exceptions.Panicf("root %s doesn't depend on any leaf requiring gradients", root)
	}
}

// Backward computes the gradient of the scalar root with respect to leaves and accumulates it on
// each leaf's Grad.
//
// If no leaves are given, all leaves reachable from root that require gradients receive their
// gradients. Otherwise, only the given leaves do, and only the part of the graph in the path
// to them is back-propagated.
func Backward(root *Node, leaves ...*Node) {
	checkRoot(root)
	grads := newReverseGraph(root, leaves).backprop()
	for leaf, grad := range grads {
		if leaf.grad == nil {
			leaf.grad = grad
		} else {
			leaf.grad.AddInPlace(grad)
		}
	}
}

// Gradient returns the gradient of the scalar root with respect to each of the given leaves, without
// accumulating them on the leaves. Leaves the root doesn't depend on get a zero gradient.
func Gradient(root *Node, leaves ...*Node) []*tensors.Tensor {
	checkRoot(root)
	if len(leaves) == 0 {
		exceptions.Panicf("Gradient requires at least one leaf")
	}
	grads := newReverseGraph(root, leaves).backprop()
	results := make([]*tensors.Tensor, len(leaves))
	for ii, leaf := range leaves {
		if grad, found := grads[leaf]; found {
			results[ii] = grad
		} else {
			results[ii] = tensors.FromShape(leaf.Shape())
		}
	}
	return results
}
