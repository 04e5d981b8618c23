// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package losses have the standard losses that implement the LossFn interface, used by train.Trainer.
package losses

import (
	"strings"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/graph"
	"github.com/pkg/errors"
)

// LossFn is the interface used by train.Trainer to train models.
//
// It takes as inputs the labels, from the dataset, and the logits, from the model, and returns
// the scalar loss to minimize.
type LossFn func(labels []int, logits *graph.Node) (loss *graph.Node)

// SparseCategoricalCrossEntropyLogits returns the mean over the batch of the cross-entropy loss
// of the logits, shaped [batch, numClasses], given the labels as class indices.
func SparseCategoricalCrossEntropyLogits(labels []int, logits *graph.Node) *graph.Node {
	return graph.SparseSoftmaxCrossEntropy(logits, labels)
}

// SumSparseCategoricalCrossEntropyLogits is like SparseCategoricalCrossEntropyLogits, but returns
// the sum over the batch instead of the mean.
func SumSparseCategoricalCrossEntropyLogits(labels []int, logits *graph.Node) *graph.Node {
	return graph.MulScalar(graph.SparseSoftmaxCrossEntropy(logits, labels), float64(len(labels)))
}

// ByName returns the loss function with the given name: "cross_entropy" or "sum_cross_entropy".
func ByName(name string) (LossFn, error) {
	switch strings.ToLower(name) {
	case "cross_entropy", "crossentropy":
		return SparseCategoricalCrossEntropyLogits, nil
	case "sum_cross_entropy":
		return SumSparseCategoricalCrossEntropyLogits, nil
	}
	return nil, errors.Errorf("unknown loss %q, valid values are \"cross_entropy\" and \"sum_cross_entropy\"", name)
}
