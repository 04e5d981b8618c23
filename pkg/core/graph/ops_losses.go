// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"math"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
	"github.com/gomlx/exceptions"
	"gonum.org/v1/gonum/floats"
)

// Softmax of the logits over the last axis of x, shaped [batch, classes]. It returns a tensor,
// since it is used for predictions only.
func Softmax(x *tensors.Tensor) *tensors.Tensor {
	if x.Rank() != 2 {
		exceptions.Panicf("Softmax requires rank-2 logits [batch, classes], got shape %s", x.Shape())
	}
	numClasses := x.Shape().Dim(1)
	output := x.Clone()
	outFlat := output.Flat()
	for row := range x.Shape().Dim(0) {
		rowData := outFlat[row*numClasses : (row+1)*numClasses]
		// Subtract the max for numerical stability.
		floats.AddConst(-floats.Max(rowData), rowData)
		for ii, v := range rowData {
			rowData[ii] = math.Exp(v)
		}
		floats.Scale(1/floats.Sum(rowData), rowData)
	}
	return output
}

// SparseSoftmaxCrossEntropy returns the mean over the batch of the cross-entropy between
// softmax(logits) and the labels, given as class indices.
//
// logits are shaped [batch, classes], and len(labels) must be batch.
func SparseSoftmaxCrossEntropy(logits *Node, labels []int) *Node {
	if logits.Rank() != 2 || logits.Shape().Dim(0) != len(labels) {
		exceptions.Panicf("SparseSoftmaxCrossEntropy: logits must be shaped [batch, classes] with batch=len(labels)=%d, got logits.shape=%s",
			len(labels), logits.Shape())
	}
	batchSize, numClasses := logits.Shape().Dim(0), logits.Shape().Dim(1)
	probs := Softmax(logits.value)
	probsFlat := probs.Flat()
	var loss float64
	for row, label := range labels {
		if label < 0 || label >= numClasses {
			exceptions.Panicf("SparseSoftmaxCrossEntropy: label %d for example #%d out of range for %d classes", label, row, numClasses)
		}
		loss -= math.Log(max(probsFlat[row*numClasses+label], math.SmallestNonzeroFloat64))
	}
	loss /= float64(batchSize)
	return newNode("SparseSoftmaxCrossEntropy", tensors.FromScalar(loss), func(v *tensors.Tensor, _ []bool) []*tensors.Tensor {
		// d(loss)/d(logits) = (softmax - onehot(label)) / batchSize.
		grad := probs.Clone()
		gradFlat := grad.Flat()
		for row, label := range labels {
			gradFlat[row*numClasses+label] -= 1
		}
		floats.Scale(v.ToScalar()/float64(batchSize), gradFlat)
		return []*tensors.Tensor{grad}
	}, logits)
}
