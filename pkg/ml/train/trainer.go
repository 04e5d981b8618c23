// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package train holds tools to help run a training loop: the Trainer, that runs one step of
// training or evaluation of a model, the Loop, that runs the Trainer over datasets for a number
// of steps or epochs calling hooks along the way, and the History of the metrics per epoch.
package train

import (
	"io"
	"slices"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/graph"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/model"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/train/losses"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/train/metrics"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/train/optimizers"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Trainer runs the training and evaluation steps of a model.
//
// The first train and eval metrics are always the mean loss, followed by the metrics given to
// NewTrainer.
type Trainer struct {
	model        *model.Module
	parameters   []*graph.Node
	lossFn       losses.LossFn
	optimizer    optimizers.Interface
	trainMetrics []metrics.Interface
	evalMetrics  []metrics.Interface
}

// NewTrainer creates a Trainer for the model.
//
// The optimizer must have been created for the model parameters, e.g.:
//
//	opt := optimizers.SGD().LearningRate(0.001).Momentum(0.9).Done(train.ParameterNodes(net)...)
//	trainer := train.NewTrainer(net, losses.SparseCategoricalCrossEntropyLogits, opt,
//		[]metrics.Interface{metrics.NewSparseCategoricalAccuracy("Accuracy", "acc")},
//		[]metrics.Interface{metrics.NewSparseCategoricalAccuracy("Accuracy", "acc")})
func NewTrainer(m *model.Module, lossFn losses.LossFn, optimizer optimizers.Interface,
	trainMetrics, evalMetrics []metrics.Interface) *Trainer {
	if lossFn == nil || optimizer == nil {
		exceptions.Panicf("NewTrainer requires a loss function and an optimizer")
	}
	return &Trainer{
		model:        m,
		parameters:   ParameterNodes(m),
		lossFn:       lossFn,
		optimizer:    optimizer,
		trainMetrics: append([]metrics.Interface{metrics.NewMeanLoss("Mean Loss", "~loss")}, trainMetrics...),
		evalMetrics:  append([]metrics.Interface{metrics.NewMeanLoss("Mean Loss", "#loss")}, evalMetrics...),
	}
}

// ParameterNodes returns the nodes of the model parameters, the leaves updated by the optimizers.
func ParameterNodes(m *model.Module) []*graph.Node {
	var nodes []*graph.Node
	for _, param := range m.Parameters() {
		nodes = append(nodes, param.Node)
	}
	return nodes
}

// Model being trained.
func (r *Trainer) Model() *model.Module { return r.model }

// Optimizer used by TrainStep.
func (r *Trainer) Optimizer() optimizers.Interface { return r.optimizer }

// TrainMetrics returns the metrics updated by TrainStep. The first is the mean loss.
func (r *Trainer) TrainMetrics() []metrics.Interface { return slices.Clone(r.trainMetrics) }

// EvalMetrics returns the metrics computed by Eval. The first is the mean loss.
func (r *Trainer) EvalMetrics() []metrics.Interface { return slices.Clone(r.evalMetrics) }

// ResetTrainMetrics resets the train metrics, e.g. at the start of an epoch.
func (r *Trainer) ResetTrainMetrics() {
	for _, m := range r.trainMetrics {
		m.Reset()
	}
}

// TrainStep runs one training step on the batch: the model is set to training mode, the gradient
// of the loss is back-propagated to the parameters, and the optimizer updates them.
//
// It returns the values of the train metrics after the update with this batch.
func (r *Trainer) TrainStep(inputs *tensors.Tensor, labels []int) (values []float64, err error) {
	err = exceptions.TryCatch[error](func() {
		r.model.Train()
		r.optimizer.ZeroGrad()
		logits := r.model.Forward(graph.Const(inputs))
		loss := r.lossFn(labels, logits)
		graph.Backward(loss, r.parameters...)
		r.optimizer.Step()
		lossValue := loss.Value().ToScalar()
		for _, m := range r.trainMetrics {
			m.Update(labels, logits.Value(), lossValue)
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "TrainStep(step=%d)", r.optimizer.NumSteps())
	}
	return metricValues(r.trainMetrics), nil
}

// EvalStep runs the model in evaluation mode on one batch, and updates the eval metrics.
func (r *Trainer) EvalStep(inputs *tensors.Tensor, labels []int) error {
	return r.withEvalMode(func() error {
		return exceptions.TryCatch[error](func() {
			logits := r.model.Forward(graph.Const(inputs))
			loss := r.lossFn(labels, logits).Value().ToScalar()
			for _, m := range r.evalMetrics {
				m.Update(labels, logits.Value(), loss)
			}
		})
	})
}

// Eval resets the eval metrics, runs them over the whole dataset and returns their values.
// The dataset is reset before and after use.
func (r *Trainer) Eval(ds Dataset) (values []float64, err error) {
	for _, m := range r.evalMetrics {
		m.Reset()
	}
	ds.Reset()
	defer ds.Reset()
	var numBatches int
	for {
		inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "Eval(%q): failed reading batch #%d", ds.Name(), numBatches)
		}
		if err = r.EvalStep(inputs, labels); err != nil {
			return nil, errors.WithMessagef(err, "Eval(%q): batch #%d", ds.Name(), numBatches)
		}
		numBatches++
	}
	if numBatches == 0 {
		klog.Warningf("Eval(%q): dataset yielded no batches", ds.Name())
	}
	return metricValues(r.evalMetrics), nil
}

// withEvalMode runs fn with the model in evaluation mode, restoring the previous mode after.
func (r *Trainer) withEvalMode(fn func() error) error {
	if r.model.IsTraining() {
		r.model.Eval()
		defer r.model.Train()
	}
	return fn()
}

func metricValues(ms []metrics.Interface) []float64 {
	values := make([]float64, len(ms))
	for ii, m := range ms {
		values[ii] = m.Value()
	}
	return values
}
