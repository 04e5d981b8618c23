// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package metrics holds metrics computed over batches of examples during training and
// evaluation: running means, moving averages and streaming medians, of the loss or of the accuracy.
package metrics

import (
	"fmt"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
	"github.com/gomlx/exceptions"
)

const (
	// LossMetricType is the MetricType of losses.
	LossMetricType = "loss"

	// AccuracyMetricType is the MetricType of accuracies.
	AccuracyMetricType = "accuracy"
)

// Interface for a metric.
type Interface interface {
	// Name of the metric.
	Name() string

	// ShortName is a shortened version of the name (preferably a few letters) to display in progress bars.
	ShortName() string

	// MetricType is used to group metrics in plots, e.g.: "loss" or "accuracy".
	MetricType() string

	// Update the metric with a new batch: the labels, the logits returned by the model
	// (shaped [batch, numClasses]) and the mean loss of the batch.
	Update(labels []int, logits *tensors.Tensor, loss float64)

	// Value returns the current value of the metric. It is 0 if no batch has been seen.
	Value() float64

	// PrettyPrint returns a human-readable version of the value.
	PrettyPrint(value float64) string

	// Reset the metric to its initial state.
	Reset()
}

// BatchMetricFn computes the value of a metric over one batch, and its weight (usually the batch size).
type BatchMetricFn func(labels []int, logits *tensors.Tensor, loss float64) (value, weight float64)

// PrettyPrintFn converts a metric value to a string.
type PrettyPrintFn func(value float64) string

type baseMetric struct {
	name, shortName, metricType string
	metricFn                    BatchMetricFn
	pPrintFn                    PrettyPrintFn
}

func (m *baseMetric) Name() string       { return m.name }
func (m *baseMetric) ShortName() string  { return m.shortName }
func (m *baseMetric) MetricType() string { return m.metricType }

func (m *baseMetric) PrettyPrint(value float64) string {
	if m.pPrintFn != nil {
		return m.pPrintFn(value)
	}
	return fmt.Sprintf("%.3f", value)
}

// MeanMetric keeps the weighted mean of a metric over all the batches seen since the last Reset.
type MeanMetric struct {
	baseMetric
	sum, weight float64
}

// NewMeanMetric creates a metric with the mean of metricFn over all batches.
// pPrintFn can be left as nil, and a default will be used.
func NewMeanMetric(name, shortName, metricType string, metricFn BatchMetricFn, pPrintFn PrettyPrintFn) *MeanMetric {
	return &MeanMetric{baseMetric: baseMetric{
		name: name, shortName: shortName, metricType: metricType,
		metricFn: metricFn, pPrintFn: pPrintFn}}
}

// Update implements Interface.
func (m *MeanMetric) Update(labels []int, logits *tensors.Tensor, loss float64) {
	value, weight := m.metricFn(labels, logits, loss)
	m.sum += value * weight
	m.weight += weight
}

// Value implements Interface.
func (m *MeanMetric) Value() float64 {
	if m.weight == 0 {
		return 0
	}
	return m.sum / m.weight
}

// Reset implements Interface.
func (m *MeanMetric) Reset() { m.sum, m.weight = 0, 0 }

// movingAverageMetric implements a metric that keeps the mean of a metric.
//
// It behaves just like a MeanMetric, but each new batch has weight of newExampleWeight, and
// the stored weight is capped at (1-newExampleWeight).
type movingAverageMetric struct {
	baseMetric
	newExampleWeight float64
	value, count     float64
}

// NewExponentialMovingAverageMetric creates a metric from any BatchMetricFn function. It takes new batches with
// the given weight (newExampleWeight), and decays the rest to 1-newExampleWeight.
//
// A typical value of newExampleWeight is 0.01, the smaller the value, the slower the moving average moves.
//
// This doesn't have a set prior, it will start being a normal average until there are enough terms, and it becomes
// an exponential moving average.
func NewExponentialMovingAverageMetric(name, shortName, metricType string, metricFn BatchMetricFn,
	pPrintFn PrettyPrintFn, newExampleWeight float64) Interface {
	if newExampleWeight <= 0 || newExampleWeight > 1 {
		exceptions.Panicf("moving average metric %q: newExampleWeight=%g must be in (0, 1]", name, newExampleWeight)
	}
	return &movingAverageMetric{
		baseMetric: baseMetric{
			name: name, shortName: shortName, metricType: metricType,
			metricFn: metricFn, pPrintFn: pPrintFn},
		newExampleWeight: newExampleWeight,
	}
}

// Update implements Interface.
func (m *movingAverageMetric) Update(labels []int, logits *tensors.Tensor, loss float64) {
	value, _ := m.metricFn(labels, logits, loss)
	m.count++
	weight := max(1/m.count, m.newExampleWeight)
	m.value = weight*value + (1-weight)*m.value
}

// Value implements Interface.
func (m *movingAverageMetric) Value() float64 { return m.value }

// Reset implements Interface.
func (m *movingAverageMetric) Reset() { m.value, m.count = 0, 0 }

// LossFn is a BatchMetricFn that returns the batch loss, weighted by the batch size.
func LossFn(labels []int, _ *tensors.Tensor, loss float64) (value, weight float64) {
	return loss, float64(len(labels))
}

// SparseCategoricalAccuracyFn is a BatchMetricFn that returns the fraction of examples whose
// largest logit is the one of the label. Ties are resolved by the first largest logit.
func SparseCategoricalAccuracyFn(labels []int, logits *tensors.Tensor, _ float64) (value, weight float64) {
	if logits.Rank() != 2 || logits.Shape().Dim(0) != len(labels) {
		exceptions.Panicf("accuracy requires logits shaped [batch, numClasses] and one label per example, got logits.shape=%s and %d labels",
			logits.Shape(), len(labels))
	}
	if len(labels) == 0 {
		return 0, 0
	}
	numClasses := logits.Shape().Dim(1)
	flat := logits.Flat()
	var correct int
	for ii, label := range labels {
		row := flat[ii*numClasses : (ii+1)*numClasses]
		best := 0
		for jj, v := range row {
			if v > row[best] {
				best = jj
			}
		}
		if best == label {
			correct++
		}
	}
	return float64(correct) / float64(len(labels)), float64(len(labels))
}

func accuracyPPrint(value float64) string {
	return fmt.Sprintf("%.2f%%", 100*value)
}

// NewMeanLoss returns a mean metric of the loss.
func NewMeanLoss(name, shortName string) *MeanMetric {
	return NewMeanMetric(name, shortName, LossMetricType, LossFn, nil)
}

// NewMovingAverageLoss returns an exponential moving average of the loss.
func NewMovingAverageLoss(name, shortName string, newExampleWeight float64) Interface {
	return NewExponentialMovingAverageMetric(name, shortName, LossMetricType, LossFn, nil, newExampleWeight)
}

// NewSparseCategoricalAccuracy returns a mean metric of the accuracy, for labels given as class indices.
func NewSparseCategoricalAccuracy(name, shortName string) *MeanMetric {
	return NewMeanMetric(name, shortName, AccuracyMetricType, SparseCategoricalAccuracyFn, accuracyPPrint)
}

// NewMovingAverageSparseCategoricalAccuracy returns an exponential moving average of the accuracy.
func NewMovingAverageSparseCategoricalAccuracy(name, shortName string, newExampleWeight float64) Interface {
	return NewExponentialMovingAverageMetric(name, shortName, AccuracyMetricType, SparseCategoricalAccuracyFn,
		accuracyPPrint, newExampleWeight)
}
