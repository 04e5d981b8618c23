// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package optimizers implements the optimizers that update parameters in place from their
// accumulated gradients: Adam (and its variants) and stochastic gradient descent with momentum.
//
// A typical optimization step:
//
//	opt.ZeroGrad()
//	loss := lossFn(model.Forward(x))
//	graph.Backward(loss, params...)
//	opt.Step()
//
// The parameters are graph leaves requiring gradients, see graph.Leaf.
package optimizers

import (
	"slices"
	"strings"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/graph"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/support/params"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Interface implemented by the optimizers.
type Interface interface {
	// Step updates the parameters using their accumulated gradients. Parameters without a
	// gradient are left untouched.
	Step()

	// ZeroGrad clears the accumulated gradients of the parameters.
	ZeroGrad()

	// NumSteps returns the number of steps taken so far.
	NumSteps() int

	// LearningRate returns the learning rate used by the next step.
	LearningRate() float64
}

// Schedule returns the learning rate to use at the given step, counting from 0.
type Schedule func(step int) float64

const (
	// ParamOptimizer is the hyperparameter with the name of the optimizer, see ByName.
	ParamOptimizer = "optimizer"

	// ParamLearningRate is the hyperparameter with the learning rate, used by all optimizers.
	ParamLearningRate = "learning_rate"

	// ParamWeightDecay is the hyperparameter with the weight decay (an L2 penalty added to the gradients).
	ParamWeightDecay = "weight_decay"

	// ParamMomentum is the hyperparameter with the momentum used by SGD.
	ParamMomentum = "momentum"

	// ParamClipStepByValue clips each value of the update step to [-clip, +clip]. Defaults to 0 (no clipping).
	ParamClipStepByValue = "clip_step_by_value"
)

// KnownOptimizers lists the names accepted by ByName.
var KnownOptimizers = []string{"adam", "adamw", "adamax", "sgd"}

// ByName creates an optimizer by name for the given parameters, configured from the hyperparameters.
// hp may be nil, in which case the defaults are used.
func ByName(name string, hp *params.Params, parameters ...*graph.Node) (Interface, error) {
	switch strings.ToLower(name) {
	case "adam":
		return Adam().FromParams(hp).Done(parameters...), nil
	case "adamw":
		return Adam().FromParams(hp).DecoupledWeightDecay(true).Done(parameters...), nil
	case "adamax":
		return Adam().FromParams(hp).Adamax().Done(parameters...), nil
	case "sgd":
		return SGD().FromParams(hp).Done(parameters...), nil
	}
	return nil, errors.Errorf("unknown optimizer %q, valid values are %v", name, KnownOptimizers)
}

// base holds what is common to all optimizers.
type base struct {
	parameters   []*graph.Node
	learningRate float64
	schedule     Schedule
	clip         float64
	numSteps     int
}

func newBase(name string, learningRate float64, schedule Schedule, clip float64, parameters []*graph.Node) base {
	if len(parameters) == 0 {
		exceptions.Panicf("%s optimizer created without parameters to optimize", name)
	}
	for ii, param := range parameters {
		if param == nil || !param.IsLeaf() || !param.RequiresGrad() {
			exceptions.Panicf("%s optimizer parameter #%d must be a leaf node requiring gradients, got %s", name, ii, param)
		}
	}
	return base{parameters: slices.Clone(parameters), learningRate: learningRate, schedule: schedule, clip: clip}
}

// ZeroGrad implements Interface.
func (b *base) ZeroGrad() {
	for _, param := range b.parameters {
		param.ZeroGrad()
	}
}

// NumSteps implements Interface.
func (b *base) NumSteps() int { return b.numSteps }

// LearningRate implements Interface.
func (b *base) LearningRate() float64 {
	if b.schedule != nil {
		return b.schedule(b.numSteps)
	}
	return b.learningRate
}

// clipStep clips the values of step in place, if clipping is configured.
func (b *base) clipStep(step []float64) {
	if b.clip <= 0 {
		return
	}
	for ii, v := range step {
		step[ii] = min(max(v, -b.clip), b.clip)
	}
}
