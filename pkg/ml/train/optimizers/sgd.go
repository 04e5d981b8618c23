// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/graph"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/support/params"
	"gonum.org/v1/gonum/floats"
)

// SGDDefaultLearningRate is used by SGD if no learning rate is set.
const SGDDefaultLearningRate = 0.001

// SGDConfig holds the configuration of a stochastic gradient descent optimizer. Create it with
// SGD and call Done.
type SGDConfig struct {
	learningRate float64
	schedule     Schedule
	momentum     float64
	dampening    float64
	nesterov     bool
	weightDecay  float64
	clip         float64
}

// SGD returns the configuration of a stochastic gradient descent optimizer, with optional
// momentum. With momentum μ, the velocity is v = μ·v + (1-dampening)·g (v = g on the first step),
// and the parameters move by -learningRate·v.
func SGD() *SGDConfig {
	return &SGDConfig{learningRate: SGDDefaultLearningRate}
}

// FromParams configures SGD with the hyperparameters ParamLearningRate, ParamMomentum,
// ParamWeightDecay and ParamClipStepByValue, if they are set.
func (c *SGDConfig) FromParams(hp *params.Params) *SGDConfig {
	c.learningRate = params.GetParamOr(hp, ParamLearningRate, c.learningRate)
	c.momentum = params.GetParamOr(hp, ParamMomentum, c.momentum)
	c.weightDecay = params.GetParamOr(hp, ParamWeightDecay, c.weightDecay)
	c.clip = params.GetParamOr(hp, ParamClipStepByValue, c.clip)
	return c
}

// LearningRate sets the learning rate. Default is 0.001.
func (c *SGDConfig) LearningRate(value float64) *SGDConfig {
	c.learningRate = value
	return c
}

// Schedule sets a learning rate schedule, which takes precedence over LearningRate.
func (c *SGDConfig) Schedule(schedule Schedule) *SGDConfig {
	c.schedule = schedule
	return c
}

// Momentum sets the momentum factor. Default is 0 (no momentum).
func (c *SGDConfig) Momentum(momentum float64) *SGDConfig {
	c.momentum = momentum
	return c
}

// Dampening of the momentum. Default is 0.
func (c *SGDConfig) Dampening(dampening float64) *SGDConfig {
	c.dampening = dampening
	return c
}

// Nesterov enables Nesterov momentum.
func (c *SGDConfig) Nesterov(nesterov bool) *SGDConfig {
	c.nesterov = nesterov
	return c
}

// WeightDecay adds weightDecay·param to the gradients (L2 penalty). Default is 0.
func (c *SGDConfig) WeightDecay(weightDecay float64) *SGDConfig {
	c.weightDecay = weightDecay
	return c
}

// Done creates the optimizer for the given parameters.
func (c *SGDConfig) Done(parameters ...*graph.Node) Interface {
	return &sgd{
		base:     newBase("SGD", c.learningRate, c.schedule, c.clip, parameters),
		config:   *c,
		velocity: make([][]float64, len(parameters)),
	}
}

type sgd struct {
	base
	config   SGDConfig
	velocity [][]float64
}

// Step implements Interface.
func (o *sgd) Step() {
	lr := o.LearningRate()
	o.numSteps++
	c := &o.config
	for ii, param := range o.parameters {
		gradT := param.Grad()
		if gradT == nil {
			continue
		}
		value := param.Value().Flat()
		step := make([]float64, len(value))
		copy(step, gradT.Flat())
		if c.weightDecay != 0 {
			floats.AddScaled(step, c.weightDecay, value)
		}
		if c.momentum != 0 {
			velocity := o.velocity[ii]
			if velocity == nil {
				velocity = make([]float64, len(step))
				copy(velocity, step)
				o.velocity[ii] = velocity
			} else {
				floats.Scale(c.momentum, velocity)
				floats.AddScaled(velocity, 1-c.dampening, step)
			}
			if c.nesterov {
				floats.AddScaled(step, c.momentum, velocity)
			} else {
				copy(step, velocity)
			}
		}
		floats.Scale(lr, step)
		o.clipStep(step)
		floats.Sub(value, step)
	}
}
