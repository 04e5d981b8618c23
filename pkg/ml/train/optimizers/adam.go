// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/graph"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/support/params"
	"gonum.org/v1/gonum/floats"
)

const (
	// AdamDefaultLearningRate is used by Adam if no learning rate is set.
	AdamDefaultLearningRate = 0.001

	// ParamAdamEpsilon configures the default value of epsilon. It must be a float64.
	ParamAdamEpsilon = "adam_epsilon"

	// ParamAdamBeta1 is the moving average coefficient for the gradient (momentum), the numerator.
	// The default value is 0.9
	ParamAdamBeta1 = "adam_beta1"

	// ParamAdamBeta2 is the moving average coefficient for the variance, the denominator.
	// The default value is 0.999
	ParamAdamBeta2 = "adam_beta2"
)

// Adam optimization is a stochastic gradient descent method based on an adaptive estimation of first-order and
// second-order moments. According to [Kingma et al., 2014](http://arxiv.org/abs/1412.6980),
// the method is "*computationally efficient, has little memory requirement, invariant to diagonal rescaling of
// gradients, and is well suited for problems that are large in terms of data/parameters*".
//
// It returns a configuration object that can be used to set its parameters. Once configured, call AdamConfig.Done
// with the parameters to optimize.
//
// The moments are bias-corrected, and the weight decay is by default an L2 penalty added to the
// gradient before the moments are updated (see DecoupledWeightDecay for AdamW).
func Adam() *AdamConfig {
	return &AdamConfig{
		learningRate: AdamDefaultLearningRate,
		beta1:        0.9,
		beta2:        0.999,
		epsilon:      1e-8,
	}
}

// AdamConfig holds the configuration for Adam, create it with Adam(), and once configured
// call Done to create the optimizer.
type AdamConfig struct {
	learningRate float64
	schedule     Schedule
	beta1, beta2 float64
	epsilon      float64
	weightDecay  float64
	decoupled    bool // Works as AdamW.
	adamax       bool // Works as Adamax.
	clip         float64
}

// FromParams configures Adam with the hyperparameters ParamLearningRate, ParamWeightDecay,
// ParamAdamEpsilon, ParamAdamBeta1, ParamAdamBeta2 and ParamClipStepByValue, if they are set.
func (c *AdamConfig) FromParams(hp *params.Params) *AdamConfig {
	c.learningRate = params.GetParamOr(hp, ParamLearningRate, c.learningRate)
	c.weightDecay = params.GetParamOr(hp, ParamWeightDecay, c.weightDecay)
	c.epsilon = params.GetParamOr(hp, ParamAdamEpsilon, c.epsilon)
	c.beta1 = params.GetParamOr(hp, ParamAdamBeta1, c.beta1)
	c.beta2 = params.GetParamOr(hp, ParamAdamBeta2, c.beta2)
	c.clip = params.GetParamOr(hp, ParamClipStepByValue, c.clip)
	return c
}

// LearningRate sets the base learning rate. Default is 0.001.
func (c *AdamConfig) LearningRate(value float64) *AdamConfig {
	c.learningRate = value
	return c
}

// Schedule sets a learning rate schedule, which takes precedence over LearningRate.
func (c *AdamConfig) Schedule(schedule Schedule) *AdamConfig {
	c.schedule = schedule
	return c
}

// Betas set the two moving averages constants (exponential decays). They default to 0.9 and 0.999.
//
// The first is for the gradient momentum (the numerator of the step taken), and the second
// is for the variance of the gradients (denominator).
func (c *AdamConfig) Betas(beta1, beta2 float64) *AdamConfig {
	c.beta1, c.beta2 = beta1, beta2
	return c
}

// Epsilon used on the denominator as a small constant for stability. Default is 1e-8.
func (c *AdamConfig) Epsilon(epsilon float64) *AdamConfig {
	c.epsilon = epsilon
	return c
}

// WeightDecay sets the weight decay. Default is 0.
//
// By default, weightDecay·param is added to the gradient (L2 penalty). With DecoupledWeightDecay,
// the parameters are instead shrunk directly by learningRate·weightDecay·param, as in AdamW.
func (c *AdamConfig) WeightDecay(weightDecay float64) *AdamConfig {
	c.weightDecay = weightDecay
	return c
}

// DecoupledWeightDecay configures the weight decay to be applied directly to the parameters (AdamW).
func (c *AdamConfig) DecoupledWeightDecay(decoupled bool) *AdamConfig {
	c.decoupled = decoupled
	return c
}

// Adamax configure Adam to use an L-infinity (== max, which gives the name) for
// the second moment, instead of L2, as described in the same Adam paper.
func (c *AdamConfig) Adamax() *AdamConfig {
	c.adamax = true
	return c
}

// ClipStepByValue clips each value of the update step to [-clip, +clip]. 0 disables clipping.
func (c *AdamConfig) ClipStepByValue(clip float64) *AdamConfig {
	c.clip = clip
	return c
}

// Done creates the optimizer for the given parameters.
func (c *AdamConfig) Done(parameters ...*graph.Node) Interface {
	o := &adam{
		base:    newBase("Adam", c.learningRate, c.schedule, c.clip, parameters),
		config:  *c,
		moment1: make([][]float64, len(parameters)),
		moment2: make([][]float64, len(parameters)),
	}
	for ii, param := range parameters {
		o.moment1[ii] = make([]float64, param.Shape().Size())
		o.moment2[ii] = make([]float64, param.Shape().Size())
	}
	return o
}

// adam implements the Adam algorithm and its variants.
type adam struct {
	base
	config           AdamConfig
	moment1, moment2 [][]float64
}

// Step implements Interface.
func (o *adam) Step() {
	lr := o.LearningRate()
	o.numSteps++
	c := &o.config
	debias1 := 1 - math.Pow(c.beta1, float64(o.numSteps))
	debias2 := 1 - math.Pow(c.beta2, float64(o.numSteps))
	stepSize := lr / debias1
	for ii, param := range o.parameters {
		gradT := param.Grad()
		if gradT == nil {
			continue
		}
		value := param.Value().Flat()
		grad := gradT.Flat()
		if c.weightDecay != 0 {
			if c.decoupled {
				floats.Scale(1-lr*c.weightDecay, value)
			} else {
				// Don't modify the accumulated gradient.
				grad = floats.AddScaledTo(make([]float64, len(grad)), grad, c.weightDecay, value)
			}
		}
		m1, m2 := o.moment1[ii], o.moment2[ii]
		step := make([]float64, len(value))
		for jj, g := range grad {
			m1[jj] = c.beta1*m1[jj] + (1-c.beta1)*g
			var denominator float64
			if c.adamax {
				m2[jj] = max(c.beta2*m2[jj], math.Abs(g))
				denominator = m2[jj] + c.epsilon
			} else {
				m2[jj] = c.beta2*m2[jj] + (1-c.beta2)*g*g
				denominator = math.Sqrt(m2[jj])/math.Sqrt(debias2) + c.epsilon
			}
			step[jj] = stepSize * m1[jj] / denominator
		}
		o.clipStep(step)
		floats.Sub(value, step)
	}
}
