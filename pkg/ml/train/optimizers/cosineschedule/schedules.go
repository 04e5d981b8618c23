// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cosineschedule implements a cosine annealing schedule for the learning rate.
// See New for details and example of usage, and original paper description in [1]
//
// [1] https://paperswithcode.com/method/cosine-annealing.
package cosineschedule

import (
	"math"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/train/optimizers"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/support/params"
	"github.com/gomlx/exceptions"
)

const (
	// ParamPeriodSteps enables cosine annealing for the learning rate, and defines the number of
	// steps in a period. 0 disables it (the default).
	ParamPeriodSteps = "cosine_schedule_steps"

	// ParamWarmUpSteps is the number of warmup steps: during these initial steps the learning rate
	// linearly increases from 0 to the learning rate. The default is 0.
	ParamWarmUpSteps = "cosine_schedule_warmup_steps"

	// ParamMinLearningRate is the minimum value of the learning rate during the
	// cosine annealing schedule. Defaults to 0.0.
	ParamMinLearningRate = "cosine_schedule_min_learning_rate"
)

// Config of the cosine annealing schedule. New creates it and, once configured, Config.Done
// returns the optimizers.Schedule.
type Config struct {
	learningRate, minLearningRate float64
	periodNumSteps                int
	warmUpSteps                   int
}

// New creates a configuration of a cosine annealing schedule starting at learningRate.
//
// Example with a warmup of 100 steps:
//
//	schedule := cosineschedule.New(0.01).MinLearningRate(0.0001).WarmUpSteps(100).PeriodInSteps(numSteps).Done()
//	opt := optimizers.SGD().Momentum(0.9).Schedule(schedule).Done(params...)
func New(learningRate float64) *Config {
	return &Config{learningRate: learningRate}
}

// FromParams configures the schedule from the hyperparameters ParamPeriodSteps, ParamWarmUpSteps,
// ParamMinLearningRate and optimizers.ParamLearningRate, if they are set.
func (c *Config) FromParams(hp *params.Params) *Config {
	c.learningRate = params.GetParamOr(hp, optimizers.ParamLearningRate, c.learningRate)
	c.periodNumSteps = params.GetParamOr(hp, ParamPeriodSteps, c.periodNumSteps)
	c.warmUpSteps = params.GetParamOr(hp, ParamWarmUpSteps, c.warmUpSteps)
	c.minLearningRate = params.GetParamOr(hp, ParamMinLearningRate, c.minLearningRate)
	return c
}

// PeriodInSteps sets the number of steps for one period of the cosine schedule. The effective
// learning rate decreases over the given period of training steps and then is restarted at
// each new period.
func (c *Config) PeriodInSteps(periodSteps int) *Config {
	c.periodNumSteps = periodSteps
	return c
}

// MinLearningRate at the end of each period. Default is 0.
func (c *Config) MinLearningRate(minLearningRate float64) *Config {
	c.minLearningRate = minLearningRate
	return c
}

// WarmUpSteps sets the number of steps during which the learning rate grows linearly from 0.
func (c *Config) WarmUpSteps(warmUpSteps int) *Config {
	c.warmUpSteps = warmUpSteps
	return c
}

// Done returns the schedule. If the period is 0, the schedule is disabled and nil is returned,
// which the optimizers interpret as a constant learning rate.
func (c *Config) Done() optimizers.Schedule {
	if c.periodNumSteps == 0 {
		return nil
	}
	if c.periodNumSteps < 0 || c.warmUpSteps < 0 {
		exceptions.Panicf("cosineschedule: period (%d) and warm up steps (%d) must be >= 0", c.periodNumSteps, c.warmUpSteps)
	}
	cfg := *c
	return func(step int) float64 {
		if step < cfg.warmUpSteps {
			return cfg.learningRate * float64(step+1) / float64(cfg.warmUpSteps+1)
		}
		cycle := float64(step-cfg.warmUpSteps) / float64(cfg.periodNumSteps)
		cycle -= math.Floor(cycle)
		lr := (math.Cos(cycle*math.Pi) + 1) / 2
		return lr*(cfg.learningRate-cfg.minLearningRate) + cfg.minLearningRate
	}
}
