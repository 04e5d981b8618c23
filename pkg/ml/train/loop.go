// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"io"
	"iter"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// Priority for hooks, the lower values are run first. Defaults to 0, but negative values are ok.
type Priority int

// OnStartFn is the type of OnStart hooks.
type OnStartFn func(loop *Loop, ds Dataset) error

// OnStepFn is the type of OnStep hooks. metrics are the train metrics values after the step.
type OnStepFn func(loop *Loop, metrics []float64) error

// OnEpochFn is the type of OnEpoch hooks. epoch is the number of the epoch just finished,
// starting at 1, and metrics are the train metrics values over the epoch.
type OnEpochFn func(loop *Loop, epoch int, metrics []float64) error

// OnEndFn is the type of OnEnd hooks.
type OnEndFn func(loop *Loop, metrics []float64) error

// Loop will run a training loop, invoking Trainer.TrainStep every step,
// and calling the appropriate hooks.
//
// In itself it doesn't do much, but one can attach functionality to it, like checkpointing,
// plotting tools, early-stopping strategies, uploads to a tracking server, etc. It is simple
// and flexible to allow arbitrary tools to the training loop.
//
// The public attributes are meant for reading only, don't change them -- behavior
// is undefined if changed.
type Loop struct {
	// Trainer associated with this loop.
	Trainer *Trainer

	// LoopStep currently being executed.
	// Defaults to 0 and is incremented after each step.
	LoopStep int

	// StartStep is the value of LoopStep at the start of a run (RunSteps or RunEpochs).
	StartStep int

	// EndStep is one-past the last step to be executed. If -1 the end step is not known (if
	// running till the end of the dataset). Used for instance by progressbar.
	EndStep int

	// Epoch is set when running RunEpochs() to the current running epoch, starting at 0.
	Epoch int

	// SharedData allows for cross-tools to publish and consume information. Keys
	// (strings) and semantics/type of their values are not specified by loop.
	SharedData map[string]any

	// TrainStepDurations collects the duration of the train steps of the current run.
	TrainStepDurations []time.Duration

	onStart *priorityHooks[*hookWithName[OnStartFn]]
	onStep  *priorityHooks[*hookWithName[OnStepFn]]
	onEpoch *priorityHooks[*hookWithName[OnEpochFn]]
	onEnd   *priorityHooks[*hookWithName[OnEndFn]]
}

// NewLoop creates a new training loop trainer.
func NewLoop(trainer *Trainer) *Loop {
	return &Loop{
		Trainer:    trainer,
		SharedData: make(map[string]any),
		onStart:    newPriorityHooks[*hookWithName[OnStartFn]](),
		onStep:     newPriorityHooks[*hookWithName[OnStepFn]](),
		onEpoch:    newPriorityHooks[*hookWithName[OnEpochFn]](),
		onEnd:      newPriorityHooks[*hookWithName[OnEndFn]](),
	}
}

// start of loop, called by all looping methods.
//
// It calls the appropriate hooks.
func (loop *Loop) start(ds Dataset) error {
	for hook := range loop.onStart.All() {
		if err := hook.fn(loop, ds); err != nil {
			return errors.WithMessagef(err, "OnStart(hook %q)", hook.name)
		}
	}
	return nil
}

// trainStep runs one train step and the OnStep hooks.
func (loop *Loop) trainStep(ds Dataset) (metrics []float64, err error) {
	inputs, labels, err := ds.Yield()
	if err != nil {
		return nil, err
	}
	startTime := time.Now()
	metrics, err = loop.Trainer.TrainStep(inputs, labels)
	loop.TrainStepDurations = append(loop.TrainStepDurations, time.Since(startTime))
	if err != nil {
		return nil, err
	}
	for hook := range loop.onStep.All() {
		if err := hook.fn(loop, metrics); err != nil {
			return nil, errors.WithMessagef(err, "train.Loop.OnStep(hook %q)", hook.name)
		}
	}
	batchLoss := metrics[0]
	if math.IsNaN(batchLoss) {
		return nil, errors.Errorf("loss is NaN, training interrupted")
	}
	if math.IsInf(batchLoss, 0) {
		return nil, errors.Errorf("loss is infinity (%f), training interrupted", batchLoss)
	}
	return metrics, nil
}

// end of loop, called by all looping methods.
//
// It calls the appropriate hooks.
func (loop *Loop) end(metrics []float64) error {
	for hook := range loop.onEnd.All() {
		if err := hook.fn(loop, metrics); err != nil {
			return errors.WithMessagef(err, "OnEnd(hook %q)", hook.name)
		}
	}
	return nil
}

// RunSteps runs those many steps. StartStep and EndStep are adjusted to the current
// LoopStep, so it can be called multiple times, and it will simply pick up
// where it left off last time.
//
// The dataset is reset and continues when it reaches the end of an epoch. The train metrics are
// reset at the start of the run.
func (loop *Loop) RunSteps(ds Dataset, steps int) (metrics []float64, err error) {
	if steps <= 0 {
		return nil, nil
	}
	loop.Trainer.ResetTrainMetrics()
	loop.StartStep = loop.LoopStep
	loop.EndStep = loop.LoopStep + steps
	loop.TrainStepDurations = make([]time.Duration, 0, steps)
	if err = loop.start(ds); err != nil {
		return nil, err
	}
	emptyEpoch := true
	for loop.LoopStep < loop.EndStep {
		metrics, err = loop.trainStep(ds)
		if err == io.EOF {
			if emptyEpoch {
				return nil, errors.Errorf("Loop.RunSteps(%d): dataset %q yielded no batches", steps, ds.Name())
			}
			ds.Reset()
			emptyEpoch = true
			continue
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "Loop.RunSteps(%d): failed TrainStep(LoopStep=%d)", steps, loop.LoopStep)
		}
		emptyEpoch = false
		loop.LoopStep++
	}
	if err = loop.end(metrics); err != nil {
		return nil, errors.WithMessagef(err, "Loop.RunSteps(%d): failed end (LoopStep=%d)", steps, loop.LoopStep)
	}
	return metrics, nil
}

// RunEpochs runs those many epochs, that is, it loops over the dataset until it returns io.EOF,
// resets it and repeats. The train metrics are reset at the start of each epoch, and the OnEpoch
// hooks are called at the end of each epoch with their values.
//
// EndStep is only known after the first epoch.
func (loop *Loop) RunEpochs(ds Dataset, epochs int) (metrics []float64, err error) {
	loop.StartStep = loop.LoopStep
	loop.EndStep = -1
	loop.TrainStepDurations = nil
	if err = loop.start(ds); err != nil {
		return nil, err
	}
	for loop.Epoch = 0; loop.Epoch < epochs; loop.Epoch++ {
		loop.Trainer.ResetTrainMetrics()
		yieldsPerEpoch := 0
		for {
			metrics, err = loop.trainStep(ds)
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, errors.WithMessagef(err, "Loop.RunEpochs(epoch %d of %d): failed TrainStep(LoopStep=%d)",
					loop.Epoch+1, epochs, loop.LoopStep)
			}
			yieldsPerEpoch++
			loop.LoopStep++
		}
		ds.Reset()
		if yieldsPerEpoch == 0 {
			return nil, errors.Errorf("Loop.RunEpochs(%d): dataset %q yielded no batches", epochs, ds.Name())
		}
		if loop.EndStep < 0 {
			loop.EndStep = loop.LoopStep + yieldsPerEpoch*(epochs-loop.Epoch-1)
		}
		for hook := range loop.onEpoch.All() {
			if err = hook.fn(loop, loop.Epoch+1, metrics); err != nil {
				return nil, errors.WithMessagef(err, "OnEpoch(hook %q, epoch %d)", hook.name, loop.Epoch+1)
			}
		}
	}
	if err = loop.end(metrics); err != nil {
		return nil, errors.WithMessagef(err, "Loop.RunEpochs(%d): failed end (LoopStep=%d)", epochs, loop.LoopStep)
	}
	return metrics, nil
}

// MedianTrainStepDuration returns the median duration of each training step of the current run.
// It returns 1 millisecond if no training step was recorded.
func (loop *Loop) MedianTrainStepDuration() time.Duration {
	if len(loop.TrainStepDurations) == 0 {
		return time.Millisecond
	}
	times := slices.Clone(loop.TrainStepDurations)
	slices.Sort(times)
	return times[len(times)/2]
}

// OnStart adds a hook with given priority and name (for error reporting) to the start of a loop.
func (loop *Loop) OnStart(name string, priority Priority, fn OnStartFn) {
	loop.onStart.Add(priority, &hookWithName[OnStartFn]{name: name, fn: fn})
}

// OnStep adds a hook with given priority and name (for error reporting) to each step of a loop.
// The function fn is called after each Trainer.TrainStep.
func (loop *Loop) OnStep(name string, priority Priority, fn OnStepFn) {
	loop.onStep.Add(priority, &hookWithName[OnStepFn]{name: name, fn: fn})
}

// OnEpoch adds a hook with given priority and name (for error reporting) called at the end of
// each epoch of RunEpochs.
func (loop *Loop) OnEpoch(name string, priority Priority, fn OnEpochFn) {
	loop.onEpoch.Add(priority, &hookWithName[OnEpochFn]{name: name, fn: fn})
}

// OnEnd adds a hook with given priority and name (for error reporting) to the end of a loop,
// after the last call to Trainer.TrainStep.
func (loop *Loop) OnEnd(name string, priority Priority, fn OnEndFn) {
	loop.onEnd.Add(priority, &hookWithName[OnEndFn]{name: name, fn: fn})
}

type hookWithName[F any] struct {
	name string
	fn   F
}

// priorityHooks keeps hooks sorted by priority. Hooks with the same priority run in insertion order.
type priorityHooks[H any] struct {
	hooks map[Priority][]H
}

func newPriorityHooks[H any]() *priorityHooks[H] {
	return &priorityHooks[H]{
		hooks: make(map[Priority][]H),
	}
}

// Add hook with the given priority.
func (h *priorityHooks[H]) Add(priority Priority, hook H) {
	h.hooks[priority] = append(h.hooks[priority], hook)
}

// All returns an iterator over all hooks in priority order.
func (h *priorityHooks[H]) All() iter.Seq[H] {
	return func(yield func(H) bool) {
		keys := make([]Priority, 0, len(h.hooks))
		for key := range h.hooks {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool {
			return keys[i] < keys[j]
		})
		for _, key := range keys {
			for _, hook := range h.hooks[key] {
				if !yield(hook) {
					return
				}
			}
		}
	}
}
