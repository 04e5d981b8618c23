// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package visualizers

import (
	"fmt"
	"sync"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/internal/workerspool"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/layers"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/model"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Job identifies one visualization: a filter of a top-level child of a model.
type Job struct {
	Layer, Filter int
}

// String implements fmt.Stringer.
func (j Job) String() string { return fmt.Sprintf("layer %d/filter %d", j.Layer, j.Filter) }

// ConvJobs lists one job per filter of every top-level child of the model that is a 2D convolution.
func ConvJobs(m *model.Module) []Job {
	var jobs []Job
	for ii, child := range m.Children() {
		conv, ok := child.Layer().(*layers.Conv2D)
		if !ok {
			continue
		}
		for filter := range conv.OutputChannels() {
			jobs = append(jobs, Job{Layer: ii, Filter: filter})
		}
	}
	return jobs
}

// BatchOptions configure RunBatch.
type BatchOptions struct {
	// UseHooks selects VisualizeWithHooks. Jobs using hooks run sequentially, since the hooks are
	// registered on the shared model.
	UseHooks bool

	// Parallelism is the maximum number of jobs run concurrently without hooks. 0 uses the number
	// of CPUs, 1 runs them sequentially.
	Parallelism int

	// Configure, if set, is called on each visualizer before it runs.
	Configure func(v *CNNLayerVisualization)

	// OnJobDone, if set, is called after each job finishes, with its error. Calls are serialized.
	OnJobDone func(job Job, err error)
}

// RunBatch runs the visualization of each job on the model, saving the images under outputDir.
//
// All jobs are run even if some fail. The returned error reports the number of failures and
// wraps the first one (in job order).
func RunBatch(m *model.Module, jobs []Job, outputDir string, opts BatchOptions) error {
	// Visualizers are created sequentially: New changes the model mode.
	visualizers := make([]*CNNLayerVisualization, len(jobs))
	for ii, job := range jobs {
		v, err := New(m, job.Layer, job.Filter, outputDir)
		if err != nil {
			return errors.WithMessagef(err, "RunBatch: job %s", job)
		}
		if opts.Configure != nil {
			opts.Configure(v)
		}
		visualizers[ii] = v
	}

	pool := workerspool.New()
	switch {
	case opts.UseHooks || opts.Parallelism == 1:
		pool.SetMaxParallelism(0)
	case opts.Parallelism > 0:
		pool.SetMaxParallelism(opts.Parallelism)
	}
	jobErrs := make([]error, len(jobs))
	var muDone sync.Mutex
	tasks := make([]func(), len(jobs))
	for ii, v := range visualizers {
		tasks[ii] = func() {
			var err error
			if opts.UseHooks {
				err = v.VisualizeWithHooks()
			} else {
				err = v.VisualizeWithoutHooks()
			}
			jobErrs[ii] = err
			if err != nil {
				klog.Errorf("visualization of %s failed: %+v", jobs[ii], err)
			}
			if opts.OnJobDone != nil {
				muDone.Lock()
				opts.OnJobDone(jobs[ii], err)
				muDone.Unlock()
			}
		}
	}
	pool.RunAll(tasks...)

	var firstErr error
	var numFailed int
	for _, err := range jobErrs {
		if err != nil {
			numFailed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return errors.WithMessagef(firstErr, "RunBatch: %d of %d visualizations failed, first error", numFailed, len(jobs))
	}
	return nil
}
