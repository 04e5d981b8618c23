// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"io"
	"runtime"
	"sync"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/train"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/support/xsync"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ParallelDataset is a wrapper around a `train.Dataset` that prefetches batches by calling
// Yield from several goroutines.
type ParallelDataset struct {
	ds              train.Dataset
	name, shortName string
	parallelism     int
	bufferSize      int

	mu      sync.Mutex
	err     error
	buffer  chan yieldUnit
	stop    chan struct{}
	drained *xsync.Latch
	done    bool
}

type yieldUnit struct {
	inputs *tensors.Tensor
	labels []int
}

// Parallel prefetches the batches of a thread-safe train.Dataset, using goroutines.
//
// The order of the batches is not preserved. Call ParallelDataset.Done when finished, to stop
// the goroutines.
//
// Example:
//
//	ds := datasets.Parallel(trainDS, 0)
//	defer ds.Done()
//	MyTrainFunc(ds)
func Parallel(ds train.Dataset, parallelism int) *ParallelDataset {
	if parallelism <= 0 {
		parallelism = runtime.NumCPU() + 1
	}
	pd := &ParallelDataset{
		ds:          ds,
		name:        ds.Name(),
		parallelism: parallelism,
		bufferSize:  parallelism,
	}
	if sn, ok := ds.(train.HasShortName); ok {
		pd.shortName = sn.ShortName()
	} else {
		pd.shortName = shortNameFor(pd.name)
	}
	pd.startEpoch()
	return pd
}

// startEpoch starts the goroutines that read one epoch of the underlying dataset.
func (pd *ParallelDataset) startEpoch() {
	buffer := make(chan yieldUnit, pd.bufferSize)
	stop := make(chan struct{})
	drained := xsync.NewLatch()
	pd.buffer, pd.stop, pd.drained = buffer, stop, drained

	var wg sync.WaitGroup
	for range pd.parallelism {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				inputs, labels, err := pd.ds.Yield()
				if err == io.EOF {
					return
				}
				if err != nil {
					klog.Errorf("ParallelDataset(%q): %+v", pd.name, err)
					pd.mu.Lock()
					if pd.err == nil {
						pd.err = err
					}
					pd.mu.Unlock()
					return
				}
				select {
				case <-stop:
					return
				case buffer <- yieldUnit{inputs: inputs, labels: labels}:
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(buffer)
		drained.Trigger()
	}()
}

// Name implements train.Dataset.
func (pd *ParallelDataset) Name() string { return pd.name }

// ShortName implements train.HasShortName.
func (pd *ParallelDataset) ShortName() string { return pd.shortName }

// stopEpoch signals the goroutines to stop and waits for them, discarding buffered batches.
func (pd *ParallelDataset) stopEpoch() {
	close(pd.stop)
	for range pd.buffer {
	}
	pd.drained.Wait()
}

// Reset implements train.Dataset. It stops the current epoch, resets the underlying dataset and
// starts prefetching again.
func (pd *ParallelDataset) Reset() {
	if pd.done {
		klog.Warningf("ParallelDataset(%q).Reset called after Done", pd.name)
		return
	}
	pd.stopEpoch()
	pd.mu.Lock()
	pd.err = nil
	pd.mu.Unlock()
	pd.ds.Reset()
	pd.startEpoch()
}

// Done stops the goroutines. The dataset can no longer be used.
func (pd *ParallelDataset) Done() {
	if pd.done {
		return
	}
	pd.done = true
	pd.stopEpoch()
}

// Yield implements train.Dataset.
func (pd *ParallelDataset) Yield() (inputs *tensors.Tensor, labels []int, err error) {
	if pd.done {
		return nil, nil, errors.Errorf("ParallelDataset(%q).Yield called after Done", pd.name)
	}
	unit, ok := <-pd.buffer
	if ok {
		return unit.inputs, unit.labels, nil
	}
	pd.mu.Lock()
	defer pd.mu.Unlock()
	if pd.err != nil {
		return nil, nil, pd.err
	}
	return nil, nil, io.EOF
}
