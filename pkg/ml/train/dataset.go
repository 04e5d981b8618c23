// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
)

// Dataset for a train.Trainer provides the data, one batch at a time. Flat datasets of examples
// are grouped in batches by the datasets package.
type Dataset interface {
	// Name identifies the dataset. Used for debugging, pretty-printing and plots.
	Name() string

	// Reset restarts the dataset from the beginning. Can be called after io.EOF is reached,
	// for instance when running another evaluation on a test dataset.
	Reset()

	// Yield returns the next batch: the inputs, shaped [batch, channels, height, width], and
	// the labels as class indices, one per example.
	//
	// It returns an io.EOF error at the end of an epoch.
	Yield() (inputs *tensors.Tensor, labels []int, err error)
}

// HasShortName is implemented by datasets that have a short name, used when displaying metrics.
type HasShortName interface {
	ShortName() string
}
