// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"encoding/gob"
	"io"
	"math"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/train"
	"github.com/pkg/errors"
)

// inMemoryData is the data shared by all copies of an InMemoryDataset.
type inMemoryData struct {
	exampleDims []int
	exampleSize int
	flat        []float64
	labels      []int
}

func (d *inMemoryData) numExamples() int { return len(d.labels) }

// InMemoryDataset represents a Dataset that has been completely read into memory.
//
// It supports batching and shuffling, and can be duplicated or split (only one copy of the
// underlying data is used).
//
// Finally, it supports serialization and deserialization, to accelerate loading of the data -- in case
// generating the original dataset is expensive (e.g: image transformations).
type InMemoryDataset struct {
	name, shortName string
	data            *inMemoryData

	// indices selects the examples of data used by this dataset, in their natural order.
	indices []int

	mu                  sync.Mutex
	batchSize           int
	dropIncompleteBatch bool
	shuffle             bool
	rng                 *rand.Rand
	takeN               int

	order     []int
	next      int
	numYields int
}

// InMemoryFromData creates an InMemoryDataset from the inputs given, whose first axis is the
// example axis, and one label per example.
//
// The dataset is initially not shuffled and yields batches of 1 example.
func InMemoryFromData(name string, inputs *tensors.Tensor, labels []int) (*InMemoryDataset, error) {
	if inputs.Rank() < 1 {
		return nil, errors.Errorf("InMemoryFromData(%q): inputs must have an example axis, got shape %s", name, inputs.Shape())
	}
	if inputs.Shape().Dim(0) != len(labels) {
		return nil, errors.Errorf("InMemoryFromData(%q): inputs shaped %s has %d examples, but got %d labels",
			name, inputs.Shape(), inputs.Shape().Dim(0), len(labels))
	}
	exampleDims := slices.Clone(inputs.Shape().Dimensions[1:])
	data := &inMemoryData{
		exampleDims: exampleDims,
		exampleSize: inputs.Size() / len(labels),
		flat:        slices.Clone(inputs.Flat()),
		labels:      slices.Clone(labels),
	}
	return newInMemory(name, data), nil
}

func newInMemory(name string, data *inMemoryData) *InMemoryDataset {
	indices := make([]int, data.numExamples())
	for ii := range indices {
		indices[ii] = ii
	}
	mds := &InMemoryDataset{
		name:      name,
		shortName: shortNameFor(name),
		data:      data,
		indices:   indices,
		batchSize: 1,
	}
	mds.Reset()
	return mds
}

func shortNameFor(name string) string {
	if len(name) > 3 {
		return name[:3]
	}
	return name
}

// InMemory creates a dataset that reads the whole contents of `ds` into memory.
//
// All the batches yielded by ds must have the same example shape (all axes but the first).
func InMemory(ds train.Dataset) (*InMemoryDataset, error) {
	ds.Reset()
	defer ds.Reset()
	data := &inMemoryData{}
	for numBatches := 0; ; numBatches++ {
		inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "InMemory(%q): failed reading batch #%d", ds.Name(), numBatches)
		}
		if inputs.Rank() < 1 || inputs.Shape().Dim(0) != len(labels) {
			return nil, errors.Errorf("InMemory(%q): batch #%d inputs shaped %s don't match %d labels",
				ds.Name(), numBatches, inputs.Shape(), len(labels))
		}
		exampleDims := inputs.Shape().Dimensions[1:]
		if numBatches == 0 {
			data.exampleDims = slices.Clone(exampleDims)
			data.exampleSize = 1
			for _, dim := range exampleDims {
				data.exampleSize *= dim
			}
		} else if !slices.Equal(exampleDims, data.exampleDims) {
			return nil, errors.Errorf("InMemory(%q): batch #%d has examples shaped %v, previous batches had %v",
				ds.Name(), numBatches, exampleDims, data.exampleDims)
		}
		data.flat = append(data.flat, inputs.Flat()...)
		data.labels = append(data.labels, labels...)
	}
	if data.numExamples() == 0 {
		return nil, errors.Errorf("InMemory(%q): dataset is empty", ds.Name())
	}
	mds := newInMemory(ds.Name(), data)
	if withShortName, ok := ds.(train.HasShortName); ok {
		mds.shortName = withShortName.ShortName()
	}
	return mds, nil
}

// NumExamples in the dataset.
func (mds *InMemoryDataset) NumExamples() int {
	return len(mds.indices)
}

// ExampleDimensions returns the dimensions of one example, without the batch axis.
func (mds *InMemoryDataset) ExampleDimensions() []int {
	return slices.Clone(mds.data.exampleDims)
}

// Labels returns the labels of the examples, in their natural (unshuffled) order.
func (mds *InMemoryDataset) Labels() []int {
	labels := make([]int, len(mds.indices))
	for ii, idx := range mds.indices {
		labels[ii] = mds.data.labels[idx]
	}
	return labels
}

// Copy returns a copy of the dataset. It uses the same underlying data -- so very little memory is used.
//
// The copy comes configured by default with sequential reading, batches of 1 and reset.
func (mds *InMemoryDataset) Copy() *InMemoryDataset {
	mds2 := newInMemory(mds.name, mds.data)
	mds2.shortName = mds.shortName
	mds2.indices = slices.Clone(mds.indices)
	mds2.Reset()
	return mds2
}

// Name implements `train.Dataset`
func (mds *InMemoryDataset) Name() string {
	return mds.name
}

// ShortName implements `train.HasShortName`
func (mds *InMemoryDataset) ShortName() string {
	return mds.shortName
}

// SetName sets the name of the dataset and optionally its ShortName, and returns the updated dataset.
func (mds *InMemoryDataset) SetName(name string, shortName ...string) *InMemoryDataset {
	mds.name = name
	if len(shortName) > 0 {
		mds.shortName = shortName[0]
	} else {
		mds.shortName = shortNameFor(name)
	}
	return mds
}

// Reset implements `train.Dataset`. If the dataset is shuffled, it is reshuffled.
func (mds *InMemoryDataset) Reset() {
	mds.mu.Lock()
	defer mds.mu.Unlock()
	mds.next = 0
	mds.numYields = 0
	mds.order = slices.Clone(mds.indices)
	if mds.shuffle {
		mds.shuffleLocked()
	}
}

func (mds *InMemoryDataset) shuffleLocked() {
	if mds.rng == nil {
		mds.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	mds.rng.Shuffle(len(mds.order), func(i, j int) {
		mds.order[i], mds.order[j] = mds.order[j], mds.order[i]
	})
}

// Yield implements `train.Dataset`.
//
// It returns the next batch, shaped [batchSize, exampleDims...], and its labels. The last batch
// may be smaller, unless configured to drop incomplete batches.
func (mds *InMemoryDataset) Yield() (inputs *tensors.Tensor, labels []int, err error) {
	mds.mu.Lock()
	defer mds.mu.Unlock()
	if mds.takeN > 0 && mds.numYields >= mds.takeN {
		return nil, nil, io.EOF
	}
	remaining := len(mds.order) - mds.next
	if remaining <= 0 || (mds.dropIncompleteBatch && remaining < mds.batchSize) {
		return nil, nil, io.EOF
	}
	n := min(remaining, mds.batchSize)
	batchIndices := mds.order[mds.next : mds.next+n]
	mds.next += n
	mds.numYields++

	exampleSize := mds.data.exampleSize
	flat := make([]float64, 0, n*exampleSize)
	labels = make([]int, n)
	for ii, idx := range batchIndices {
		flat = append(flat, mds.data.flat[idx*exampleSize:(idx+1)*exampleSize]...)
		labels[ii] = mds.data.labels[idx]
	}
	dims := append([]int{n}, mds.data.exampleDims...)
	return tensors.FromFlatDataAndDimensions(flat, dims...), labels, nil
}

// Shuffle configures the InMemoryDataset to shuffle the order of the data.
//
// At each call to Reset() it is reshuffled.
//
// It returns the modified InMemoryDataset, so calls can be cascaded if one wants.
func (mds *InMemoryDataset) Shuffle() *InMemoryDataset {
	mds.shuffle = true
	mds.Reset()
	return mds
}

// BatchSize configures the InMemoryDataset to return batches of the given size.
// If dropIncompleteBatch is set to true, the last batch is dropped if it is smaller than n.
//
// It returns the modified InMemoryDataset, so calls can be cascaded if one wants.
func (mds *InMemoryDataset) BatchSize(n int, dropIncompleteBatch bool) *InMemoryDataset {
	if n <= 0 {
		n = 1
	}
	mds.mu.Lock()
	defer mds.mu.Unlock()
	mds.batchSize = n
	mds.dropIncompleteBatch = dropIncompleteBatch
	return mds
}

// WithRand sets the random number generator (RNG) for shuffling and splitting. This allows for
// repeatable results.
//
// If dataset is configured with Shuffle, this re-shuffles the dataset immediately.
//
// It returns the modified InMemoryDataset, so calls can be cascaded if one wants.
func (mds *InMemoryDataset) WithRand(rng *rand.Rand) *InMemoryDataset {
	mds.rng = rng
	mds.Reset()
	return mds
}

// TakeN configures dataset to only yield N batches before returning io.EOF.
// If set to 0 or -1, it yields as many as there is data.
func (mds *InMemoryDataset) TakeN(n int) *InMemoryDataset {
	mds.mu.Lock()
	defer mds.mu.Unlock()
	mds.takeN = n
	return mds
}

// RandomSplit splits the examples randomly into two new datasets, the first with
// round(fraction*NumExamples) examples and the second with the rest.
//
// Both share the underlying data, and start with the default configuration of a Copy. They are
// named "<name>-a" and "<name>-b", use SetName to rename them.
func (mds *InMemoryDataset) RandomSplit(fraction float64) (first, second *InMemoryDataset, err error) {
	if fraction < 0 || fraction > 1 {
		return nil, nil, errors.Errorf("RandomSplit(%g): fraction must be in [0, 1]", fraction)
	}
	mds.mu.Lock()
	if mds.rng == nil {
		mds.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	permutation := mds.rng.Perm(len(mds.indices))
	mds.mu.Unlock()

	numFirst := int(math.Round(fraction * float64(len(mds.indices))))
	split := func(name string, perm []int) *InMemoryDataset {
		indices := make([]int, len(perm))
		for ii, p := range perm {
			indices[ii] = mds.indices[p]
		}
		slices.Sort(indices)
		ds := newInMemory(name, mds.data)
		ds.indices = indices
		ds.Reset()
		return ds
	}
	first = split(mds.name+"-a", permutation[:numFirst])
	second = split(mds.name+"-b", permutation[numFirst:])
	return first, second, nil
}

// inMemoryGob is the serialized form of an InMemoryDataset.
type inMemoryGob struct {
	Name, ShortName string
	ExampleDims     []int
	Flat            []float64
	Labels          []int
}

// GobSerialize in-memory content to the encoder.
//
// Only the examples selected by this dataset are serialized, not the sampling configuration.
func (mds *InMemoryDataset) GobSerialize(encoder *gob.Encoder) error {
	exampleSize := mds.data.exampleSize
	enc := inMemoryGob{
		Name:        mds.name,
		ShortName:   mds.shortName,
		ExampleDims: mds.data.exampleDims,
		Flat:        make([]float64, 0, len(mds.indices)*exampleSize),
		Labels:      mds.Labels(),
	}
	for _, idx := range mds.indices {
		enc.Flat = append(enc.Flat, mds.data.flat[idx*exampleSize:(idx+1)*exampleSize]...)
	}
	if err := encoder.Encode(&enc); err != nil {
		return errors.Wrapf(err, "failed to serialize InMemoryDataset %q", mds.name)
	}
	return nil
}

// GobDeserializeInMemory dataset from the decoder.
//
// No sampling configuration is recovered, and the InMemoryDataset created is sequential (no shuffling)
// and yields batches of 1 example.
func GobDeserializeInMemory(decoder *gob.Decoder) (*InMemoryDataset, error) {
	var dec inMemoryGob
	if err := decoder.Decode(&dec); err != nil {
		return nil, errors.Wrap(err, "failed to deserialize InMemoryDataset")
	}
	dims := append([]int{len(dec.Labels)}, dec.ExampleDims...)
	size := 1
	for _, dim := range dims {
		size *= dim
	}
	if size != len(dec.Flat) {
		return nil, errors.Errorf("deserialized InMemoryDataset %q has %d values, expected %d for shape %v",
			dec.Name, len(dec.Flat), size, dims)
	}
	mds, err := InMemoryFromData(dec.Name, tensors.FromFlatDataAndDimensions(dec.Flat, dims...), dec.Labels)
	if err != nil {
		return nil, err
	}
	mds.shortName = dec.ShortName
	return mds, nil
}
