// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"encoding/gob"
	"fmt"
	"image"
	"image/color"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors/images"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// StripesClasses are the names of the labels of the Stripes dataset.
var StripesClasses = []string{"horizontal", "vertical"}

// StripesImages generates numExamples RGB images of size x size pixels with stripes of random
// colors, period and phase, plus some noise. Label 0 are horizontal stripes, label 1 vertical.
func StripesImages(rng *rand.Rand, numExamples, size int) (imgs []image.Image, labels []int) {
	imgs = make([]image.Image, numExamples)
	labels = make([]int, numExamples)
	for ii := range numExamples {
		label := rng.IntN(len(StripesClasses))
		period := 2 + rng.IntN(max(size/4, 1))
		phase := rng.IntN(period)
		colors := [2]color.NRGBA{randomColor(rng), randomColor(rng)}
		img := image.NewNRGBA(image.Rect(0, 0, size, size))
		for y := range size {
			for x := range size {
				coord := y
				if label == 1 {
					coord = x
				}
				c := colors[((coord+phase)/period)%2]
				img.SetNRGBA(x, y, color.NRGBA{
					R: addNoise(rng, c.R), G: addNoise(rng, c.G), B: addNoise(rng, c.B), A: 255})
			}
		}
		imgs[ii] = img
		labels[ii] = label
	}
	return imgs, labels
}

func randomColor(rng *rand.Rand) color.NRGBA {
	return color.NRGBA{R: uint8(rng.IntN(256)), G: uint8(rng.IntN(256)), B: uint8(rng.IntN(256)), A: 255}
}

func addNoise(rng *rand.Rand, v uint8) uint8 {
	return uint8(min(max(int(v)+rng.IntN(33)-16, 0), 255))
}

// Stripes creates an in-memory dataset of numExamples generated by StripesImages, normalized with
// the ImageNet mean and standard deviation, and shaped [3, size, size] per example.
func Stripes(rng *rand.Rand, numExamples, size int) (*InMemoryDataset, error) {
	if numExamples <= 0 || size <= 0 {
		return nil, errors.Errorf("Stripes(numExamples=%d, size=%d): both must be > 0", numExamples, size)
	}
	imgs, labels := StripesImages(rng, numExamples, size)
	inputs := images.ToTensor().ChannelsAxis(images.ChannelsFirst).Normalize(images.Mean, images.Std).Batch(imgs)
	mds, err := InMemoryFromData("stripes", inputs, labels)
	if err != nil {
		return nil, err
	}
	return mds.SetName("Stripes", "str").WithRand(rng), nil
}

// StripesCachePath returns the file where StripesCached stores the dataset.
func StripesCachePath(cacheDir, prefix string, numExamples, size int) string {
	return filepath.Join(cacheDir, fmt.Sprintf("%s_%d_%dx%d.bin", prefix, numExamples, size, size))
}

// StripesCached is like Stripes, but the examples are generated only once: they are saved to
// StripesCachePath(cacheDir, prefix, numExamples, size) and loaded from there in later calls.
//
// The dataset returned is named "Stripes" and uses rng for shuffling and splitting.
func StripesCached(rng *rand.Rand, cacheDir, prefix string, numExamples, size int) (*InMemoryDataset, error) {
	fPath := StripesCachePath(cacheDir, prefix, numExamples, size)
	f, err := os.Open(fPath)
	if err == nil {
		mds, err := GobDeserializeInMemory(gob.NewDecoder(f))
		_ = f.Close()
		if err != nil {
			return nil, errors.WithMessagef(err, "loading cached stripes from %q", fPath)
		}
		if mds.NumExamples() != numExamples {
			return nil, errors.Errorf("cached stripes in %q have %d examples, expected %d", fPath, mds.NumExamples(), numExamples)
		}
		klog.V(1).Infof("loaded %d stripes examples from %q", numExamples, fPath)
		return mds.WithRand(rng), nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "failed to read cached stripes from %q", fPath)
	}

	mds, err := Stripes(rng, numExamples, size)
	if err != nil {
		return nil, err
	}
	if err = os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create cache directory %q", cacheDir)
	}
	f, err = os.Create(fPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create stripes cache %q", fPath)
	}
	err = mds.GobSerialize(gob.NewEncoder(f))
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = errors.Wrapf(closeErr, "failed to write stripes cache %q", fPath)
	}
	if err != nil {
		return nil, err
	}
	return mds, nil
}
