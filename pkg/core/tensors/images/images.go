// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package images provides several functions to transform images back and
// forth from tensors, and the ImageNet normalization used by the visualizers.
package images

import (
	"image"
	"math"
	"math/rand/v2"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/graph"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/shapes"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
	"github.com/disintegration/imaging"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ChannelsAxisConfig indicates if a tensor with an image has the channel axis
// coming last (last axis) or first (first axis after batch axis).
type ChannelsAxisConfig uint8

const (
	ChannelsFirst ChannelsAxisConfig = iota
	ChannelsLast
)

// String implements fmt.Stringer.
func (c ChannelsAxisConfig) String() string {
	switch c {
	case ChannelsFirst:
		return "ChannelsFirst"
	case ChannelsLast:
		return "ChannelsLast"
	}
	return "ChannelsAxisConfig(invalid)"
}

// GetChannelsAxis from a given image tensor and configuration. It assumes the
// leading axis is for the batch dimension. So it either returns 1 or
// `image.Rank()-1`.
func GetChannelsAxis(image shapes.HasShape, config ChannelsAxisConfig) int {
	switch config {
	case ChannelsFirst:
		return 1
	case ChannelsLast:
		return image.Shape().Rank() - 1
	default:
		klog.Errorf("GetChannelsAxis(image, %s): invalid ChannelsAxisConfig!?", config)
		return -1
	}
}

const (
	// DefaultSize is the height and width of the images synthesized or resized for the models.
	DefaultSize = 224

	// RandomPixelMin and RandomPixelMax are the range [min, max) of the pixel values of the
	// random images used as seed for the visualizations.
	RandomPixelMin, RandomPixelMax = 150, 180
)

var (
	// Mean per RGB channel of the ImageNet dataset, on a [0, 1] scale.
	Mean = [3]float64{0.485, 0.456, 0.406}

	// Std is the standard deviation per RGB channel of the ImageNet dataset, on a [0, 1] scale.
	Std = [3]float64{0.229, 0.224, 0.225}
)

// ToTensorConfig holds the configuration returned by the ToTensor function. Once
// configured, use Single or Batch to actually convert.
type ToTensorConfig struct {
	channelsAxis ChannelsAxisConfig
	mean, std    [3]float64
}

// ToTensor converts an image (or batch) to a tensor, with values scaled to [0, 1].
//
// It returns a configuration object that can be further configured. Once set, use Single or Batch
// methods to convert an image or a batch of images. The alpha channel is dropped.
func ToTensor() *ToTensorConfig {
	return &ToTensorConfig{
		channelsAxis: ChannelsLast,
		std:          [3]float64{1, 1, 1},
	}
}

// ChannelsAxis configures where the channels axis goes. Default is ChannelsLast.
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) ChannelsAxis(config ChannelsAxisConfig) *ToTensorConfig {
	tt.channelsAxis = config
	return tt
}

// Normalize configures the conversion to output (value-mean)/std per channel, where value is in [0, 1].
//
// It returns the ToTensorConfig object, so configuration calls can be cascaded.
func (tt *ToTensorConfig) Normalize(mean, std [3]float64) *ToTensorConfig {
	tt.mean, tt.std = mean, std
	return tt
}

// Single converts the given img to a tensor, using the ToTensorConfig.
//
// It returns a 3D tensor, shaped as `[height, width, 3]` or `[3, height, width]` for ChannelsFirst.
func (tt *ToTensorConfig) Single(img image.Image) *tensors.Tensor {
	t := tt.Batch([]image.Image{img})
	return t.Reshape(t.Shape().Dimensions[1:]...)
}

// Batch converts the given images to a tensor, using the ToTensorConfig.
//
// It returns a 4D tensor, shaped as `[batch_size, height, width, 3]` or
// `[batch_size, 3, height, width]` for ChannelsFirst.
//
// It panics if the images are not all the same size.
func (tt *ToTensorConfig) Batch(images []image.Image) *tensors.Tensor {
	if len(images) == 0 {
		exceptions.Panicf("images.ToTensor: no images given")
	}
	imgSize := images[0].Bounds().Size()
	height, width := imgSize.Y, imgSize.X
	var t *tensors.Tensor
	if tt.channelsAxis == ChannelsFirst {
		t = tensors.FromShape(shapes.Make(len(images), 3, height, width))
	} else {
		t = tensors.FromShape(shapes.Make(len(images), height, width, 3))
	}
	flat := t.Flat()
	planeSize := height * width
	for imgIdx, img := range images {
		if !img.Bounds().Size().Eq(imgSize) {
			exceptions.Panicf("image[%d] has size %s, but image[0] has size %s -- they must all be the same",
				imgIdx, img.Bounds().Size(), imgSize)
		}
		minPoint := img.Bounds().Min
		imgStart := imgIdx * 3 * planeSize
		for y := range height {
			for x := range width {
				r, g, b, _ := img.At(minPoint.X+x, minPoint.Y+y).RGBA()
				for channel, value := range [3]uint32{r, g, b} {
					// color.RGBA() returns 16 bits values packaged in uint32.
					v := (float64(value)/float64(0xFFFF) - tt.mean[channel]) / tt.std[channel]
					if tt.channelsAxis == ChannelsFirst {
						flat[imgStart+channel*planeSize+y*width+x] = v
					} else {
						flat[imgStart+(y*width+x)*3+channel] = v
					}
				}
			}
		}
	}
	return t
}

// ToImageConfig holds the configuration returned by the ToImage function. Once
// configured, use Single or Batch to actually convert a tensor to image(s).
type ToImageConfig struct {
	channelsAxis ChannelsAxisConfig
	mean, std    [3]float64
}

// ToImage returns a configuration that can be used to convert tensors with values in [0, 1]
// to images. Values out of range are clipped.
// Use Single or Batch to convert single images or batch of images at once.
//
// For now, it only supports `*image.NRGBA` image type.
func ToImage() *ToImageConfig {
	return &ToImageConfig{
		channelsAxis: ChannelsLast,
		std:          [3]float64{1, 1, 1},
	}
}

// ChannelsAxis configures where the channels axis is. Default is ChannelsLast.
//
// It returns the ToImageConfig object, so configuration calls can be cascaded.
func (ti *ToImageConfig) ChannelsAxis(config ChannelsAxisConfig) *ToImageConfig {
	ti.channelsAxis = config
	return ti
}

// Denormalize configures the conversion to first compute value*std+mean per channel,
// reverting ToTensorConfig.Normalize.
//
// It returns the ToImageConfig object, so configuration calls can be cascaded.
func (ti *ToImageConfig) Denormalize(mean, std [3]float64) *ToImageConfig {
	ti.mean, ti.std = mean, std
	return ti
}

// Single converts the given 3D tensor shaped as `[height, width, 3]` (or `[3, height, width]`
// for ChannelsFirst) to an image.
func (ti *ToImageConfig) Single(t *tensors.Tensor) *image.NRGBA {
	if t.Rank() != 3 {
		exceptions.Panicf("invalid tensor shape %s for images.ToImage().Single conversion, must be rank-3", t.Shape())
	}
	return ti.Batch(t.Reshape(append([]int{1}, t.Shape().Dimensions...)...))[0]
}

// Batch converts the given 4D tensor shaped as `[batch_size, height, width, 3]` (or
// `[batch_size, 3, height, width]` for ChannelsFirst) to a collection of images.
func (ti *ToImageConfig) Batch(t *tensors.Tensor) []*image.NRGBA {
	if t.Rank() != 4 {
		exceptions.Panicf("invalid tensor shape %s for images.ToImage().Batch conversion, must be rank-4", t.Shape())
	}
	dims := t.Shape().Dimensions
	numImages, height, width, channels := dims[0], dims[1], dims[2], dims[3]
	if ti.channelsAxis == ChannelsFirst {
		channels, height, width = dims[1], dims[2], dims[3]
	}
	if channels != 3 {
		exceptions.Panicf("images.ToImage invalid tensor shape %s, with %d channels: only RGB images are supported",
			t.Shape(), channels)
	}
	flat := t.Flat()
	planeSize := height * width
	images := make([]*image.NRGBA, 0, numImages)
	for imgIdx := range numImages {
		img := image.NewNRGBA(image.Rect(0, 0, width, height))
		imgStart := imgIdx * 3 * planeSize
		for y := range height {
			for x := range width {
				pixStart := y*img.Stride + x*4
				for channel := range 3 {
					var v float64
					if ti.channelsAxis == ChannelsFirst {
						v = flat[imgStart+channel*planeSize+y*width+x]
					} else {
						v = flat[imgStart+(y*width+x)*3+channel]
					}
					v = v*ti.std[channel] + ti.mean[channel]
					v = min(max(v, 0), 1)
					img.Pix[pixStart+channel] = uint8(math.Round(255 * v))
				}
				img.Pix[pixStart+3] = 255 // Alpha channel.
			}
		}
		images = append(images, img)
	}
	return images
}

// RandomImage returns an image with each channel of each pixel drawn uniformly from the
// integers in [RandomPixelMin, RandomPixelMax).
func RandomImage(rng *rand.Rand, height, width int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			pixStart := y*img.Stride + x*4
			for channel := range 3 {
				img.Pix[pixStart+channel] = uint8(RandomPixelMin + rng.IntN(RandomPixelMax-RandomPixelMin))
			}
			img.Pix[pixStart+3] = 255
		}
	}
	return img
}

// Preprocess converts an image to the normalized input of the models: a leaf node requiring
// gradients, shaped [1, 3, height, width], with values (pixel/255-Mean)/Std.
//
// If img is nil, a random DefaultSize x DefaultSize image is generated with rng. If resize is
// true, the image is first resized to DefaultSize x DefaultSize.
func Preprocess(rng *rand.Rand, img image.Image, resize bool) *graph.Node {
	if img == nil {
		img = RandomImage(rng, DefaultSize, DefaultSize)
	}
	if resize {
		img = imaging.Resize(img, DefaultSize, DefaultSize, imaging.Lanczos)
	}
	t := ToTensor().ChannelsAxis(ChannelsFirst).Normalize(Mean, Std).Batch([]image.Image{img})
	return graph.Leaf(t, true)
}

// Recreate reverts Preprocess: it converts x, shaped [1, 3, height, width], back to an image.
// Values are clipped to the valid range, and the batch axis is dropped.
func Recreate(x *graph.Node) *image.NRGBA {
	return ToImage().ChannelsAxis(ChannelsFirst).Denormalize(Mean, Std).Batch(x.Detach().Value())[0]
}

// Save the image to path. The format is chosen from the file extension (jpg, png, gif, tif or bmp).
// The parent directory must exist.
func Save(img image.Image, path string) error {
	if err := imaging.Save(img, path); err != nil {
		return errors.Wrapf(err, "failed to save image to %q", path)
	}
	return nil
}

// Open loads an image from path, decoding it according to its format.
func Open(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open image %q", path)
	}
	return img, nil
}
