// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"math"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/shapes"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
	"github.com/gomlx/exceptions"
)

// PoolBuilder is a helper to build a 2D max-pooling computation.
// Create it with MaxPool, set the desired parameters and call Done.
type PoolBuilder struct {
	x          *Node
	window     [2]int
	strides    [2]int
	stridesSet bool
}

// MaxPool prepares a 2D max-pooling on x, shaped [batch, channels, height, width].
//
// The default window is 2x2, and the strides default to the window size.
// Windows that don't fit in the input (the border) are dropped, there is no padding.
func MaxPool(x *Node) *PoolBuilder {
	if x.Rank() != 4 {
		exceptions.Panicf("MaxPool(x) requires a rank-4 operand [batch, channels, height, width], got x.shape=%s", x.Shape())
	}
	return &PoolBuilder{x: x, window: [2]int{2, 2}}
}

// Window sets the same window size for both spatial axes.
func (pool *PoolBuilder) Window(size int) *PoolBuilder {
	return pool.WindowPerAxis(size, size)
}

// WindowPerAxis sets the window size for the height and width axes.
func (pool *PoolBuilder) WindowPerAxis(height, width int) *PoolBuilder {
	if height < 1 || width < 1 {
		exceptions.Panicf("MaxPool: window sizes must be >= 1, got (%d, %d)", height, width)
	}
	pool.window = [2]int{height, width}
	return pool
}

// Strides sets the same stride for both spatial axes. If not set, it defaults to the window size.
func (pool *PoolBuilder) Strides(stride int) *PoolBuilder {
	if stride < 1 {
		exceptions.Panicf("MaxPool: stride must be >= 1, got %d", stride)
	}
	pool.strides = [2]int{stride, stride}
	pool.stridesSet = true
	return pool
}

// Done returns the pooled x, shaped [batch, channels, outHeight, outWidth].
func (pool *PoolBuilder) Done() *Node {
	strides := pool.strides
	if !pool.stridesSet {
		strides = pool.window
	}
	dims := pool.x.Shape().Dimensions
	batchSize, channels, height, width := dims[0], dims[1], dims[2], dims[3]
	outHeight := (height-pool.window[0])/strides[0] + 1
	outWidth := (width-pool.window[1])/strides[1] + 1
	if height < pool.window[0] || width < pool.window[1] {
		exceptions.Panicf("MaxPool: window %v larger than input x.shape=%s", pool.window, pool.x.Shape())
	}

	output := tensors.FromShape(shapes.Make(batchSize, channels, outHeight, outWidth))
	inFlat, outFlat := pool.x.value.Flat(), output.Flat()
	// argMax holds the flat input position of the max of each output.
	argMax := make([]int, len(outFlat))
	outIdx := 0
	for plane := range batchSize * channels {
		planeStart := plane * height * width
		for oh := range outHeight {
			for ow := range outWidth {
				best, bestPos := math.Inf(-1), -1
				for wh := range pool.window[0] {
					rowStart := planeStart + (oh*strides[0]+wh)*width
					for ww := range pool.window[1] {
						pos := rowStart + ow*strides[1] + ww
						if bestPos < 0 || inFlat[pos] > best {
							best, bestPos = inFlat[pos], pos
						}
					}
				}
				outFlat[outIdx] = best
				argMax[outIdx] = bestPos
				outIdx++
			}
		}
	}
	return newNode("MaxPool", output, func(v *tensors.Tensor, _ []bool) []*tensors.Tensor {
		grad := tensors.FromShape(pool.x.Shape())
		gradFlat := grad.Flat()
		for ii, vValue := range v.Flat() {
			gradFlat[argMax[ii]] += vValue
		}
		return []*tensors.Tensor{grad}
	}, pool.x)
}
