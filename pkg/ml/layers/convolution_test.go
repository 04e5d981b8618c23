package layers

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/graph"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/shapes"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ones(dimensions ...int) *graph.Node {
	return graph.Const(tensors.FromScalarAndDimensions(1, dimensions...))
}

func TestConvolution(t *testing.T) {
	rng := rand.New(rand.NewPCG(0, 1))

	t.Run("PadSame", func(t *testing.T) {
		conv := Convolution(3).Channels(32).KernelSize(3).PadSame().Strides(1).WithRand(rng).Done()
		got := conv.Forward(ones(5, 3, 4, 4))
		require.NoError(t, got.Shape().Check(5, 32, 4, 4))
		assert.True(t, conv.OutputShape(shapes.Make(5, 3, 4, 4)).Equal(got.Shape()))
		assert.Equal(t, 32, conv.OutputChannels())
	})

	t.Run("Strides", func(t *testing.T) {
		conv := Convolution(2).Channels(4).KernelSizePerAxis(3, 2).NoPadding().Strides(2).UseBias(false).WithRand(rng).Done()
		got := conv.Forward(ones(1, 2, 9, 8))
		require.NoError(t, got.Shape().Check(1, 4, 4, 4))
		assert.True(t, conv.OutputShape(shapes.Make(1, 2, 9, 8)).Equal(got.Shape()))
		require.Len(t, conv.Parameters(), 1)
	})

	t.Run("Initialization", func(t *testing.T) {
		conv := Convolution(16).Channels(8).KernelSize(3).WithRand(rng).Done()
		params := conv.Parameters()
		require.Len(t, params, 2)
		assert.Equal(t, "weight", params[0].Name)
		require.NoError(t, params[0].Node.Shape().Check(8, 16, 3, 3))
		assert.True(t, params[0].Node.IsLeaf())
		assert.True(t, params[0].Node.RequiresGrad())
		bound := 1 / math.Sqrt(16*3*3)
		for _, v := range params[0].Node.Value().Flat() {
			require.LessOrEqual(t, math.Abs(v), bound)
		}
		require.NoError(t, params[1].Node.Shape().Check(8))
		assert.Equal(t, "Conv2d(16, 8, kernel_size=(3, 3), stride=(1, 1), padding=(0, 0))", conv.String())
	})

	t.Run("Errors", func(t *testing.T) {
		require.Panics(t, func() { Convolution(3).Channels(2).Done() }, "missing kernel size")
		require.Panics(t, func() { Convolution(3).KernelSize(2).PadSame() }, "even kernel")
		conv := Convolution(3).Channels(2).KernelSize(3).Done()
		require.Panics(t, func() { conv.Forward(ones(1, 3, 4)) })
		require.Panics(t, func() { conv.OutputShape(shapes.Make(1, 2, 4, 4)) })
	})
}

func TestDefaultSeed(t *testing.T) {
	SetDefaultSeed(7)
	a := DenseLayer(3, 2).Done()
	SetDefaultSeed(7)
	b := DenseLayer(3, 2).Done()
	assert.True(t, a.Parameters()[0].Node.Value().Equal(b.Parameters()[0].Node.Value()))
}
