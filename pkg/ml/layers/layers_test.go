package layers

import (
	"math/rand/v2"
	"testing"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/graph"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/shapes"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDense(t *testing.T) {
	dense := DenseLayer(4, 3).WithRand(rand.New(rand.NewPCG(1, 1))).Done()
	x := ones(2, 4)
	got := dense.Forward(x)
	require.NoError(t, got.Shape().Check(2, 3))
	assert.True(t, dense.OutputShape(shapes.Make(2, 4)).Equal(got.Shape()))
	require.Len(t, dense.Parameters(), 2)
	assert.Equal(t, "Linear(in_features=4, out_features=3, bias=true)", dense.String())
	require.Panics(t, func() { dense.OutputShape(shapes.Make(2, 5)) })

	// Gradients flow to the parameters.
	graph.Backward(graph.ReduceAllSum(got))
	for _, param := range dense.Parameters() {
		require.NotNil(t, param.Node.Grad(), "parameter %q", param.Name)
	}
	// d(sum)/d(bias) = batch size.
	assert.Equal(t, []float64{2, 2, 2}, dense.Parameters()[1].Node.Grad().Flat())
}

func TestParameterless(t *testing.T) {
	x := graph.Const(tensors.FromFlatDataAndDimensions([]float64{-1, 2, 3, -4, 5, 6, 7, 8}, 1, 2, 2, 2))
	assert.Equal(t, []float64{0, 2, 3, 0, 5, 6, 7, 8}, ReLU{}.Forward(x).Value().Flat())

	flat := Flatten{}.Forward(x)
	require.NoError(t, flat.Shape().Check(1, 8))
	assert.True(t, Flatten{}.OutputShape(x.Shape()).Equal(flat.Shape()))

	pool := NewMaxPool2D(2, 0)
	pooled := pool.Forward(x)
	require.NoError(t, pooled.Shape().Check(1, 2, 1, 1))
	assert.Equal(t, []float64{3, 8}, pooled.Value().Flat())
	assert.True(t, pool.OutputShape(x.Shape()).Equal(pooled.Shape()))
	assert.Equal(t, "MaxPool2d(kernel_size=2, stride=2)", pool.String())
}

func TestDropout(t *testing.T) {
	x := ones(10, 10)
	dropout := NewDropout(0.5, rand.New(rand.NewPCG(3, 4)))
	got := dropout.Forward(x)
	var zeros int
	for _, v := range got.Value().Flat() {
		if v == 0 {
			zeros++
		} else {
			require.Equal(t, 2.0, v)
		}
	}
	assert.Greater(t, zeros, 20)
	assert.Less(t, zeros, 80)

	dropout.SetTraining(false)
	assert.Same(t, x, dropout.Forward(x), "evaluation mode is the identity")
	require.Panics(t, func() { NewDropout(1, nil) })
}
