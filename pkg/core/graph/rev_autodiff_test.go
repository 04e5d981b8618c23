package graph_test

import (
	"testing"

	. "github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/graph"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackward(t *testing.T) {
	x := Leaf(tensors.FromValue([]float64{1, -2, 3}), true)
	w := Leaf(tensors.FromValue([]float64{2, 3, 2}), true)

	// loss = sum(relu(x+w)) + sum(x), with x+w > 0 everywhere.
	loss := Add(ReduceAllSum(ReLU(Add(x, w))), ReduceAllSum(x))
	Backward(loss)
	assert.Equal(t, []float64{2, 2, 2}, x.Grad().Flat())
	assert.Equal(t, []float64{1, 1, 1}, w.Grad().Flat())

	// Gradients accumulate until ZeroGrad.
	Backward(ReduceAllSum(x))
	assert.Equal(t, []float64{3, 3, 3}, x.Grad().Flat())
	x.ZeroGrad()
	assert.Nil(t, x.Grad())
}

func TestBackwardSelectedLeaves(t *testing.T) {
	x := Leaf(tensors.FromValue([][]float64{{1, 2}}), true)
	w := Leaf(tensors.FromValue([][]float64{{3, 4}}), true)
	loss := ReduceAllSum(Dense(x, w, nil))
	Backward(loss, x)
	assert.Equal(t, [][]float64{{3, 4}}, x.Grad().Value())
	assert.Nil(t, w.Grad(), "only selected leaves receive gradients")
}

func TestGradient(t *testing.T) {
	x := Leaf(tensors.FromValue([]float64{1, 2}), true)
	unrelated := Leaf(tensors.FromValue([]float64{5}), true)
	grads := Gradient(ReduceAllMean(MulScalar(x, 3)), x, unrelated)
	assert.Equal(t, []float64{1.5, 1.5}, grads[0].Flat())
	assert.Equal(t, []float64{0}, grads[1].Flat())
	assert.Nil(t, x.Grad(), "Gradient must not accumulate on leaves")
}

func TestBackwardErrors(t *testing.T) {
	x := Leaf(tensors.FromValue([]float64{1, 2}), true)
	require.Panics(t, func() { Backward(ReLU(x)) }, "root must be a scalar")
	require.Panics(t, func() { Backward(ReduceAllSum(Const(tensors.FromValue([]float64{1})))) }, "root must require gradients")
	require.Panics(t, func() { Backward(ReduceAllSum(x), ReLU(x)) }, "gradients only with respect to leaves")
	require.Panics(t, func() { ReLU(x).SetRequiresGrad(false) })
}
