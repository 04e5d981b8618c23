package optimizers

import (
	"math"
	"testing"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/graph"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/support/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quadraticStep runs one optimization step of the loss sum((x-target)²)/2, whose gradient is x-target.
func quadraticStep(opt Interface, x *graph.Node, target float64) {
	opt.ZeroGrad()
	shifted := graph.Add(x, graph.Const(tensors.FromScalarAndDimensions(-target, x.Shape().Dimensions...)))
	loss := graph.MulScalar(graph.ReduceAllSum(graph.Mul(shifted, shifted)), 0.5)
	graph.Backward(loss, x)
	opt.Step()
}

func TestAdam(t *testing.T) {
	// First Adam step moves each parameter by ~lr in the direction opposite to the gradient.
	x := graph.Leaf(tensors.FromFlatDataAndDimensions([]float64{1, -2, 3}, 3), true)
	opt := Adam().LearningRate(0.1).Done(x)
	quadraticStep(opt, x, 0)
	assert.Equal(t, 1, opt.NumSteps())
	require.NoError(t, x.Value().InDelta(tensors.FromFlatDataAndDimensions([]float64{0.9, -1.9, 2.9}, 3), 1e-6))

	// Converges to the minimum.
	for range 300 {
		quadraticStep(opt, x, 0.5)
	}
	require.NoError(t, x.Value().InDelta(tensors.FromScalarAndDimensions(0.5, 3), 1e-2))
}

func TestAdamWeightDecay(t *testing.T) {
	// With a zero gradient, the L2 penalty alone drives the step: g = wd·x.
	x := graph.Leaf(tensors.FromFlatDataAndDimensions([]float64{2}, 1), true)
	opt := Adam().LearningRate(0.1).WeightDecay(1e-6).Done(x)
	quadraticStep(opt, x, 2)
	assert.InDelta(t, 1.9, x.Value().Flat()[0], 1e-3)
	assert.Equal(t, []float64{0}, x.Grad().Flat(), "the accumulated gradient is not modified")

	// Decoupled: x shrinks by lr·wd·x, and the zero gradient leaves the moments at 0.
	y := graph.Leaf(tensors.FromFlatDataAndDimensions([]float64{2}, 1), true)
	optW := Adam().LearningRate(0.1).WeightDecay(0.5).DecoupledWeightDecay(true).Done(y)
	quadraticStep(optW, y, 2)
	assert.InDelta(t, 2*(1-0.05), y.Value().Flat()[0], 1e-9)
}

func TestAdamSkipsParametersWithoutGradient(t *testing.T) {
	x := graph.Leaf(tensors.FromScalarAndDimensions(1, 2), true)
	unused := graph.Leaf(tensors.FromScalarAndDimensions(1, 2), true)
	opt := Adam().Adamax().Done(x, unused)
	quadraticStep(opt, x, 0)
	assert.Equal(t, []float64{1, 1}, unused.Value().Flat())
	assert.Less(t, x.Value().Flat()[0], 1.0)
}

func TestSGD(t *testing.T) {
	x := graph.Leaf(tensors.FromFlatDataAndDimensions([]float64{1, 2}, 2), true)
	opt := SGD().LearningRate(0.1).Done(x)
	quadraticStep(opt, x, 0)
	assert.InDeltaSlice(t, []float64{0.9, 1.8}, x.Value().Flat(), 1e-12)

	// Momentum: v1 = g1, v2 = 0.9·v1 + g2.
	y := graph.Leaf(tensors.FromFlatDataAndDimensions([]float64{1}, 1), true)
	opt = SGD().LearningRate(0.1).Momentum(0.9).Done(y)
	quadraticStep(opt, y, 0)
	assert.InDelta(t, 0.9, y.Value().Flat()[0], 1e-12)
	quadraticStep(opt, y, 0)
	assert.InDelta(t, 0.9-0.1*(0.9*1+0.9), y.Value().Flat()[0], 1e-12)
	assert.Equal(t, 2, opt.NumSteps())
}

func TestByName(t *testing.T) {
	x := graph.Leaf(tensors.FromScalarAndDimensions(1, 2), true)
	hp := params.New(ParamLearningRate, 0.5, ParamMomentum, 0.9, ParamClipStepByValue, 0.01)
	for _, name := range KnownOptimizers {
		opt, err := ByName(name, hp, x)
		require.NoError(t, err, name)
		assert.Equal(t, 0.5, opt.LearningRate(), name)
	}
	opt, err := ByName("SGD", hp, x)
	require.NoError(t, err)
	quadraticStep(opt, x, 0)
	assert.InDelta(t, 0.99, x.Value().Flat()[0], 1e-12, "step clipped by value")

	_, err = ByName("lbfgs", nil, x)
	require.Error(t, err)
	require.Panics(t, func() { SGD().Done() })
	require.Panics(t, func() { SGD().Done(graph.Const(tensors.FromScalar(1))) })
}

func TestSchedule(t *testing.T) {
	x := graph.Leaf(tensors.FromScalarAndDimensions(1, 1), true)
	opt := SGD().Schedule(func(step int) float64 { return math.Pow(0.5, float64(step)) }).Done(x)
	assert.Equal(t, 1.0, opt.LearningRate())
	quadraticStep(opt, x, 0)
	assert.Equal(t, 0.5, opt.LearningRate())
	assert.InDelta(t, 0.0, x.Value().Flat()[0], 1e-12)
}
