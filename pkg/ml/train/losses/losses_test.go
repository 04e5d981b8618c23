package losses

import (
	"math"
	"testing"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/graph"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSparseCategoricalCrossEntropyLogits(t *testing.T) {
	logits := graph.Leaf(tensors.FromValue([][]float64{{0, 0}, {math.Log(3), 0}}), true)
	loss := SparseCategoricalCrossEntropyLogits([]int{1, 0}, logits)
	// Example 0: -log(1/2); example 1: -log(3/4).
	want := (math.Log(2) - math.Log(0.75)) / 2
	assert.InDelta(t, want, loss.Value().ToScalar(), 1e-12)

	sum := SumSparseCategoricalCrossEntropyLogits([]int{1, 0}, logits)
	assert.InDelta(t, 2*want, sum.Value().ToScalar(), 1e-12)

	graph.Backward(loss)
	// (softmax - onehot) / batch.
	require.NoError(t, logits.Grad().InDelta(tensors.FromValue([][]float64{{0.25, -0.25}, {-0.125, 0.125}}), 1e-12))
	require.Panics(t, func() { SparseCategoricalCrossEntropyLogits([]int{2, 0}, logits) })
}

func TestByName(t *testing.T) {
	fn, err := ByName("cross_entropy")
	require.NoError(t, err)
	assert.NotNil(t, fn)
	_, err = ByName("hinge")
	require.Error(t, err)
}
