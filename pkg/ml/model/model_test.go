package model

import (
	"bytes"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/graph"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/shapes"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors/numpy"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/layers"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingLayer is the identity, counting how many times it was called.
type countingLayer struct {
	calls int
}

func (c *countingLayer) Forward(x *graph.Node) *graph.Node             { c.calls++; return x }
func (c *countingLayer) OutputShape(input shapes.Shape) shapes.Shape { return input }
func (c *countingLayer) Parameters() []*layers.Parameter             { return nil }
func (c *countingLayer) String() string                              { return "Counting()" }

func buildTestModel(rng *rand.Rand) *Module {
	return Sequential("net",
		New("conv1", layers.Convolution(3).Channels(4).KernelSize(3).PadSame().WithRand(rng).Done()),
		New("relu1", layers.ReLU{}),
		Sequential("block",
			New("0", layers.NewMaxPool2D(2, 0)),
			New("1", layers.Convolution(4).Channels(2).KernelSize(3).WithRand(rng).Done()),
		),
		New("flatten", layers.Flatten{}),
		New("fc", layers.DenseLayer(2*2*2, 3).WithRand(rng).Done()),
		New("dropout", layers.NewDropout(0.5, rng)),
	)
}

func TestForwardUntil(t *testing.T) {
	counters := make([]*countingLayer, 4)
	children := make([]*Module, len(counters))
	for ii := range counters {
		counters[ii] = &countingLayer{}
		children[ii] = New(string(rune('a'+ii)), counters[ii])
	}
	net := Sequential("net", children...)
	x := graph.Const(tensors.FromScalar(1))

	net.ForwardUntil(x, 1)
	assert.Equal(t, []int{1, 1, 0, 0}, []int{counters[0].calls, counters[1].calls, counters[2].calls, counters[3].calls})

	// Index past the end runs everything.
	net.ForwardUntil(x, 10)
	assert.Equal(t, []int{2, 2, 1, 1}, []int{counters[0].calls, counters[1].calls, counters[2].calls, counters[3].calls})

	net.Forward(x)
	assert.Equal(t, 3, counters[3].calls)
	require.Panics(t, func() { net.ForwardUntil(x, -1) })
}

func TestLookup(t *testing.T) {
	net := buildTestModel(rand.New(rand.NewPCG(1, 2)))
	m, err := net.Lookup("conv1")
	require.NoError(t, err)
	assert.Equal(t, "conv1", m.Name())

	// Numeric segments select by position if there is no child with that name.
	m, err = net.Lookup("0")
	require.NoError(t, err)
	assert.Equal(t, "conv1", m.Name())

	// Numeric segment matching a child name takes precedence.
	m, err = net.Lookup("block.1")
	require.NoError(t, err)
	assert.IsType(t, &layers.Conv2D{}, m.Layer())

	m, err = net.Lookup("2.0")
	require.NoError(t, err)
	assert.IsType(t, &layers.MaxPool2D{}, m.Layer())

	m, err = net.Lookup("")
	require.NoError(t, err)
	assert.Same(t, net, m)

	for _, path := range []string{"conv2", "block.2", "6", "conv1.weight"} {
		_, err = net.Lookup(path)
		require.Error(t, err, "path %q", path)
		assert.True(t, errors.Is(err, ErrModuleNotFound), "path %q: %v", path, err)
	}
}

func TestHooks(t *testing.T) {
	net := buildTestModel(rand.New(rand.NewPCG(3, 4)))
	net.Eval()
	x := graph.Const(tensors.FromScalarAndDimensions(0.5, 1, 3, 8, 8))

	conv, err := net.Lookup("block.1")
	require.NoError(t, err)
	var captured []*graph.Node
	handle := conv.RegisterForwardHook(func(module *Module, input, output *graph.Node) {
		assert.Same(t, conv, module)
		require.NoError(t, input.Shape().Check(1, 4, 4, 4))
		captured = append(captured, output)
	})
	assert.Equal(t, 1, net.NumHooks())

	// Hook doesn't fire if the forward stops before the module.
	net.ForwardUntil(x, 1)
	assert.Empty(t, captured)

	net.ForwardUntil(x, 2)
	require.Len(t, captured, 1)
	require.NoError(t, captured[0].Shape().Check(1, 2, 2, 2))

	net.Forward(x)
	assert.Len(t, captured, 2)

	handle.Remove()
	handle.Remove()
	assert.Equal(t, 0, net.NumHooks())
	net.Forward(x)
	assert.Len(t, captured, 2)

	// Hooks on the root fire for Forward, but not for ForwardUntil.
	var rootCalls int
	rootHandle := net.RegisterForwardHook(func(*Module, *graph.Node, *graph.Node) { rootCalls++ })
	defer rootHandle.Remove()
	net.ForwardUntil(x, 10)
	net.Forward(x)
	assert.Equal(t, 1, rootCalls)
}

func TestModes(t *testing.T) {
	net := buildTestModel(rand.New(rand.NewPCG(5, 6)))
	x := graph.Const(tensors.FromScalarAndDimensions(1, 2, 3, 8, 8))
	assert.True(t, net.IsTraining())
	net.Eval()
	assert.False(t, net.IsTraining())
	dropout, err := net.Lookup("dropout")
	require.NoError(t, err)
	assert.False(t, dropout.IsTraining())
	first := net.Forward(x).Value()
	second := net.Forward(x).Value()
	assert.True(t, first.Equal(second), "evaluation must be deterministic")
	net.Train()
	assert.True(t, dropout.IsTraining())
}

func TestShapesAndParameters(t *testing.T) {
	net := buildTestModel(rand.New(rand.NewPCG(7, 8)))
	input := shapes.Make(2, 3, 8, 8)
	assert.True(t, net.OutputShape(input).Equal(shapes.Make(2, 3)))
	assert.True(t, net.OutputShapeUntil(input, 2).Equal(shapes.Make(2, 2, 2, 2)))
	x := graph.Const(tensors.FromScalarAndDimensions(1, input.Dimensions...))
	assert.True(t, net.Forward(x).Shape().Equal(shapes.Make(2, 3)))

	var names []string
	for _, param := range net.Parameters() {
		names = append(names, param.Name)
	}
	assert.Equal(t, []string{"conv1.weight", "conv1.bias", "block.1.weight", "block.1.bias", "fc.weight", "fc.bias"}, names)
	assert.Equal(t, 4*3*9+4+2*4*9+2+3*8+3, net.NumParameters())

	description := net.String()
	assert.True(t, strings.Contains(description, "(block): Sequential("), description)
	assert.True(t, strings.Contains(description, "(fc): Linear(in_features=8, out_features=3, bias=true)"), description)
}

func TestStateDict(t *testing.T) {
	source := buildTestModel(rand.New(rand.NewPCG(9, 10)))
	target := buildTestModel(rand.New(rand.NewPCG(11, 12)))
	filePath := filepath.Join(t.TempDir(), "weights.npz")
	require.NoError(t, source.SaveNpz(filePath))
	require.NoError(t, target.LoadNpz(filePath))
	for name, value := range source.StateDict() {
		assert.True(t, value.Equal(target.StateDict()[name]), "parameter %q", name)
	}

	// StateDict returns copies.
	state := source.StateDict()
	state["fc.bias"].Fill(100)
	assert.NotEqual(t, 100.0, source.StateDict()["fc.bias"].Flat()[0])

	// Errors leave the parameters untouched.
	delete(state, "conv1.weight")
	require.Error(t, target.LoadStateDict(state))
	state = source.StateDict()
	state["fc.weight"] = tensors.FromShape(shapes.Make(2, 2))
	require.Error(t, target.LoadStateDict(state))
	assert.NotEqual(t, 100.0, target.StateDict()["fc.bias"].Flat()[0])

	var buf bytes.Buffer
	require.NoError(t, source.WriteNpz(&buf))
	loaded, err := numpy.FromNpzReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	assert.Len(t, loaded, 6)
}
