package commandline

import (
	"bytes"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/shapes"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/datasets"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/layers"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/model"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/train"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/train/losses"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/train/metrics"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/train/optimizers"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/visualizers"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/support/params"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for concurrent writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func createTestParams() *params.Params {
	return params.New(
		"x", 11.0,
		"y", 7,
		"z", false,
		"s", "foo",
		"list_int", []int{},
		"list_float", []float64{},
		"list_str", []string{},
	)
}

func TestParseSettings(t *testing.T) {
	hp := createTestParams()
	paramsSet, err := ParseSettings(hp, "x=13; y=1_000;z=true;s=bar;list_int=1,3,7;list_float=0.1,1.2,3e3;list_str=a,b;")
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y", "z", "s", "list_int", "list_float", "list_str"}, paramsSet)
	assert.Equal(t, 13.0, params.MustGetParam[float64](hp, "x"))
	assert.Equal(t, 1000, params.MustGetParam[int](hp, "y"))
	assert.True(t, params.MustGetParam[bool](hp, "z"))
	assert.Equal(t, "bar", params.MustGetParam[string](hp, "s"))
	assert.Equal(t, []int{1, 3, 7}, params.GetParamOr(hp, "list_int", []int{}))
	assert.Equal(t, []float64{0.1, 1.2, 3e3}, params.GetParamOr(hp, "list_float", []float64{}))
	assert.Equal(t, []string{"a", "b"}, params.GetParamOr(hp, "list_str", []string{}))

	// Unknown parameter.
	_, err = ParseSettings(hp, "q=3")
	require.Error(t, err)

	// Wrong type of value.
	_, err = ParseSettings(hp, "y=3.14")
	require.Error(t, err)

	// Missing value.
	_, err = ParseSettings(hp, "y")
	require.Error(t, err)

	modified := SprintModifiedSettings(hp, []string{"y", "x", "y"})
	assert.Equal(t, "\t\"x\": (float64) 13\n\t\"y\": (int) 1000", modified)
	assert.Contains(t, SprintSettings(hp), `"list_str": ([]string) [a b]`)
}

func TestParseSettingsFile(t *testing.T) {
	hp := createTestParams()
	filePath := filepath.Join(t.TempDir(), "settings.txt")
	require.NoError(t, os.WriteFile(filePath, []byte("# Comment\nx=1.5\n\ny=2;z=true\n"), 0o644))
	paramsSet, err := ParseSettings(hp, "s=a;file:"+filePath)
	require.NoError(t, err)
	assert.Equal(t, []string{"s", "x", "y", "z"}, paramsSet)
	assert.Equal(t, 1.5, params.MustGetParam[float64](hp, "x"))
	assert.Equal(t, 2, params.MustGetParam[int](hp, "y"))

	_, err = ParseSettings(hp, "file:"+filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.23ms", FormatDuration(1234567*time.Nanosecond))
	assert.Equal(t, "2.00s", FormatDuration(2*time.Second))
	assert.Equal(t, "1m30s", FormatDuration(90*time.Second))
}

// newTestLoop returns a training loop for a linear classifier of 2D points, and its dataset.
func newTestLoop(t *testing.T) (*train.Loop, train.Dataset) {
	rng := rand.New(rand.NewPCG(3, 3))
	flat := make([]float64, 32*2)
	labels := make([]int, 32)
	for ii := range labels {
		flat[2*ii], flat[2*ii+1] = rng.Float64(), rng.Float64()
		if flat[2*ii] > flat[2*ii+1] {
			labels[ii] = 1
		}
	}
	ds, err := datasets.InMemoryFromData("points", tensors.FromFlatDataAndDimensions(flat, 32, 2), labels)
	require.NoError(t, err)
	ds.BatchSize(8, false)

	net := model.Sequential("net", model.New("fc", layers.DenseLayer(2, 2).WithRand(rng).Done()))
	opt := optimizers.SGD().LearningRate(0.1).Done(train.ParameterNodes(net)...)
	trainer := train.NewTrainer(net, losses.SparseCategoricalCrossEntropyLogits, opt,
		[]metrics.Interface{metrics.NewSparseCategoricalAccuracy("Accuracy", "acc")},
		[]metrics.Interface{metrics.NewSparseCategoricalAccuracy("Accuracy", "acc")})
	return train.NewLoop(trainer), ds
}

func TestProgressBar(t *testing.T) {
	loop, ds := newTestLoop(t)
	var out syncBuffer
	var extraCalls int
	attachProgressBar(loop, &out, func() (string, string) {
		extraCalls++
		return "Extra", "value"
	})
	_, err := loop.RunEpochs(ds, 2)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Median train step duration")
	assert.Contains(t, out.String(), "Accuracy")
	assert.Contains(t, out.String(), "Extra")
	assert.Positive(t, extraCalls)

	var report bytes.Buffer
	require.NoError(t, reportEval(&report, loop.Trainer, ds))
	assert.Contains(t, report.String(), "Results on points:")
	assert.Contains(t, report.String(), "Accuracy (acc)")
}

func TestVisualizationProgress(t *testing.T) {
	var out syncBuffer
	p := newVisualizationProgress(&out, 3)
	p.OnJobDone(visualizers.Job{Layer: 0, Filter: 0}, nil)
	p.OnJobDone(visualizers.Job{Layer: 0, Filter: 1}, errors.New("boom"))
	p.OnJobDone(visualizers.Job{Layer: 0, Filter: 2}, nil)
	assert.Equal(t, []string{"layer 0/filter 1: boom"}, p.Failures())
	assert.Equal(t, "3 of 3 visualizations done, 1 failed", p.Summary())
	assert.Contains(t, out.String(), "Visualizing filters")
}

func TestSummaries(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	net := model.Sequential("net",
		model.New("conv", layers.Convolution(3).Channels(4).KernelSize(3).PadSame().WithRand(rng).Done()),
		model.New("relu", layers.ReLU{}),
		model.New("flatten", layers.Flatten{}),
	)
	summary := SprintModelSummary(net, shapes.Make(1, 3, 8, 8))
	assert.Contains(t, summary, "conv")
	assert.Contains(t, summary, "ReLU()")
	assert.Contains(t, summary, "(Float64)[1 4 8 8]")
	assert.Contains(t, summary, "112") // 4*3*3*3 weights + 4 biases.
	assert.Contains(t, summary, "Total")

	h := train.NewHistory()
	h.Record(1, map[string]float64{"train/Mean Loss": 0.5})
	h.Record(2, map[string]float64{"train/Mean Loss": 0.25})
	history := SprintHistory(h)
	assert.Contains(t, history, "train/Mean Loss")
	assert.Contains(t, history, "0.25")
}
