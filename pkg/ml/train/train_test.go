package train

import (
	"bytes"
	"io"
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/layers"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/model"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/train/losses"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/train/metrics"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pointsDataset yields batches of 2D points, labeled 0 if x>y and 1 otherwise.
type pointsDataset struct {
	name      string
	batches   []*tensors.Tensor
	labels    [][]int
	next      int
	numResets int
}

func newPointsDataset(name string, numBatches, batchSize int, rng *rand.Rand) *pointsDataset {
	ds := &pointsDataset{name: name}
	for range numBatches {
		flat := make([]float64, batchSize*2)
		labels := make([]int, batchSize)
		for ii := range batchSize {
			x, y := rng.Float64()*2-1, rng.Float64()*2-1
			flat[2*ii], flat[2*ii+1] = x, y
			if x <= y {
				labels[ii] = 1
			}
		}
		ds.batches = append(ds.batches, tensors.FromFlatDataAndDimensions(flat, batchSize, 2))
		ds.labels = append(ds.labels, labels)
	}
	return ds
}

func (ds *pointsDataset) Name() string      { return ds.name }
func (ds *pointsDataset) ShortName() string { return ds.name[:1] }
func (ds *pointsDataset) Reset()            { ds.next = 0; ds.numResets++ }
func (ds *pointsDataset) Yield() (*tensors.Tensor, []int, error) {
	if ds.next >= len(ds.batches) {
		return nil, nil, io.EOF
	}
	ds.next++
	return ds.batches[ds.next-1], ds.labels[ds.next-1], nil
}

func newTestTrainer(rng *rand.Rand) *Trainer {
	net := model.Sequential("net",
		model.New("fc", layers.DenseLayer(2, 2).WithRand(rng).Done()),
		model.New("dropout", layers.NewDropout(0.1, rng)),
	)
	opt := optimizers.SGD().LearningRate(0.5).Done(ParameterNodes(net)...)
	return NewTrainer(net, losses.SparseCategoricalCrossEntropyLogits, opt,
		[]metrics.Interface{metrics.NewSparseCategoricalAccuracy("Accuracy", "acc")},
		[]metrics.Interface{metrics.NewSparseCategoricalAccuracy("Accuracy", "acc")})
}

func TestTrainer(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 0))
	trainer := newTestTrainer(rng)
	trainDS := newPointsDataset("train", 20, 8, rng)
	evalDS := newPointsDataset("valid", 5, 8, rng)

	before, err := trainer.Eval(evalDS)
	require.NoError(t, err)
	require.Len(t, before, 2)
	assert.True(t, trainer.Model().IsTraining(), "models start in training mode, restored after eval")
	assert.Equal(t, 2, evalDS.numResets, "dataset reset before and after eval")

	loop := NewLoop(trainer)
	_, err = loop.RunEpochs(trainDS, 10)
	require.NoError(t, err)
	assert.Equal(t, 10*20, trainer.Optimizer().NumSteps())

	trainer.Model().Eval()
	after, err := trainer.Eval(evalDS)
	require.NoError(t, err)
	assert.False(t, trainer.Model().IsTraining(), "eval mode kept")
	assert.Less(t, after[0], before[0], "eval loss should go down")
	assert.Greater(t, after[1], 0.8, "accuracy on a linearly separable problem")

	// Errors in the step are returned, not panicked.
	_, err = trainer.TrainStep(tensors.FromScalarAndDimensions(0, 3, 2), []int{0})
	require.Error(t, err)
}

func TestLoopHooks(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	trainer := newTestTrainer(rng)
	ds := newPointsDataset("train", 3, 4, rng)
	loop := NewLoop(trainer)

	var calls []string
	loop.OnStart("start", 0, func(loop *Loop, ds Dataset) error {
		calls = append(calls, "start")
		return nil
	})
	loop.OnStep("second", 10, func(loop *Loop, metrics []float64) error {
		calls = append(calls, "second")
		return nil
	})
	loop.OnStep("first", -1, func(loop *Loop, metrics []float64) error {
		assert.Len(t, metrics, 2)
		calls = append(calls, "first")
		return nil
	})
	var epochs []int
	loop.OnEpoch("epoch", 0, func(loop *Loop, epoch int, metrics []float64) error {
		epochs = append(epochs, epoch)
		return nil
	})
	var fired []int
	EveryNEpochs(loop, 2, "every2", 0, func(loop *Loop, epoch int, metrics []float64) error {
		fired = append(fired, epoch)
		return nil
	})
	var everyStep []int
	EveryNSteps(loop, 4, "every4", 0, func(loop *Loop, metrics []float64) error {
		everyStep = append(everyStep, loop.LoopStep)
		return nil
	})
	loop.OnEnd("end", 0, func(loop *Loop, metrics []float64) error {
		calls = append(calls, "end")
		return nil
	})

	_, err := loop.RunEpochs(ds, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, epochs)
	assert.Equal(t, []int{2, 4}, fired)
	assert.Equal(t, []int{3, 7, 11}, everyStep)
	assert.Equal(t, 12, loop.LoopStep)
	assert.Equal(t, 12, loop.EndStep)
	assert.Equal(t, []string{"start", "first", "second"}, calls[:3])
	assert.Equal(t, "end", calls[len(calls)-1])
	assert.Len(t, loop.TrainStepDurations, 12)
	assert.Greater(t, loop.MedianTrainStepDuration(), time.Duration(0))

	// RunSteps picks up where it left off, wrapping around the dataset.
	_, err = loop.RunSteps(ds, 5)
	require.NoError(t, err)
	assert.Equal(t, 12, loop.StartStep)
	assert.Equal(t, 17, loop.LoopStep)
}

func TestLoopErrors(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 3))
	trainer := newTestTrainer(rng)
	loop := NewLoop(trainer)
	_, err := loop.RunEpochs(newPointsDataset("empty", 0, 4, rng), 1)
	require.Error(t, err)
	_, err = loop.RunSteps(newPointsDataset("empty", 0, 4, rng), 1)
	require.Error(t, err)

	hookErr := errors.New("stop here")
	loop.OnStep("failing", 0, func(loop *Loop, metrics []float64) error { return hookErr })
	_, err = loop.RunSteps(newPointsDataset("train", 2, 4, rng), 3)
	require.ErrorIs(t, err, hookErr)
}

func TestHistory(t *testing.T) {
	h := NewHistory()
	h.Record(1, map[string]float64{"train/Mean Loss": 0.5, "valid/Accuracy": 0.25})
	h.Record(2, map[string]float64{"train/Mean Loss": 0.25})
	h.Record(2, map[string]float64{"test/Accuracy": 0.75})
	assert.Equal(t, []int{1, 2}, h.Epochs())
	assert.Equal(t, []string{"train/Mean Loss", "valid/Accuracy", "test/Accuracy"}, h.Names())
	assert.Equal(t, 0.25, h.Last("train/Mean Loss"))
	assert.True(t, math.IsNaN(h.Last("valid/Accuracy")))
	assert.True(t, math.IsNaN(h.Column("test/Accuracy")[0]))
	assert.True(t, math.IsNaN(h.Last("missing")))

	var buf bytes.Buffer
	require.NoError(t, h.WriteCSV(&buf))
	h2, err := ReadHistoryCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, h.Epochs(), h2.Epochs())
	assert.Equal(t, h.Names(), h2.Names())
	assert.InDeltaSlice(t, []float64{0.5, 0.25}, h2.Column("train/Mean Loss"), 1e-6)
	assert.InDelta(t, 0.75, h2.Last("test/Accuracy"), 1e-6)

	filePath := filepath.Join(t.TempDir(), "history.csv")
	require.NoError(t, h.SaveCSV(filePath))
	require.FileExists(t, filePath)
}

func TestHistoryAttach(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 5))
	trainer := newTestTrainer(rng)
	loop := NewLoop(trainer)
	h := NewHistory()
	h.Attach(loop, 0, newPointsDataset("valid", 2, 4, rng))
	_, err := loop.RunEpochs(newPointsDataset("train", 2, 4, rng), 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, h.Epochs())
	assert.Equal(t, []string{"train/Accuracy", "train/Mean Loss", "v/Accuracy", "v/Mean Loss"}, h.Names())
}
