// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package visualizers synthesizes the images that maximize the activation of convolution
// filters: starting from a random image, gradient ascent over its pixels maximizes the mean
// output of one filter of one layer of a model.
//
// Example:
//
//	v, err := visualizers.New(net, 2, 5, "generated")
//	if err != nil { ... }
//	err = v.VisualizeWithHooks() // Writes generated/2/5.jpg
package visualizers

import (
	"image"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/graph"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors/images"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/model"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/train/optimizers"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/support/params"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	// DefaultIterations is the number of optimization steps of a visualization.
	DefaultIterations = 30

	// DefaultLearningRate of the Adam optimizer over the image pixels.
	DefaultLearningRate = 0.1

	// DefaultWeightDecay of the Adam optimizer over the image pixels.
	DefaultWeightDecay = 1e-6

	// DefaultExtension of the saved images, it defines their format.
	DefaultExtension = ".jpg"
)

// Hyperparameters read by CNNLayerVisualization.FromParams.
const (
	ParamIterations   = "iterations"
	ParamLearningRate = "learning_rate"
	ParamWeightDecay  = "weight_decay"
	ParamImageSize    = "image_size"
)

// StepFn is called after each optimization step, with the iteration number (starting at 1),
// the loss (the negated mean activation) and the activation maximized.
type StepFn func(iteration int, loss float64, activation *tensors.Tensor)

// CNNLayerVisualization synthesizes the image that maximizes the mean activation of one filter
// of one of the top-level children of a model.
//
// It borrows the model: the parameters are never changed, but the model is set to evaluation mode.
// Each call to Visualize runs sequentially. Different visualizations may run concurrently
// without hooks, see RunBatch.
type CNNLayerVisualization struct {
	model          *model.Module
	selectedLayer  int
	selectedFilter int
	outputDir      string

	iterations   int
	learningRate float64
	weightDecay  float64
	imageSize    int
	extension    string
	seed         uint64
	seeded       bool
	hookPath     string
	onStep       StepFn

	lastImage *image.NRGBA
}

// New creates a visualizer for the filter selectedFilter of the top-level child selectedLayer of
// the model. Images are saved under outputDir/selectedLayer, which is created if needed.
//
// It sets the model to evaluation mode. Layer and filter are not validated: invalid values
// surface as errors during the first iteration of the visualization.
func New(m *model.Module, selectedLayer, selectedFilter int, outputDir string) (*CNNLayerVisualization, error) {
	m.Eval()
	v := &CNNLayerVisualization{
		model:          m,
		selectedLayer:  selectedLayer,
		selectedFilter: selectedFilter,
		outputDir:      outputDir,
		iterations:     DefaultIterations,
		learningRate:   DefaultLearningRate,
		weightDecay:    DefaultWeightDecay,
		imageSize:      images.DefaultSize,
		extension:      DefaultExtension,
	}
	layerDir := filepath.Join(outputDir, strconv.Itoa(selectedLayer))
	if err := os.MkdirAll(layerDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create visualization directory %q", layerDir)
	}
	return v, nil
}

// FromParams configures the visualization from the hyperparameters, for those that are set.
// See ParamIterations, ParamLearningRate, ParamWeightDecay and ParamImageSize.
func (v *CNNLayerVisualization) FromParams(hp *params.Params) *CNNLayerVisualization {
	v.iterations = params.GetParamOr(hp, ParamIterations, v.iterations)
	v.learningRate = params.GetParamOr(hp, ParamLearningRate, v.learningRate)
	v.weightDecay = params.GetParamOr(hp, ParamWeightDecay, v.weightDecay)
	v.imageSize = params.GetParamOr(hp, ParamImageSize, v.imageSize)
	return v
}

// Iterations sets the number of optimization steps. Default is 30.
func (v *CNNLayerVisualization) Iterations(n int) *CNNLayerVisualization {
	v.iterations = n
	return v
}

// LearningRate of the Adam optimizer. Default is 0.1.
func (v *CNNLayerVisualization) LearningRate(lr float64) *CNNLayerVisualization {
	v.learningRate = lr
	return v
}

// WeightDecay of the Adam optimizer, added to the gradient as an L2 penalty. Default is 1e-6.
func (v *CNNLayerVisualization) WeightDecay(wd float64) *CNNLayerVisualization {
	v.weightDecay = wd
	return v
}

// ImageSize sets the height and width of the synthesized image. Default is 224.
func (v *CNNLayerVisualization) ImageSize(size int) *CNNLayerVisualization {
	v.imageSize = size
	return v
}

// Extension of the saved image, which defines its format. Default is ".jpg".
func (v *CNNLayerVisualization) Extension(ext string) *CNNLayerVisualization {
	v.extension = ext
	return v
}

// Seed sets the seed of the random image the optimization starts from. By default, a random
// seed is used for each visualization.
func (v *CNNLayerVisualization) Seed(seed uint64) *CNNLayerVisualization {
	v.seed = seed
	v.seeded = true
	return v
}

// HookPath sets the dotted path (see model.Module.Lookup) of the sub-module the hook is attached
// to by VisualizeWithHooks. It defaults to the selected layer index.
func (v *CNNLayerVisualization) HookPath(path string) *CNNLayerVisualization {
	v.hookPath = path
	return v
}

// OnStep sets a function called after every optimization step.
func (v *CNNLayerVisualization) OnStep(fn StepFn) *CNNLayerVisualization {
	v.onStep = fn
	return v
}

// Model being visualized.
func (v *CNNLayerVisualization) Model() *model.Module { return v.model }

// SelectedLayer returns the index of the top-level child visualized.
func (v *CNNLayerVisualization) SelectedLayer() int { return v.selectedLayer }

// SelectedFilter returns the index of the filter (channel) visualized.
func (v *CNNLayerVisualization) SelectedFilter() int { return v.selectedFilter }

// OutputPath where the image is saved: outputDir/selectedLayer/selectedFilter<extension>.
func (v *CNNLayerVisualization) OutputPath() string {
	return filepath.Join(v.outputDir, strconv.Itoa(v.selectedLayer), strconv.Itoa(v.selectedFilter)+v.extension)
}

// LastImage returns the image created by the last iteration of the last visualization, or nil.
func (v *CNNLayerVisualization) LastImage() *image.NRGBA { return v.lastImage }

// VisualizeWithHooks runs the visualization capturing the activation with a forward hook
// registered on the sub-module at HookPath. The hook is removed when it returns.
//
// Without a HookPath the hook goes on the child at the selected layer index, so a layer index
// past the number of children fails eagerly, before any iteration, with model.ErrModuleNotFound
// from Lookup.
func (v *CNNLayerVisualization) VisualizeWithHooks() error {
	return v.Visualize(HookExtractor{})
}

// VisualizeWithoutHooks runs the visualization taking the activation directly from the output of
// the selected layer.
func (v *CNNLayerVisualization) VisualizeWithoutHooks() error {
	return v.Visualize(DirectExtractor{})
}

// Visualize runs the optimization, extracting the activation with the given strategy, and saves
// the final image to OutputPath.
//
// Each iteration zeroes the gradient of the image, runs the model up to the selected layer
// (children after it are not run), takes the activation of the selected filter, and
// back-propagates the negated mean activation into the image only, before an Adam step.
func (v *CNNLayerVisualization) Visualize(extractor ActivationExtractor) error {
	if v.iterations < 1 {
		return errors.Errorf("visualization requires at least 1 iteration, got %d", v.iterations)
	}
	extract, release, err := extractor.Begin(v)
	if err != nil {
		return errors.WithMessagef(err, "visualizing layer %d, filter %d", v.selectedLayer, v.selectedFilter)
	}
	defer release()

	seed := v.seed
	if !v.seeded {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	err = exceptions.TryCatch[error](func() {
		x := images.Preprocess(rng, images.RandomImage(rng, v.imageSize, v.imageSize), false)
		opt := optimizers.Adam().LearningRate(v.learningRate).WeightDecay(v.weightDecay).Done(x)
		for iteration := 1; iteration <= v.iterations; iteration++ {
			opt.ZeroGrad()
			output := v.model.ForwardUntil(x, v.selectedLayer)
			activation, err := extract(output)
			if err != nil {
				panic(errors.WithMessagef(err, "iteration %d", iteration))
			}
			loss := graph.Neg(graph.ReduceAllMean(activation))
			graph.Backward(loss, x)
			opt.Step()
			v.lastImage = images.Recreate(x)
			lossValue := loss.Value().ToScalar()
			if klog.V(2).Enabled() {
				klog.Infof("layer %d, filter %d: iteration %d, loss %.4f", v.selectedLayer, v.selectedFilter, iteration, lossValue)
			}
			if v.onStep != nil {
				v.onStep(iteration, lossValue, activation.Value())
			}
		}
	})
	if err != nil {
		return errors.WithMessagef(err, "visualizing layer %d, filter %d", v.selectedLayer, v.selectedFilter)
	}
	return images.Save(v.lastImage, v.OutputPath())
}
