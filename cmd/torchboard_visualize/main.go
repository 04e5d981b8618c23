// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// torchboard_visualize synthesizes the images that maximize the activation of the convolution
// filters of one of the sample models, optionally loading trained weights from a .npz file.
//
// Examples:
//
//	torchboard_visualize -model=SmallCNN -layer=0 -filter=5 -output=generated
//	torchboard_visualize -model=TinyVGG -weights=tinyvgg.npz -hooks -set="iterations=50;image_size=128"
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/shapes"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors/images"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/layers"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/model"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/models"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/visualizers"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/support/fsutil"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/support/params"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagModel   = flag.String("model", "SmallCNN", fmt.Sprintf("Sample model to visualize, one of %q.", models.Names))
	flagClasses = flag.Int("classes", 10, "Number of classes of the model: it must match the weights, if given.")
	flagWeights = flag.String("weights", "", "Path to a .npz file with the model weights. If empty the model is randomly initialized.")
	flagLayer   = flag.Int("layer", -1, "Index of the convolutional stage to visualize (the top-level children of the model, or of "+
		"its \"features\" sub-module). If -1, all convolution layers are visualized.")
	flagFilter = flag.Int("filter", -1, "Filter (output channel) of the layer to visualize. If -1, all filters are visualized.")
	flagOutput = flag.String("output", "generated", "Directory where images are saved, as <output>/<layer>/<filter><extension>.")
	flagExt    = flag.String("ext", visualizers.DefaultExtension, "Extension of the images, it defines their format.")
	flagHooks  = flag.Bool("hooks", false, "Capture the activation with a forward hook, instead of slicing the layer output. "+
		"Visualizations with hooks run sequentially.")
	flagHookPath    = flag.String("hook_path", "", "Dotted path of the sub-module to hook, with -hooks. Defaults to the layer index.")
	flagParallelism = flag.Int("parallelism", 0, "Number of visualizations run in parallel without hooks. 0 uses the number of CPUs.")
	flagSeed        = flag.Uint64("seed", 0, "Seed for the model initialization and the random images. If 0 a random seed is used.")
	flagSummary     = flag.Bool("summary", true, "Print a summary of the model before visualizing.")
)

func createDefaultParams() *params.Params {
	return params.New(
		visualizers.ParamIterations, visualizers.DefaultIterations,
		visualizers.ParamLearningRate, visualizers.DefaultLearningRate,
		visualizers.ParamWeightDecay, visualizers.DefaultWeightDecay,
		visualizers.ParamImageSize, images.DefaultSize,
	)
}

func main() {
	klog.InitFlags(nil)
	hp := createDefaultParams()
	settings := commandline.CreateSettingsFlag(hp, "")
	flag.Parse()
	paramsSet := must.M1(commandline.ParseSettings(hp, *settings))
	if len(paramsSet) > 0 {
		fmt.Printf("Settings:\n%s\n", commandline.SprintModifiedSettings(hp, paramsSet))
	}
	if err := run(hp); err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
}

func run(hp *params.Params) error {
	seed := *flagSeed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	m, _, err := models.Build(*flagModel, models.Options{Classes: *flagClasses, Rand: rng})
	if err != nil {
		return err
	}
	if *flagWeights != "" {
		weightsPath := must.M1(fsutil.ReplaceTildeInDir(*flagWeights))
		if err = m.LoadNpz(weightsPath); err != nil {
			return err
		}
		fmt.Printf("Loaded weights from %q\n", weightsPath)
	}
	features := models.Features(m)
	if *flagSummary {
		// Shapes for the input size the model was built for.
		fmt.Println(commandline.SprintModelSummary(features, shapes.Make(1, 3, images.DefaultSize, images.DefaultSize)))
	}

	jobs, err := selectJobs(features, *flagLayer, *flagFilter)
	if err != nil {
		return err
	}
	outputDir := must.M1(fsutil.ReplaceTildeInDir(*flagOutput))
	progress := commandline.NewVisualizationProgress(len(jobs))
	err = visualizers.RunBatch(features, jobs, outputDir, visualizers.BatchOptions{
		UseHooks:    *flagHooks,
		Parallelism: *flagParallelism,
		Configure: func(v *visualizers.CNNLayerVisualization) {
			v.FromParams(hp).Extension(*flagExt).HookPath(*flagHookPath).Seed(rng.Uint64())
		},
		OnJobDone: progress.OnJobDone,
	})
	fmt.Println(progress.Summary())
	if err != nil {
		return err
	}
	fmt.Printf("Images saved under %q\n", outputDir)
	return nil
}

// selectJobs returns the visualizations selected by the layer and filter flags.
func selectJobs(m *model.Module, layer, filter int) ([]visualizers.Job, error) {
	if layer < 0 {
		if filter >= 0 {
			return nil, errors.Errorf("-filter=%d requires -layer to be set", filter)
		}
		return visualizers.ConvJobs(m), nil
	}
	if filter >= 0 {
		return []visualizers.Job{{Layer: layer, Filter: filter}}, nil
	}
	if layer >= m.NumChildren() {
		return nil, errors.Errorf("-layer=%d out of range, the model has %d top-level children", layer, m.NumChildren())
	}
	conv, ok := m.Children()[layer].Layer().(*layers.Conv2D)
	if !ok {
		return nil, errors.Errorf("-layer=%d is not a convolution, set -filter to visualize it", layer)
	}
	jobs := make([]visualizers.Job, conv.OutputChannels())
	for ii := range jobs {
		jobs[ii] = visualizers.Job{Layer: layer, Filter: ii}
	}
	return jobs, nil
}
