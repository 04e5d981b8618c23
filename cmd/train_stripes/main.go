// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// train_stripes trains one of the sample models to tell horizontal from vertical stripes, and
// tracks the run on a torchboard server, if one is given with -server.
//
// Every few epochs it uploads the weights for the server to render the convolution filters,
// renders them locally as well, and downloads the graphs and visualizations zip files.
//
// Example:
//
//	train_stripes -server=http://localhost:5000 -user=kaustubh -project="stripes cnn" -set="epochs=9"
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/graph"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/datasets"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/model"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/models"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/train"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/train/losses"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/train/metrics"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/train/optimizers"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/train/optimizers/cosineschedule"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/visualizers"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/support/fsutil"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/support/params"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/torchboard"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/ui/commandline"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/ui/plots"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagServer  = flag.String("server", "", "Base URL of the torchboard server, e.g. http://localhost:5000. If empty the run is not tracked.")
	flagUser    = flag.String("user", "kaustubh", "User name registered with the torchboard server.")
	flagProject = flag.String("project", "stripes cnn", "Project name, a unique hash is appended to it for each run.")
	flagModel   = flag.String("model", "SmallCNN", fmt.Sprintf("Sample model to train, one of %q.", models.Names))
	flagOutput  = flag.String("output", "~/work/torchboard/stripes", "Directory where weights, history, plots and visualizations are saved.")
	flagZips    = flag.String("zips", "downloaded_zips", "Directory where the zip files downloaded from the server are saved.")
	flagSeed    = flag.Uint64("seed", 0, "Seed for the dataset and the model initialization. If 0 a random seed is used.")
	flagCache   = flag.Bool("cache_data", true, "Save the generated examples under <output>/data, and reuse them in later runs.")
)

const (
	paramEpochs             = "epochs"
	paramBatchSize          = "batch_size"
	paramNumExamples        = "num_examples"
	paramNumTestExamples    = "num_test_examples"
	paramImageSize          = "image_size"
	paramValidationFraction = "validation_fraction"
	paramVisualizeEvery     = "visualize_every"
	paramVisIterations      = "vis_iterations"
	paramBatchesPerEpoch    = "train_batches_per_epoch"
	paramPrefetch           = "prefetch_parallelism"
)

func createDefaultParams() *params.Params {
	return params.New(
		paramEpochs, 6,
		paramBatchSize, 4,
		paramNumExamples, 200,
		paramNumTestExamples, 50,
		paramImageSize, 32,
		paramValidationFraction, 0.2,
		paramVisualizeEvery, 3,
		paramVisIterations, 10,
		paramBatchesPerEpoch, 0,
		paramPrefetch, 0,
		optimizers.ParamOptimizer, "sgd",
		optimizers.ParamLearningRate, 0.001,
		optimizers.ParamMomentum, 0.9,
		optimizers.ParamWeightDecay, 0.0,
		cosineschedule.ParamPeriodSteps, 0,
		cosineschedule.ParamWarmUpSteps, 0,
		cosineschedule.ParamMinLearningRate, 0.0,
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
	if err := run(context.Background(), hp); err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, hp *params.Params) error {
	seed := *flagSeed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	outputDir := must.M1(fsutil.ReplaceTildeInDir(*flagOutput))
	zipsDir := must.M1(fsutil.ReplaceTildeInDir(*flagZips))
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create output directory %q", outputDir)
	}

	// Data.
	var cacheDir string
	if *flagCache {
		cacheDir = filepath.Join(outputDir, "data")
	}
	trainDS, validDS, testDS, err := createDatasets(hp, rng, cacheDir)
	if err != nil {
		return err
	}
	imageSize := params.MustGetParam[int](hp, paramImageSize)

	// Model and trainer.
	m, info, err := models.Build(*flagModel, models.Options{
		Height: imageSize, Width: imageSize, Classes: len(datasets.StripesClasses), Rand: rng})
	if err != nil {
		return err
	}
	opt, err := createOptimizer(hp, train.ParameterNodes(m))
	if err != nil {
		return err
	}
	trainer := train.NewTrainer(m, losses.SparseCategoricalCrossEntropyLogits, opt,
		createTrainMetrics(rng), []metrics.Interface{metrics.NewSparseCategoricalAccuracy("Accuracy", "acc")})
	loop := train.NewLoop(trainer)
	commandline.AttachProgressBar(loop)
	history := train.NewHistory()
	history.Attach(loop, 0, validDS, testDS)

	// Tracking.
	var session *torchboard.Session
	if *flagServer != "" {
		session, err = torchboard.Init(ctx, torchboard.Config{BaseURL: *flagServer}, *flagUser, *flagProject, info)
		if err != nil {
			return err
		}
		klog.Infof("torchboard project %q", session.ProjectID())
		loop.OnEpoch("torchboard", 1, func(_ *train.Loop, epoch int, _ []float64) error {
			return session.Log(ctx, epochMetrics(history, epoch))
		})
	}
	train.EveryNEpochs(loop, params.MustGetParam[int](hp, paramVisualizeEvery), "visualize", 2,
		func(_ *train.Loop, epoch int, _ []float64) error {
			return visualizeEpoch(ctx, hp, session, m, epoch, filepath.Join(outputDir, "visualizations"), zipsDir)
		})

	// Batches are prefetched in parallel.
	prefetched := datasets.Parallel(trainDS, params.MustGetParam[int](hp, paramPrefetch))
	defer prefetched.Done()
	if _, err = loop.RunEpochs(prefetched, params.MustGetParam[int](hp, paramEpochs)); err != nil {
		return errors.WithMessage(err, "training")
	}
	if err = commandline.ReportEval(trainer, validDS, testDS); err != nil {
		return err
	}
	fmt.Println(commandline.SprintHistory(history))

	// Results.
	if err = m.SaveNpz(filepath.Join(outputDir, "weights.npz")); err != nil {
		return err
	}
	if err = history.SaveCSV(filepath.Join(outputDir, "history.csv")); err != nil {
		return err
	}
	plotFiles, err := plots.SaveHistory(history, outputDir)
	if err != nil {
		return err
	}
	klog.V(1).Infof("plots saved: %v", plotFiles)
	fmt.Println("Finished Training")
	return nil
}

// createDatasets returns the train and validation splits of the generated stripes, and a test
// set. If cacheDir is set, generated examples are saved there and reused by later runs.
func createDatasets(hp *params.Params, rng *rand.Rand, cacheDir string) (trainDS, validDS, testDS *datasets.InMemoryDataset, err error) {
	imageSize := params.MustGetParam[int](hp, paramImageSize)
	stripes := func(prefix string, numExamples int) (*datasets.InMemoryDataset, error) {
		if cacheDir != "" {
			return datasets.StripesCached(rng, cacheDir, prefix, numExamples, imageSize)
		}
		return datasets.Stripes(rng, numExamples, imageSize)
	}
	all, err := stripes("train", params.MustGetParam[int](hp, paramNumExamples))
	if err != nil {
		return nil, nil, nil, err
	}
	trainDS, validDS, err = all.RandomSplit(1 - params.MustGetParam[float64](hp, paramValidationFraction))
	if err != nil {
		return nil, nil, nil, err
	}
	batchSize := params.MustGetParam[int](hp, paramBatchSize)
	trainDS.SetName("Train", "train").BatchSize(batchSize, false).Shuffle().
		TakeN(params.MustGetParam[int](hp, paramBatchesPerEpoch))
	validDS.SetName("Validation", "val").BatchSize(batchSize, false)
	testDS, err = stripes("test", params.MustGetParam[int](hp, paramNumTestExamples))
	if err != nil {
		return nil, nil, nil, err
	}
	testDS.SetName("Test", "test").BatchSize(batchSize, false)
	return trainDS, validDS, testDS, nil
}

// createTrainMetrics returns the metrics tracked during training, besides the mean loss.
func createTrainMetrics(rng *rand.Rand) []metrics.Interface {
	return []metrics.Interface{
		metrics.NewMovingAverageSparseCategoricalAccuracy("Moving Average Accuracy", "~acc", 0.01),
		metrics.NewMedianMetric("Median Loss", "~median", metrics.LossMetricType, metrics.LossFn, nil).WithRand(rng),
	}
}

// createOptimizer selected by the "optimizer" hyperparameter. SGD and Adam use a cosine annealing
// schedule of the learning rate if "cosine_schedule_steps" > 0.
func createOptimizer(hp *params.Params, parameters []*graph.Node) (optimizers.Interface, error) {
	schedule := cosineschedule.New(optimizers.SGDDefaultLearningRate).FromParams(hp).Done()
	switch name := params.MustGetParam[string](hp, optimizers.ParamOptimizer); name {
	case "sgd":
		return optimizers.SGD().FromParams(hp).Schedule(schedule).Done(parameters...), nil
	case "adam":
		return optimizers.Adam().FromParams(hp).Schedule(schedule).Done(parameters...), nil
	default:
		if schedule != nil {
			return nil, errors.Errorf("%s=%d is only supported with the \"sgd\" and \"adam\" optimizers",
				cosineschedule.ParamPeriodSteps, params.MustGetParam[int](hp, cosineschedule.ParamPeriodSteps))
		}
		return optimizers.ByName(name, hp, parameters...)
	}
}

// epochMetrics converts the values recorded in the history for the epoch to the metrics tracked
// by torchboard. Accuracies are logged as percentages, and values not recorded are left out.
func epochMetrics(history *train.History, epoch int) torchboard.Metrics {
	tracked := []struct {
		name, column string
		scale        float64
	}{
		{torchboard.TrainLoss, "train/Mean Loss", 1},
		{torchboard.TrainAcc, "train/Moving Average Accuracy", 100},
		{torchboard.ValLoss, "val/Mean Loss", 1},
		{torchboard.ValAcc, "val/Accuracy", 100},
		{torchboard.TestLoss, "test/Mean Loss", 1},
		{torchboard.TestAcc, "test/Accuracy", 100},
	}
	values := torchboard.Metrics{torchboard.Epoch: float64(epoch)}
	for _, t := range tracked {
		if v := history.Last(t.column); !math.IsNaN(v) {
			values[t.name] = t.scale * v
		}
	}
	return values
}

// visualizeEpoch renders the convolution filters locally and, if tracking, uploads the weights
// and downloads the zip files produced by the server.
func visualizeEpoch(ctx context.Context, hp *params.Params, session *torchboard.Session, m *model.Module,
	epoch int, visDir, zipsDir string) error {
	features := models.Features(m)
	jobs := visualizers.ConvJobs(features)
	progress := commandline.NewVisualizationProgress(len(jobs))
	err := visualizers.RunBatch(features, jobs, filepath.Join(visDir, fmt.Sprintf("epoch-%d", epoch)), visualizers.BatchOptions{
		Configure: func(v *visualizers.CNNLayerVisualization) {
			v.Iterations(params.MustGetParam[int](hp, paramVisIterations)).
				ImageSize(params.MustGetParam[int](hp, paramImageSize)).
				Seed(uint64(epoch))
		},
		OnJobDone: progress.OnJobDone,
	})
	fmt.Println(progress.Summary())
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}
	if err = session.VisualizeConvs(ctx, m, epoch); err != nil {
		return err
	}
	if err = session.DownloadGraphs(ctx, filepath.Join(zipsDir, fmt.Sprintf("graphs-%d.zip", epoch))); err != nil {
		return err
	}
	return session.DownloadVisualizations(ctx, filepath.Join(zipsDir, fmt.Sprintf("visualizations-%d.zip", epoch)))
}
