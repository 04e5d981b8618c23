// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package commandline contains command-line UI tools for training and visualization: progress
// bars, summary tables and the parsing of hyperparameter settings.
package commandline

import (
	"fmt"
	"io"
	"os"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/train"
)

// ReportEval prints the results of evaluating the datasets with trainer.Eval.
func ReportEval(trainer *train.Trainer, datasets ...train.Dataset) error {
	return reportEval(os.Stdout, trainer, datasets...)
}

func reportEval(out io.Writer, trainer *train.Trainer, datasets ...train.Dataset) error {
	for _, ds := range datasets {
		values, err := trainer.Eval(ds)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Results on %s:\n", ds.Name())
		for metricIdx, metric := range trainer.EvalMetrics() {
			value := values[metricIdx]
			_, _ = fmt.Fprintf(out, "\t%s (%s): %s\n", metric.Name(), metric.ShortName(), metric.PrettyPrint(value))
		}
	}
	return nil
}
