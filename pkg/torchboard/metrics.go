// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package torchboard

import (
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Names of the metrics supported by Session.Log.
const (
	Epoch     = "epoch"
	TrainLoss = "train-loss"
	TrainAcc  = "train-acc"
	ValLoss   = "val-loss"
	ValAcc    = "val-acc"
	TestLoss  = "test-loss"
	TestAcc   = "test-acc"
)

// SupportedMetrics in the order of the columns of the "training_metrics" table, after the
// username and project id.
var SupportedMetrics = []string{Epoch, TrainLoss, TrainAcc, ValLoss, ValAcc, TestLoss, TestAcc}

// Metrics to log, keyed by one of SupportedMetrics.
type Metrics map[string]float64

// String returns the metrics sorted by name, e.g. "{epoch: 1, train-loss: 0.25}".
func (m Metrics) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	for ii, name := range slices.Sorted(maps.Keys(m)) {
		if ii > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s: %g", name, m[name])
	}
	sb.WriteString("}")
	return sb.String()
}

// Row returns the "training_metrics" row for the metrics: username, project id, followed by one
// value per SupportedMetrics, nil for the absent ones. NaN values are also sent as nil.
func (s *Session) Row(metrics Metrics) []any {
	row := []any{s.username, s.projectID}
	for _, name := range SupportedMetrics {
		if value, found := metrics[name]; found && !math.IsNaN(value) {
			row = append(row, value)
		} else {
			row = append(row, nil)
		}
	}
	return row
}

// Log adds one row with the metrics to the "training_metrics" table. Absent metrics are sent
// as null, and names not in SupportedMetrics are ignored with a warning.
func (s *Session) Log(ctx context.Context, metrics Metrics) error {
	for name := range metrics {
		if !slices.Contains(SupportedMetrics, name) {
			klog.Warningf("torchboard.Log: metric %q not supported and ignored, supported metrics are %q", name, SupportedMetrics)
		}
	}
	s.printf("Logging %s\n", metrics)
	if err := s.insertRows(ctx, "training_metrics", s.Row(metrics)); err != nil {
		return errors.WithMessage(err, "torchboard.Log")
	}
	return nil
}
