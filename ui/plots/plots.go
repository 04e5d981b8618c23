// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package plots renders the metrics recorded during training (see train.History) as PNG images.
//
// Metrics are grouped by the name after the dataset prefix: "train/Mean Loss" and
// "valid/Mean Loss" are drawn as two lines of the "Mean Loss" plot.
package plots

import (
	"math"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/train"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"
)

// Default size of the saved plots.
var (
	Width  = 8 * vg.Inch
	Height = 5 * vg.Inch
)

// Group is a set of metrics drawn in the same plot.
type Group struct {
	// Title of the plot, the metric name without dataset prefix.
	Title string

	// Metrics are the full names of the metrics in the group, in the history order.
	Metrics []string
}

// Groups returns the metrics of the history grouped by the name after the dataset prefix, sorted
// by title.
func Groups(h *train.History) []Group {
	byTitle := make(map[string]*Group)
	for _, name := range h.Names() {
		title := name
		if idx := strings.Index(name, "/"); idx >= 0 {
			title = name[idx+1:]
		}
		group, found := byTitle[title]
		if !found {
			group = &Group{Title: title}
			byTitle[title] = group
		}
		group.Metrics = append(group.Metrics, name)
	}
	groups := make([]Group, 0, len(byTitle))
	for _, group := range byTitle {
		groups = append(groups, *group)
	}
	slices.SortFunc(groups, func(a, b Group) int { return strings.Compare(a.Title, b.Title) })
	return groups
}

// New creates the plot of the group: one line per metric, with the epoch in the X axis.
// Missing (NaN) values are skipped.
func New(h *train.History, group Group) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = group.Title
	p.X.Label.Text = train.EpochColumn
	p.Y.Label.Text = group.Title
	p.Legend.Top = true

	epochs := h.Epochs()
	var lines []any
	for _, name := range group.Metrics {
		var points plotter.XYs
		for ii, value := range h.Column(name) {
			if math.IsNaN(value) || math.IsInf(value, 0) {
				continue
			}
			points = append(points, plotter.XY{X: float64(epochs[ii]), Y: value})
		}
		if len(points) == 0 {
			continue
		}
		legend, _, _ := strings.Cut(name, "/")
		lines = append(lines, legend, points)
	}
	if len(lines) == 0 {
		return nil, errors.Errorf("no values recorded for the metrics %q", group.Metrics)
	}
	if err := plotutil.AddLinePoints(p, lines...); err != nil {
		return nil, errors.Wrapf(err, "failed to plot %q", group.Title)
	}
	return p, nil
}

// SaveHistory saves one PNG file per group of metrics into dir, named after the group title
// (e.g. "mean_loss.png"), and returns the paths of the saved files.
// Groups without any value are skipped.
func SaveHistory(h *train.History, dir string) ([]string, error) {
	var paths []string
	for _, group := range Groups(h) {
		p, err := New(h, group)
		if err != nil {
			klog.V(1).Infof("plots: skipping %q: %v", group.Title, err)
			continue
		}
		path := filepath.Join(dir, FileName(group.Title))
		if err = p.Save(Width, Height, path); err != nil {
			return paths, errors.Wrapf(err, "failed to save plot %q to %q", group.Title, path)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// FileName returns the PNG file name for a plot title: lower case, with non-alphanumeric
// characters replaced by "_".
func FileName(title string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r - 'A' + 'a'
		default:
			return '_'
		}
	}, title)
	return name + ".png"
}
