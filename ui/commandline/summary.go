// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"strconv"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/shapes"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/model"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/ml/train"
	"github.com/dustin/go-humanize"
)

// SprintModelSummary returns a table with the top-level children of the model: their position
// (the layer index used by the visualizers), name, description, output shape for the given input
// shape and number of parameters.
func SprintModelSummary(m *model.Module, input shapes.Shape) string {
	table := newTable().Headers("#", "Name", "Layer", "Output Shape", "Parameters")
	shape := input
	for ii, child := range m.Children() {
		shape = child.OutputShape(shape)
		description := child.String()
		if child.Layer() == nil {
			description = fmt.Sprintf("Sequential(%d children)", child.NumChildren())
		}
		table.Row(strconv.Itoa(ii), child.Name(), description, shape.String(), humanize.Comma(int64(child.NumParameters())))
	}
	table.Row("", "Total", "", "", humanize.Comma(int64(m.NumParameters())))
	return table.String()
}

// SprintHistory returns a table with the last recorded value of each metric of the history.
func SprintHistory(h *train.History) string {
	table := newTable().Headers("Metric", "Last Value")
	epochs := h.Epochs()
	if len(epochs) > 0 {
		table.Row(train.EpochColumn, strconv.Itoa(epochs[len(epochs)-1]))
	}
	for _, name := range h.Names() {
		table.Row(name, fmt.Sprintf("%.4g", h.Last(name)))
	}
	return table.String()
}
