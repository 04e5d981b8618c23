// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"io"
	"math"
	"os"
	"slices"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
)

// EpochColumn is the name of the column holding the epoch number in the History tables.
const EpochColumn = "epoch"

// History records the value of metrics at the end of each epoch.
//
// Columns are named "<source>/<metric name>", e.g. "train/Mean Loss" or "valid/Accuracy", and
// kept in the order they were first recorded. Values missing for an epoch are NaN.
type History struct {
	epochs  []int
	names   []string
	columns map[string][]float64
}

// NewHistory returns an empty History.
func NewHistory() *History {
	return &History{columns: make(map[string][]float64)}
}

// Record the values of the metrics of the given epoch. If the epoch was already recorded (it
// must be the last one), the values are added to it, otherwise a new row is created.
func (h *History) Record(epoch int, values map[string]float64) {
	if len(h.epochs) == 0 || h.epochs[len(h.epochs)-1] != epoch {
		h.epochs = append(h.epochs, epoch)
		for _, name := range h.names {
			h.columns[name] = append(h.columns[name], math.NaN())
		}
	}
	row := len(h.epochs) - 1
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		column, found := h.columns[name]
		if !found {
			h.names = append(h.names, name)
			column = make([]float64, len(h.epochs))
			for ii := range column {
				column[ii] = math.NaN()
			}
		}
		column[row] = values[name]
		h.columns[name] = column
	}
}

// Attach registers an OnEpoch hook on the loop that records the train metrics, and the eval
// metrics of each of the given datasets, at the end of each epoch.
//
// Eval datasets are named by their ShortName, if they implement HasShortName, otherwise by Name.
func (h *History) Attach(loop *Loop, priority Priority, evalDatasets ...Dataset) {
	loop.OnEpoch("History", priority, func(loop *Loop, epoch int, trainValues []float64) error {
		trainer := loop.Trainer
		values := make(map[string]float64)
		for ii, m := range trainer.TrainMetrics() {
			values["train/"+m.Name()] = trainValues[ii]
		}
		for _, ds := range evalDatasets {
			evalValues, err := trainer.Eval(ds)
			if err != nil {
				return err
			}
			prefix := ds.Name()
			if withShortName, ok := ds.(HasShortName); ok {
				prefix = withShortName.ShortName()
			}
			for ii, m := range trainer.EvalMetrics() {
				values[prefix+"/"+m.Name()] = evalValues[ii]
			}
		}
		h.Record(epoch, values)
		return nil
	})
}

// Epochs recorded so far.
func (h *History) Epochs() []int { return slices.Clone(h.epochs) }

// Names of the columns recorded, in the order they were first recorded.
func (h *History) Names() []string { return slices.Clone(h.names) }

// Column returns the values of the named column for each epoch, or nil if it doesn't exist.
func (h *History) Column(name string) []float64 { return slices.Clone(h.columns[name]) }

// Last returns the last value recorded for the column, or NaN if there is none.
func (h *History) Last(name string) float64 {
	column := h.columns[name]
	if len(column) == 0 {
		return math.NaN()
	}
	return column[len(column)-1]
}

// DataFrame returns the history as a table, with one row per epoch.
func (h *History) DataFrame() dataframe.DataFrame {
	cols := make([]series.Series, 0, len(h.names)+1)
	cols = append(cols, series.New(h.epochs, series.Int, EpochColumn))
	for _, name := range h.names {
		cols = append(cols, series.New(h.columns[name], series.Float, name))
	}
	return dataframe.New(cols...)
}

// WriteCSV writes the history as a CSV table with a header.
func (h *History) WriteCSV(w io.Writer) error {
	if err := h.DataFrame().WriteCSV(w); err != nil {
		return errors.Wrap(err, "failed to write history as CSV")
	}
	return nil
}

// SaveCSV writes the history to the given file.
func (h *History) SaveCSV(filePath string) (err error) {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create history file %q", filePath)
	}
	defer func() {
		cErr := f.Close()
		if err == nil && cErr != nil {
			err = errors.Wrapf(cErr, "failed to close history file %q", filePath)
		}
	}()
	return h.WriteCSV(f)
}

// ReadHistoryCSV reads back a history written by WriteCSV.
func ReadHistoryCSV(r io.Reader) (*History, error) {
	df := dataframe.ReadCSV(r)
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "failed to read history CSV")
	}
	names := df.Names()
	if !slices.Contains(names, EpochColumn) {
		return nil, errors.Errorf("history CSV has no %q column, got columns %q", EpochColumn, names)
	}
	epochs, err := df.Col(EpochColumn).Int()
	if err != nil {
		return nil, errors.Wrapf(err, "invalid %q column in history CSV", EpochColumn)
	}
	h := NewHistory()
	h.epochs = epochs
	for _, name := range names {
		if name == EpochColumn {
			continue
		}
		h.names = append(h.names, name)
		h.columns[name] = df.Col(name).Float()
	}
	return h, nil
}
