// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"io"
	"slices"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/core/tensors/numpy"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// StateDict returns a copy of the values of all parameters, keyed by their dotted names.
func (m *Module) StateDict() map[string]*tensors.Tensor {
	state := make(map[string]*tensors.Tensor)
	for _, param := range m.Parameters() {
		state[param.Name] = param.Node.Value().Clone()
	}
	return state
}

// LoadStateDict copies the given values into the parameters with the same names.
//
// It fails if any parameter is missing from state, or has a different shape, in which case
// no parameter is changed. Extra entries in state are ignored with a warning.
func (m *Module) LoadStateDict(state map[string]*tensors.Tensor) error {
	params := m.Parameters()
	known := make(map[string]bool, len(params))
	for _, param := range params {
		known[param.Name] = true
		value, found := state[param.Name]
		if !found {
			return errors.Errorf("parameter %q missing from the state loaded into %q", param.Name, m.name)
		}
		if !value.Shape().Equal(param.Node.Shape()) {
			return errors.Errorf("parameter %q has shape %s, but the state loaded into %q has shape %s",
				param.Name, param.Node.Shape(), m.name, value.Shape())
		}
	}
	for _, param := range params {
		copy(param.Node.Value().Flat(), state[param.Name].Flat())
	}
	var extra []string
	for name := range state {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	if len(extra) > 0 {
		slices.Sort(extra)
		klog.Warningf("LoadStateDict(%q): ignoring unknown entries %v", m.name, extra)
	}
	return nil
}

// WriteNpz writes the parameters as a NumPy .npz archive, one '<f8' array per parameter, named
// by the parameters dotted names.
func (m *Module) WriteNpz(w io.Writer) error {
	return numpy.ToNpzWriter(m.StateDict(), w)
}

// SaveNpz saves the parameters to a NumPy .npz file, see WriteNpz.
func (m *Module) SaveNpz(filePath string) error {
	if err := numpy.ToNpzFile(m.StateDict(), filePath); err != nil {
		return errors.WithMessagef(err, "saving weights of %q", m.name)
	}
	return nil
}

// LoadNpz loads the parameters from a NumPy .npz file, see LoadStateDict.
func (m *Module) LoadNpz(filePath string) error {
	state, err := numpy.FromNpzFile(filePath)
	if err != nil {
		return errors.WithMessagef(err, "loading weights of %q", m.name)
	}
	return m.LoadStateDict(state)
}
