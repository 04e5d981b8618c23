// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package params holds a flat store of hyperparameters, keyed by name.
//
// Default values are registered up front (e.g. "iterations"=30, "learning_rate"=0.1), which also
// fixes the type used when parsing values given by the user, see commandline.ParseSettings.
// Values are then read with GetParamOr or MustGetParam.
package params

import (
	"maps"
	"reflect"
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
)

// Params is a set of named hyperparameters. It is safe for concurrent use.
type Params struct {
	mu     sync.RWMutex
	values map[string]any
}

// New creates a Params object with the given pairs of key (string) and value. E.g.:
//
//	hp := params.New("iterations", 30, "learning_rate", 0.1)
func New(keyValues ...any) *Params {
	if len(keyValues)%2 != 0 {
		exceptions.Panicf("params.New() requires pairs of key and value, got %d arguments", len(keyValues))
	}
	p := &Params{values: make(map[string]any, len(keyValues)/2)}
	for ii := 0; ii < len(keyValues); ii += 2 {
		key, ok := keyValues[ii].(string)
		if !ok {
			exceptions.Panicf("params.New(): argument #%d should be a string key, got %T", ii, keyValues[ii])
		}
		p.values[key] = keyValues[ii+1]
	}
	return p
}

// Set the value of the given key. It returns p, so calls can be chained.
func (p *Params) Set(key string, value any) *Params {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = value
	return p
}

// Get returns the value of the given key, and whether it was found.
func (p *Params) Get(key string) (value any, found bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	value, found = p.values[key]
	return
}

// Keys returns the sorted list of keys.
func (p *Params) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Sorted(maps.Keys(p.values))
}

// Enumerate calls fn for each parameter, in key order.
func (p *Params) Enumerate(fn func(key string, value any)) {
	for _, key := range p.Keys() {
		value, _ := p.Get(key)
		fn(key, value)
	}
}

// Clone returns a copy of the parameters. Values themselves are not copied.
func (p *Params) Clone() *Params {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return &Params{values: maps.Clone(p.values)}
}

// MustGetParam returns the value of the key converted to T.
//
// It panics if the key is not set, or if the value can't be converted to T. Numeric values are
// converted transparently, so an int value can be read as a float64.
func MustGetParam[T any](p *Params, key string) T {
	var t T
	valueAny, found := p.Get(key)
	if !found {
		exceptions.Panicf("parameter %q (of type %T) not set", key, t)
	}
	if value, ok := valueAny.(T); ok {
		return value
	}
	v := reflect.ValueOf(valueAny)
	typeOfT := reflect.TypeOf(t)
	if !v.IsValid() || !v.CanConvert(typeOfT) {
		exceptions.Panicf("MustGetParam[%T](%q): value is (%T) %#v, and it cannot be converted to %T",
			t, key, valueAny, valueAny, t)
	}
	return v.Convert(typeOfT).Interface().(T)
}

// GetParamOr returns the value of the key converted to T, or defaultValue if the key is not set
// or is set to nil. See MustGetParam for conversions.
func GetParamOr[T any](p *Params, key string, defaultValue T) T {
	if p == nil {
		return defaultValue
	}
	valueAny, found := p.Get(key)
	if !found || valueAny == nil {
		return defaultValue
	}
	return MustGetParam[T](p, key)
}
