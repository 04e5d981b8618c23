// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/support/fsutil"
	"github.com/Jayant-Duneja/Pytorch-Cnn-Feature-Visualizer/pkg/support/params"
	"github.com/pkg/errors"
)

// ParseSettings parses the settings given by the user, typically the contents of a flag
// created with CreateSettingsFlag. The settings are a list separated by ";", e.g.:
// "iterations=50;learning_rate=0.05".
//
// Every parameter must already be set in hp with its default value, which also defines the type
// the value is parsed to. An entry "file:<path>" reads settings from the file, one or more per
// line, skipping empty lines and lines starting with "#".
//
// For integer types, "_" is removed, so large numbers can be written as 1_000_000.
//
// It returns the names of the parameters set, in the order they were given.
func ParseSettings(hp *params.Params, settings string) (paramsSet []string, err error) {
	for _, setting := range strings.Split(settings, ";") {
		paramsSet, err = parseSetting(hp, strings.TrimSpace(setting), paramsSet)
		if err != nil {
			return
		}
	}
	return
}

func parseSetting(hp *params.Params, setting string, paramsSet []string) ([]string, error) {
	if setting == "" {
		return paramsSet, nil
	}
	if filePath, found := strings.CutPrefix(setting, "file:"); found {
		return parseSettingsFile(hp, filePath, paramsSet)
	}

	name, valueStr, found := strings.Cut(setting, "=")
	if !found || strings.Contains(valueStr, "=") {
		return paramsSet, errors.Errorf("can't parse setting %q: each setting requires the format \"<param>=<value>\"", setting)
	}
	name = strings.TrimSpace(name)
	defaultValue, found := hp.Get(name)
	if !found {
		return paramsSet, errors.Errorf("can't set parameter %q: unknown parameter, known parameters are %q", name, hp.Keys())
	}
	value, err := parseValue(defaultValue, valueStr)
	if err != nil {
		return paramsSet, errors.Wrapf(err, "failed to parse value %q for parameter %q (default value is %#v)", valueStr, name, defaultValue)
	}
	hp.Set(name, value)
	return append(paramsSet, name), nil
}

func parseSettingsFile(hp *params.Params, filePath string, paramsSet []string) ([]string, error) {
	filePath, err := fsutil.ReplaceTildeInDir(filePath)
	if err != nil {
		return paramsSet, err
	}
	contents, err := os.ReadFile(filePath)
	if err != nil {
		return paramsSet, errors.Wrapf(err, "failed to read settings from file %q", filePath)
	}
	for _, line := range strings.Split(string(contents), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		for _, setting := range strings.Split(line, ";") {
			paramsSet, err = parseSetting(hp, strings.TrimSpace(setting), paramsSet)
			if err != nil {
				return paramsSet, errors.WithMessagef(err, "in settings file %q", filePath)
			}
		}
	}
	return paramsSet, nil
}

// parseValue parses valueStr to the type of defaultValue.
func parseValue(defaultValue any, valueStr string) (any, error) {
	switch defaultValue.(type) {
	case int:
		return parseJSON[int](withoutUnderscores(valueStr))
	case int64:
		return parseJSON[int64](withoutUnderscores(valueStr))
	case uint64:
		return parseJSON[uint64](withoutUnderscores(valueStr))
	case float64:
		return parseJSON[float64](valueStr)
	case bool:
		return parseJSON[bool](valueStr)
	case string:
		return valueStr, nil
	case []string:
		return strings.Split(valueStr, ","), nil
	case []int:
		return parseList[int](withoutUnderscores(valueStr))
	case []float64:
		return parseList[float64](valueStr)
	default:
		return nil, errors.Errorf("don't know how to parse values of type %T", defaultValue)
	}
}

func withoutUnderscores(s string) string { return strings.ReplaceAll(s, "_", "") }

func parseJSON[T any](s string) (T, error) {
	var v T
	err := json.Unmarshal([]byte(strings.TrimSpace(s)), &v)
	return v, err
}

func parseList[T any](s string) ([]T, error) {
	parts := strings.Split(s, ",")
	values := make([]T, 0, len(parts))
	for _, part := range parts {
		v, err := parseJSON[T](part)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// CreateSettingsFlag creates a string flag with the given name ("set" if empty) and a usage
// message listing the parameters in hp and their default values.
//
// It should be called before flag.Parse(). Example:
//
//	func main() {
//		hp := params.New("iterations", 30, "learning_rate", 0.1)
//		settings := commandline.CreateSettingsFlag(hp, "")
//		flag.Parse()
//		paramsSet := must.M1(commandline.ParseSettings(hp, *settings))
//		fmt.Println(commandline.SprintModifiedSettings(hp, paramsSet))
//		...
//	}
func CreateSettingsFlag(hp *params.Params, flagName string) *string {
	if flagName == "" {
		flagName = "set"
	}
	parts := []string{
		`Set hyperparameters: a list of "param=value" separated by ";". ` +
			`An entry "file:<path>" reads the settings from a file, one or more per line, ` +
			`with lines starting with "#" ignored. Available parameters:`,
	}
	hp.Enumerate(func(key string, value any) {
		parts = append(parts, fmt.Sprintf("%q: default value is %v", key, value))
	})
	return flag.String(flagName, "", strings.Join(parts, "\n"))
}

// SprintSettings pretty-prints all the hyperparameters, one per line.
func SprintSettings(hp *params.Params) string {
	var parts []string
	hp.Enumerate(func(key string, value any) {
		parts = append(parts, fmt.Sprintf("\t%q: (%T) %v", key, value, value))
	})
	return strings.Join(parts, "\n")
}

// SprintModifiedSettings pretty-prints the hyperparameters in paramsSet, as returned by
// ParseSettings, one per line and without duplicates.
func SprintModifiedSettings(hp *params.Params, paramsSet []string) string {
	paramsSet = slices.Clone(paramsSet)
	slices.Sort(paramsSet)
	var parts []string
	for _, key := range slices.Compact(paramsSet) {
		value, found := hp.Get(key)
		if !found {
			continue
		}
		parts = append(parts, fmt.Sprintf("\t%q: (%T) %v", key, value, value))
	}
	return strings.Join(parts, "\n")
}
