// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"time"

	"github.com/pkg/errors"

	"github.com/spiceai/ade/internal/ident"
	"github.com/spiceai/ade/internal/types"
)

// Preflight validates the decoded document against the engine's
// invariants, matching the teacher's Config.Preflight two-phase
// discipline. It never mutates pod; callers needing the effective
// (deprecation-resolved) ready_state or parsed durations should go
// through ToDataset.
func (pod *Spicepod) Preflight() error {
	if pod.Kind != "Spicepod" {
		return types.NewError(types.KindInvalidConfig, ident.Table{}, errors.Errorf("unsupported kind %q, expected Spicepod", pod.Kind))
	}
	if pod.Version != "v1" {
		return types.NewError(types.KindInvalidConfig, ident.Table{}, errors.Errorf("unsupported version %q, expected v1", pod.Version))
	}
	if pod.Name == "" {
		return types.NewError(types.KindInvalidConfig, ident.Table{}, errors.New("name is required"))
	}

	seen := make(map[string]bool, len(pod.Datasets))
	for _, ds := range pod.Datasets {
		if ds.Name == "" {
			return types.NewError(types.KindInvalidConfig, ident.Table{}, errors.New("dataset name is required"))
		}
		if seen[ds.Name] {
			return types.NewError(types.KindInvalidConfig, ident.Table{}, errors.Errorf("duplicate dataset name %q", ds.Name))
		}
		seen[ds.Name] = true

		if err := ds.preflight(); err != nil {
			return err
		}
	}

	if _, err := topologicalOrder(pod.Datasets); err != nil {
		return err
	}

	return nil
}

// StartOrder returns the dataset names in an order that respects every
// declared dependsOn edge, for the registry to register datasets in
// dependency order (spec §9). pod must already have passed Preflight.
func (pod *Spicepod) StartOrder() ([]string, error) {
	return topologicalOrder(pod.Datasets)
}

func (d *Dataset) preflight() error {
	table := ident.ParseTable(d.Name)
	wrap := func(err error) error { return types.NewError(types.KindInvalidConfig, table, err) }

	if d.Mode != "" && d.Mode != "read" && d.Mode != "read_write" {
		return wrap(errors.Errorf("mode must be read or read_write, got %q", d.Mode))
	}

	acc := d.Acceleration
	if acc == nil || !acc.Enabled {
		return nil
	}

	if acc.Mode != "" && acc.Mode != "memory" && acc.Mode != "file" {
		return wrap(errors.Errorf("acceleration.mode must be memory or file, got %q", acc.Mode))
	}

	switch acc.RefreshMode {
	case "", "full", "append", "changes":
	default:
		return wrap(errors.Errorf("refresh_mode must be one of full, append, changes, got %q", acc.RefreshMode))
	}

	if _, err := parseDuration(acc.RefreshCheckInterval); err != nil {
		return wrap(errors.Wrap(err, "refresh_check_interval"))
	}
	if _, err := parseDuration(acc.RefreshDataWindow); err != nil {
		return wrap(errors.Wrap(err, "refresh_data_window"))
	}
	overlap, err := parseDuration(acc.RefreshAppendOverlap)
	if err != nil {
		return wrap(errors.Wrap(err, "refresh_append_overlap"))
	}
	if _, err := parseDuration(acc.RefreshJitterMax); err != nil {
		return wrap(errors.Wrap(err, "refresh_jitter_max"))
	}
	if _, err := parseDuration(acc.RetentionPeriod); err != nil {
		return wrap(errors.Wrap(err, "retention_period"))
	}
	if _, err := parseDuration(acc.RetentionCheckInterval); err != nil {
		return wrap(errors.Wrap(err, "retention_check_interval"))
	}

	// Open question 1: refresh_append_overlap without a primary key is
	// ambiguous (duplicate rows with no way to resolve them) and is
	// rejected outright, per spec.md's own resolution.
	if acc.RefreshMode == "append" && overlap > 0 && len(acc.PrimaryKey) == 0 {
		return wrap(errors.New("refresh_append_overlap requires a primary_key to resolve re-emitted rows"))
	}

	if acc.RefreshMode == "append" && d.TimeColumn == "" {
		return wrap(errors.New("refresh_mode append requires time_column"))
	}

	for col, action := range acc.OnConflict {
		if action != "drop" && action != "upsert" {
			return wrap(errors.Errorf("on_conflict[%s] must be drop or upsert, got %q", col, action))
		}
	}
	for col, action := range acc.Indexes {
		if action != "enabled" && action != "unique" {
			return wrap(errors.Errorf("indexes[%s] must be enabled or unique, got %q", col, action))
		}
	}

	if acc.OnZeroResults != "" && acc.OnZeroResults != "return_empty" && acc.OnZeroResults != "use_source" {
		return wrap(errors.Errorf("on_zero_results must be return_empty or use_source, got %q", acc.OnZeroResults))
	}

	switch d.effectiveReadyState() {
	case "", "on_load", "on_registration":
	default:
		return wrap(errors.Errorf("ready_state must be on_load or on_registration, got %q", d.effectiveReadyState()))
	}

	switch d.UnsupportedTypeAction {
	case "", "error", "warn", "ignore", "string":
	default:
		return wrap(errors.Errorf("unsupported_type_action must be one of error, warn, ignore, string, got %q", d.UnsupportedTypeAction))
	}

	return nil
}

// parseDuration accepts the humanized duration strings of spec §6
// ("1s", "15m", "8h"); an empty string means "unset" and parses to 0
// without error.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// topologicalOrder computes a start order over the dataset dependency
// DAG (spec §9, "Cyclic configuration graphs"), detecting cycles.
func topologicalOrder(datasets []Dataset) ([]string, error) {
	byName := make(map[string]Dataset, len(datasets))
	for _, ds := range datasets {
		byName[ds.Name] = ds
	}

	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(datasets))
	var order []string

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return types.NewError(types.KindInvalidConfig, ident.ParseTable(name),
				errors.Errorf("dependsOn cycle detected: %s -> %s", joinPath(path), name))
		}
		color[name] = gray
		for _, dep := range byName[name].DependsOn {
			if _, ok := byName[dep]; !ok {
				return types.NewError(types.KindInvalidConfig, ident.ParseTable(name),
					errors.Errorf("dependsOn references unknown dataset %q", dep))
			}
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		color[name] = black
		order = append(order, name)
		return nil
	}

	for _, ds := range datasets {
		if err := visit(ds.Name, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func joinPath(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += " -> "
		}
		out += p
	}
	return out
}
