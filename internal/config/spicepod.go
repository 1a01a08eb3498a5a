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

// Package config decodes and validates the Spicepod v1 YAML
// configuration document described in spec §6. It follows the
// teacher's two-phase discipline (`source/server.Config`): a plain
// decode step that never fails on semantic grounds, followed by a
// Preflight() pass that rejects anything an engine could not safely
// run with.
package config

import (
	"gopkg.in/yaml.v3"

	log "github.com/sirupsen/logrus"

	"github.com/pkg/errors"
)

// Spicepod is the top-level configuration document (spec §6).
type Spicepod struct {
	Kind    string `yaml:"kind"`
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Datasets []Dataset `yaml:"datasets"`

	// Views, Catalogs, Embeddings, Models, Tools, Evals, and Secrets
	// are external-collaborator surfaces per spec §1; this engine
	// only needs to round-trip them, not interpret them.
	Views      []map[string]any `yaml:"views,omitempty"`
	Catalogs   []map[string]any `yaml:"catalogs,omitempty"`
	Embeddings []map[string]any `yaml:"embeddings,omitempty"`
	Models     []map[string]any `yaml:"models,omitempty"`
	Tools      []map[string]any `yaml:"tools,omitempty"`
	Evals      []map[string]any `yaml:"evals,omitempty"`
	Secrets    []map[string]any `yaml:"secrets,omitempty"`

	Runtime *Runtime `yaml:"runtime,omitempty"`
}

// Runtime carries the process-wide services configuration (spec §6).
type Runtime struct {
	ResultsCache ResultsCache     `yaml:"results_cache"`
	TaskHistory  map[string]any  `yaml:"task_history,omitempty"`
	Telemetry    map[string]any  `yaml:"telemetry,omitempty"`
	Tracing      map[string]any  `yaml:"tracing,omitempty"`
	TLS          map[string]any  `yaml:"tls,omitempty"`
	CORS         map[string]any  `yaml:"cors,omitempty"`
	Auth         map[string]any  `yaml:"auth,omitempty"`
	Params       map[string]string `yaml:"params,omitempty"`
}

// ResultsCache configures the process-wide Results Cache (spec §4.5).
type ResultsCache struct {
	Enabled      bool   `yaml:"enabled"`
	Eviction     string `yaml:"eviction"` // "lru" (default)
	MaxSizeBytes int64  `yaml:"cache_max_size"`
	ItemTTL      string `yaml:"item_ttl"`
}

// Column describes one projected column (spec §6).
type Column struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Nullable bool   `yaml:"nullable,omitempty"`
}

// Acceleration configures a Dataset's Acceleration Store and Refresh
// Engine (spec §6).
type Acceleration struct {
	Enabled bool   `yaml:"enabled"`
	Engine  string `yaml:"engine,omitempty"`
	Mode    string `yaml:"mode,omitempty"` // memory|file

	RefreshMode          string `yaml:"refresh_mode,omitempty"`
	RefreshCheckInterval string `yaml:"refresh_check_interval,omitempty"`
	RefreshDataWindow    string `yaml:"refresh_data_window,omitempty"`
	RefreshSQL           string `yaml:"refresh_sql,omitempty"`
	RefreshAppendOverlap string `yaml:"refresh_append_overlap,omitempty"`

	RefreshJitterEnabled bool   `yaml:"refresh_jitter_enabled,omitempty"`
	RefreshJitterMax     string `yaml:"refresh_jitter_max,omitempty"`

	RefreshRetryEnabled     bool `yaml:"refresh_retry_enabled,omitempty"`
	RefreshRetryMaxAttempts int  `yaml:"refresh_retry_max_attempts,omitempty"`

	PrimaryKey []string          `yaml:"primary_key,omitempty"`
	Indexes    map[string]string `yaml:"indexes,omitempty"`    // col -> enabled|unique
	OnConflict map[string]string `yaml:"on_conflict,omitempty"` // col -> drop|upsert

	OnZeroResults string `yaml:"on_zero_results,omitempty"`

	RetentionPeriod        string `yaml:"retention_period,omitempty"`
	RetentionCheckInterval string `yaml:"retention_check_interval,omitempty"`

	// ReadyState is the nested form, preferred over Dataset.ReadyState
	// when both are set (open question 4).
	ReadyState string `yaml:"ready_state,omitempty"`

	Params map[string]string `yaml:"params,omitempty"`
}

// Dataset is one entry in the Spicepod document's `datasets` array
// (spec §6).
type Dataset struct {
	Name string `yaml:"name"`
	From string `yaml:"from"`
	Mode string `yaml:"mode,omitempty"` // read|read_write

	Acceleration *Acceleration `yaml:"acceleration,omitempty"`

	Columns             []Column `yaml:"columns,omitempty"`
	TimeColumn          string   `yaml:"time_column,omitempty"`
	TimeFormat          string   `yaml:"time_format,omitempty"`
	TimePartitionColumn string   `yaml:"time_partition_column,omitempty"`
	TimePartitionFormat string   `yaml:"time_partition_format,omitempty"`

	// ReadyState is the deprecated top-level form (open question 4).
	ReadyState string `yaml:"ready_state,omitempty"`

	Replication           map[string]any    `yaml:"replication,omitempty"`
	UnsupportedTypeAction string            `yaml:"unsupported_type_action,omitempty"`
	Params                map[string]string `yaml:"params,omitempty"`
	Metadata              map[string]string `yaml:"metadata,omitempty"`

	// DependsOn names other datasets this one must start after (spec
	// §9, "cyclic configuration graphs"). Not part of spec §6's listed
	// Dataset fields verbatim, but required to give the registry's
	// topological start order something to sort.
	DependsOn []string `yaml:"dependsOn,omitempty"`
}

// Decode parses a Spicepod YAML document. It performs no semantic
// validation; call Preflight afterward.
func Decode(raw []byte) (*Spicepod, error) {
	var pod Spicepod
	if err := yaml.Unmarshal(raw, &pod); err != nil {
		return nil, errors.Wrap(err, "decoding spicepod document")
	}
	return &pod, nil
}

// effectiveReadyState resolves open question 4: the nested
// (acceleration.ready_state) form wins over the deprecated top-level
// one; a deprecation warning is logged, not an error, when both are
// set to different values.
func (d *Dataset) effectiveReadyState() string {
	nested := ""
	if d.Acceleration != nil {
		nested = d.Acceleration.ReadyState
	}
	if nested != "" {
		if d.ReadyState != "" && d.ReadyState != nested {
			log.WithFields(log.Fields{
				"dataset": d.Name,
				"nested":  nested,
				"top":     d.ReadyState,
			}).Warn("dataset sets both the deprecated top-level ready_state and acceleration.ready_state; nested form wins")
		}
		return nested
	}
	return d.ReadyState
}
