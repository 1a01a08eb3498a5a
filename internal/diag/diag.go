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

// Package diag backs the `runtime.datasets` introspection relation
// described in spec §6: a point-in-time snapshot of every registered
// dataset's status, refresh kind, acceleration mode, and last refresh
// time. It is rebuilt from the teacher's `diag.Diagnostics` call sites
// (the package itself was filtered out of the retrieval) and
// re-purposed for this engine's per-dataset health rather than the
// teacher's process-wide pool/watcher health checks.
package diag

import (
	"sort"
	"time"

	"github.com/spiceai/ade/internal/readiness"
	"github.com/spiceai/ade/internal/refresh"
	"github.com/spiceai/ade/internal/registry"
)

// DatasetStatus is one row of the `runtime.datasets` relation.
type DatasetStatus struct {
	Dataset     string
	Status      string // initializing|ready|refreshing|error|disabled
	Kind        string // full|append|changes
	Mode        string // memory|file|sql
	LastRefresh time.Time
	LastError   string
}

// Diagnostics snapshots a Registry's datasets into DatasetStatus rows.
type Diagnostics struct {
	reg *registry.Registry
}

// New builds a Diagnostics backed by reg.
func New(reg *registry.Registry) *Diagnostics {
	return &Diagnostics{reg: reg}
}

// Snapshot returns one DatasetStatus per registered dataset, sorted by
// name for stable display.
func (d *Diagnostics) Snapshot() []DatasetStatus {
	handles := d.reg.Datasets()
	out := make([]DatasetStatus, 0, len(handles))
	for _, h := range handles {
		engineState, _ := h.Engine.State()
		readyState, _ := h.Gate.Current()

		status := DatasetStatus{
			Dataset:     h.Dataset.Name.Raw(),
			Status:      rowStatus(engineState, readyState, h.Engine.LastError()),
			Kind:        h.Dataset.Refresh.Mode.String(),
			Mode:        h.Variant.String(),
			LastRefresh: h.Engine.LastRefreshedAt(),
		}
		if err := h.Engine.LastError(); err != nil {
			status.LastError = err.Error()
		}
		out = append(out, status)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Dataset < out[j].Dataset })
	return out
}

// rowStatus maps the Refresh Engine and Readiness Gate's internal
// states onto spec §6's status vocabulary.
func rowStatus(engineState refresh.State, readyState readiness.State, lastErr error) string {
	if readyState == readiness.Registered || readyState == readiness.Loading {
		return "initializing"
	}
	switch engineState {
	case refresh.Disabled:
		if lastErr != nil {
			return "error"
		}
		return "disabled"
	case refresh.Scheduled, refresh.Running, refresh.Committing:
		return "refreshing"
	default:
		return "ready"
	}
}
