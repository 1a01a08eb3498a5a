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

// Package metrics declares the Prometheus instrumentation surface
// shared by the Refresh Engine, Acceleration Store, Results Cache, and
// Retention Sweeper, grounded on the teacher's `staging/stage/
// metrics.go` (per-table histogram+counter vectors registered via
// promauto at package init).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LatencyBuckets are the histogram buckets shared by every duration
// metric in this package, matching the teacher's own latency-bucket
// convention for changefeed-scale operations (sub-millisecond through
// tens of seconds).
var LatencyBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30,
}

// DatasetLabels is the label set applied to every per-dataset metric.
var DatasetLabels = []string{"dataset"}

var (
	// RefreshDuration measures one Refresh Engine cycle, success or
	// failure, per dataset.
	RefreshDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ade_refresh_cycle_duration_seconds",
		Help:    "the length of time a refresh cycle took to run",
		Buckets: LatencyBuckets,
	}, DatasetLabels)
	// RefreshTotal counts completed refresh cycles per dataset,
	// regardless of outcome.
	RefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ade_refresh_cycles_total",
		Help: "the number of refresh cycles attempted",
	}, DatasetLabels)
	// RefreshErrors counts refresh cycles that returned an error.
	RefreshErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ade_refresh_errors_total",
		Help: "the number of refresh cycles that failed",
	}, DatasetLabels)

	// StoreCommitDuration measures one Acceleration Store commit
	// (AppendStream/UpsertStream/ReplaceAll), per dataset.
	StoreCommitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ade_store_commit_duration_seconds",
		Help:    "the length of time a commit to the acceleration store took",
		Buckets: LatencyBuckets,
	}, DatasetLabels)
	// StoreCommitRows counts rows written per commit, per dataset.
	StoreCommitRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ade_store_commit_rows_total",
		Help: "the number of rows written to the acceleration store",
	}, DatasetLabels)

	// CacheLookups counts Results Cache lookups by outcome
	// ("hit"/"miss").
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ade_cache_lookups_total",
		Help: "the number of results cache lookups by outcome",
	}, []string{"outcome"})
	// CacheEvictions counts entries evicted from the Results Cache by
	// reason ("capacity"/"invalidate").
	CacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ade_cache_evictions_total",
		Help: "the number of results cache entries evicted by reason",
	}, []string{"reason"})

	// RetentionSweepDuration measures one Retention Sweeper pass, per
	// dataset.
	RetentionSweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ade_retention_sweep_duration_seconds",
		Help:    "the length of time a retention sweep took",
		Buckets: LatencyBuckets,
	}, DatasetLabels)
	// RetentionRowsDeleted counts rows removed by retention sweeps,
	// per dataset.
	RetentionRowsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ade_retention_rows_deleted_total",
		Help: "the number of rows removed by retention sweeps",
	}, DatasetLabels)
	// RetentionErrors counts retention sweeps that failed, per
	// dataset.
	RetentionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ade_retention_errors_total",
		Help: "the number of retention sweeps that failed",
	}, DatasetLabels)
)
