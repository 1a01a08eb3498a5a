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

package refresh

import (
	"time"

	"github.com/pkg/errors"

	"github.com/spiceai/ade/internal/metrics"
	"github.com/spiceai/ade/internal/stopper"
	"github.com/spiceai/ade/internal/types"
	"github.com/spiceai/ade/internal/watermark"
)

func lookbackFloor(window time.Duration) time.Time {
	return time.Now().Add(-window)
}

// runAppend pulls only rows newer than the dataset's watermark, minus
// its configured re-read overlap, and merges them into the
// Acceleration Store (spec §4.2, RefreshAppend). The watermark only
// ever moves forward (spec §3 invariants); a source clock that runs
// backward cannot regress it.
func (e *Engine) runAppend(ctx *stopper.Context) (types.Commit, error) {
	opts := e.dataset.Refresh.Append
	if opts == nil {
		return types.Commit{}, errors.Errorf("dataset %s is configured for append refresh without append options", e.dataset.Name.Raw())
	}

	current, _ := e.watermark.Get()
	lower := current.Sub(opts.Overlap)

	scanOpts := types.ScanOptions{}
	if !current.IsZero() {
		// Scenario S6: when a physical partition column is configured it
		// is coarser than the logical time column and enables partition
		// pruning, but the logical column still enforces precision, so
		// both filters are applied together rather than either alone.
		if lower.HasPhysical {
			scanOpts.Filter = append(scanOpts.Filter, types.Predicate{
				Column: e.dataset.TimePartitionColumn,
				Op:     types.OpGreaterOrEqual,
				Value:  lower.Physical,
			})
		}
		// An overlap window intentionally re-requests rows at or after
		// lower so recently-seen rows can be re-resolved by the PK
		// conflict policy (spec §3); without one, the logical bound is
		// strict so the watermark row itself is not re-fetched forever.
		logicalOp := types.OpGreater
		if opts.Overlap > 0 {
			logicalOp = types.OpGreaterOrEqual
		}
		scanOpts.Filter = append(scanOpts.Filter, types.Predicate{
			Column: opts.TimeColumn,
			Op:     logicalOp,
			Value:  lower.Logical,
		})
	} else if opts.LookbackWindow > 0 {
		scanOpts.Filter = []types.Predicate{{
			Column: opts.TimeColumn,
			Op:     types.OpGreaterOrEqual,
			Value:  lookbackFloor(opts.LookbackWindow),
		}}
	}

	stream, err := e.source.Scan(ctx, scanOpts)
	if err != nil {
		return types.Commit{}, types.NewError(types.KindSourceUnavailable, e.datasetTable(), err)
	}

	started := time.Now()
	var commit types.Commit
	if e.dataset.HasPrimaryKey() {
		commit, err = e.store.UpsertStream(ctx, stream, e.dataset.PrimaryKey, e.dataset.ConflictAction())
	} else {
		commit, err = e.store.AppendStream(ctx, stream)
	}
	metrics.StoreCommitDuration.WithLabelValues(e.dataset.Name.Raw()).Observe(time.Since(started).Seconds())
	if err != nil {
		return types.Commit{}, err
	}

	commit.Watermark = watermark.Max(current, e.snapshotWatermark(ctx))
	return commit, nil
}
