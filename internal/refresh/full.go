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
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/spiceai/ade/internal/metrics"
	"github.com/spiceai/ade/internal/stopper"
	"github.com/spiceai/ade/internal/types"
	"github.com/spiceai/ade/internal/watermark"
)

// runFull replaces the entire Acceleration Store contents with one
// pull from the Source Adapter (spec §4.2, RefreshFull). A Full
// refresh is atomic from the reader's perspective: ReplaceAll leaves
// any scan that started before the swap reading the prior snapshot.
func (e *Engine) runFull(ctx *stopper.Context) (types.Commit, error) {
	opts := e.dataset.Refresh.Full
	stream, err := e.openFullStream(ctx, opts)
	if err != nil {
		return types.Commit{}, types.NewError(types.KindSourceUnavailable, e.datasetTable(), err)
	}

	started := time.Now()
	commit, err := e.store.ReplaceAll(ctx, stream)
	metrics.StoreCommitDuration.WithLabelValues(e.dataset.Name.Raw()).Observe(time.Since(started).Seconds())
	if err != nil {
		return types.Commit{}, err
	}

	commit.Watermark = e.snapshotWatermark(ctx)
	return commit, nil
}

func (e *Engine) openFullStream(ctx *stopper.Context, opts *types.FullOptions) (types.BatchSource, error) {
	if opts != nil && opts.SQL != "" {
		if !e.source.SupportsFederatedSQL() {
			return nil, errors.Errorf("dataset %s configures a full.sql override but its source does not support federated SQL", e.dataset.Name.Raw())
		}
		return e.source.Query(ctx, opts.SQL)
	}
	return e.source.Scan(ctx, types.ScanOptions{})
}

// snapshotWatermark reads the store's current maximum value of the
// dataset's watermark column(s): the physical time_partition_column
// when configured, and the logical time_column, independently, per
// spec §3 and the dual-column pruning requirement of scenario S6. A
// dataset with no TimePartitionColumn carries only the logical value.
func (e *Engine) snapshotWatermark(ctx context.Context) watermark.Cursor {
	var cursor watermark.Cursor

	if !e.dataset.TimePartitionColumn.Empty() {
		if value, ok, err := e.store.SnapshotMax(ctx, e.dataset.TimePartitionColumn); err == nil && ok {
			if ts, ok := asTime(value); ok {
				cursor.Physical = ts
				cursor.HasPhysical = true
			}
		}
	}

	if !e.dataset.TimeColumn.Empty() {
		if value, ok, err := e.store.SnapshotMax(ctx, e.dataset.TimeColumn); err == nil && ok {
			if ts, ok := asTime(value); ok {
				cursor.Logical = ts
			}
		}
	}

	return cursor
}

func asTime(v any) (time.Time, bool) {
	t, ok := v.(time.Time)
	return t, ok
}
