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

package retention

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spiceai/ade/internal/epoch"
	"github.com/spiceai/ade/internal/ident"
	"github.com/spiceai/ade/internal/store"
	"github.com/spiceai/ade/internal/stopper"
	"github.com/spiceai/ade/internal/types"
)

type rowBatch struct {
	batch types.Batch
	done  bool
}

func (r *rowBatch) Next(ctx context.Context) (types.Batch, error) {
	if r.done {
		return types.Batch{}, io.EOF
	}
	r.done = true
	return r.batch, nil
}

func TestSweepOnceRemovesExpiredRowsAndBumpsEpoch(t *testing.T) {
	ctx := context.Background()
	schema := types.Schema{
		{Name: ident.New("id"), Type: types.ColumnInt64},
		{Name: ident.New("ts"), Type: types.ColumnTimestamp},
	}
	s := store.NewMemory(schema, nil, types.UnsupportedTypeError)

	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now()
	_, err := s.AppendStream(ctx, &rowBatch{batch: types.Batch{Schema: schema, Rows: []types.Row{
		{int64(1), old},
		{int64(2), fresh},
	}}})
	require.NoError(t, err)

	ds := &types.Dataset{
		Name: ident.NewTable("public", "events"),
		Retention: &types.RetentionPolicy{
			TimeColumn:    ident.New("ts"),
			Period:        24 * time.Hour,
			CheckInterval: time.Hour,
		},
	}
	counter := epoch.NewCounter()
	sweeper := New(ds, s, counter)

	stop := stopper.WithContext(ctx)
	require.NoError(t, sweeper.sweepOnce(stop))
	require.Equal(t, epoch.Epoch(1), counter.Current())

	out, err := s.Scan(ctx, types.ScanOptions{})
	require.NoError(t, err)
	batch, err := out.Next(ctx)
	require.NoError(t, err)
	require.Len(t, batch.Rows, 1)
	require.Equal(t, int64(2), batch.Rows[0][0])
}

func TestSweepOnceNoOpDoesNotBumpEpoch(t *testing.T) {
	ctx := context.Background()
	schema := types.Schema{
		{Name: ident.New("id"), Type: types.ColumnInt64},
		{Name: ident.New("ts"), Type: types.ColumnTimestamp},
	}
	s := store.NewMemory(schema, nil, types.UnsupportedTypeError)

	ds := &types.Dataset{
		Name: ident.NewTable("public", "events"),
		Retention: &types.RetentionPolicy{
			TimeColumn:    ident.New("ts"),
			Period:        24 * time.Hour,
			CheckInterval: time.Hour,
		},
	}
	counter := epoch.NewCounter()
	sweeper := New(ds, s, counter)

	stop := stopper.WithContext(ctx)
	require.NoError(t, sweeper.sweepOnce(stop))
	require.Equal(t, epoch.Epoch(0), counter.Current())
}
