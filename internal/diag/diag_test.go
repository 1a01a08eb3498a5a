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

package diag

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spiceai/ade/internal/ident"
	"github.com/spiceai/ade/internal/registry"
	"github.com/spiceai/ade/internal/stopper"
	"github.com/spiceai/ade/internal/store"
	"github.com/spiceai/ade/internal/types"
)

var testSchema = types.Schema{
	{Name: ident.New("id"), Type: types.ColumnInt64},
}

type sliceBatch struct {
	batch types.Batch
	done  bool
}

func (s *sliceBatch) Next(context.Context) (types.Batch, error) {
	if s.done {
		return types.Batch{}, io.EOF
	}
	s.done = true
	return s.batch, nil
}

type fakeSource struct{ rows []types.Row }

func (f *fakeSource) Scan(context.Context, types.ScanOptions) (types.BatchSource, error) {
	return &sliceBatch{batch: types.Batch{Schema: testSchema, Rows: f.rows}}, nil
}
func (f *fakeSource) SupportsFederatedSQL() bool { return false }
func (f *fakeSource) Query(context.Context, string, ...any) (types.BatchSource, error) {
	return nil, io.EOF
}
func (f *fakeSource) ProjectedSchema(context.Context) (types.Schema, error) {
	return testSchema, nil
}

func TestSnapshotReflectsRegisteredDataset(t *testing.T) {
	r := registry.New()
	parent := stopper.WithContext(context.Background())
	defer parent.Stop(time.Second)

	ds := &types.Dataset{
		Name:   ident.ParseTable("orders"),
		Source: "fake:orders",
		Schema: testSchema,
		Refresh: types.RefreshPolicy{
			Mode:          types.RefreshFull,
			Full:          &types.FullOptions{},
			CheckInterval: time.Hour,
		},
		ReadyState: types.ReadyOnLoad,
	}

	_, err := r.Register(parent, ds, &fakeSource{rows: []types.Row{{int64(1)}}},
		store.Options{Schema: testSchema, Variant: store.VariantMemory})
	require.NoError(t, err)

	d := New(r)
	require.Eventually(t, func() bool {
		rows := d.Snapshot()
		return len(rows) == 1 && rows[0].Status == "ready"
	}, time.Second, 5*time.Millisecond)

	rows := d.Snapshot()
	require.Equal(t, "orders", rows[0].Dataset)
	require.Equal(t, "full", rows[0].Kind)
	require.Equal(t, "memory", rows[0].Mode)
	require.Empty(t, rows[0].LastError)
	require.False(t, rows[0].LastRefresh.IsZero())
}

func TestRowStatusInitializingBeforeFirstCommit(t *testing.T) {
	require.Equal(t, "initializing", rowStatus(0, 0, nil))
}
