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

package api

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spiceai/ade/internal/cache"
	"github.com/spiceai/ade/internal/diag"
	"github.com/spiceai/ade/internal/federation"
	"github.com/spiceai/ade/internal/ident"
	"github.com/spiceai/ade/internal/registry"
	"github.com/spiceai/ade/internal/stopper"
	"github.com/spiceai/ade/internal/store"
	"github.com/spiceai/ade/internal/types"
)

var testSchema = types.Schema{
	{Name: ident.New("id"), Type: types.ColumnInt64},
	{Name: ident.New("val"), Type: types.ColumnString},
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

func newTestDataset(name string) *types.Dataset {
	return &types.Dataset{
		Name:   ident.ParseTable(name),
		Source: "fake:" + name,
		Schema: testSchema,
		Refresh: types.RefreshPolicy{
			Mode:          types.RefreshFull,
			Full:          &types.FullOptions{},
			CheckInterval: time.Hour,
		},
		ReadyState: types.ReadyOnLoad,
	}
}

func fragmentScanAll() federation.Fragment {
	return federation.Fragment{
		Root:    federation.Node{Kind: federation.NodeProjection},
		Scan:    types.ScanOptions{},
		Sources: map[string]string{},
	}
}

func newHarness(t *testing.T) (*Server, *registry.Registry, func()) {
	t.Helper()
	r := registry.New()
	parent := stopper.WithContext(context.Background())

	ds := newTestDataset("orders")
	source := &fakeSource{rows: []types.Row{{int64(1), "a"}}}
	h, err := r.Register(parent, ds, source, store.Options{Schema: testSchema, Variant: store.VariantMemory})
	require.NoError(t, err)

	h.Engine.Trigger()
	require.Eventually(t, func() bool {
		return h.Gate.ServeFromStore()
	}, time.Second, 5*time.Millisecond)

	c := cache.New(cache.Options{Epochs: r.Epochs()})
	d := diag.New(r)
	s := New(r, c, d)

	return s, r, func() { parent.Stop(time.Second) }
}

func TestQueryUnknownDatasetFails(t *testing.T) {
	s, _, stop := newHarness(t)
	defer stop()

	_, err := s.Query(context.Background(), QueryRequest{Dataset: "missing", SQL: "select 1"})
	require.Error(t, err)
	require.True(t, types.IsKind(err, types.KindInvalidConfig))
}

func TestQueryMissesThenHitsCache(t *testing.T) {
	s, _, stop := newHarness(t)
	defer stop()

	req := QueryRequest{Dataset: "orders", SQL: "select * from orders", Fragment: fragmentScanAll()}

	first, err := s.Query(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, CacheMiss, first.Cache)
	require.Len(t, first.Batches, 1)

	second, err := s.Query(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, CacheHit, second.Cache)
	require.Equal(t, first.Batches, second.Batches)
}

func TestQuerySystemBypassesCache(t *testing.T) {
	s, _, stop := newHarness(t)
	defer stop()

	req := QueryRequest{Dataset: "orders", SQL: "select * from runtime.datasets", Fragment: fragmentScanAll(), System: true}

	resp, err := s.Query(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, CacheBypass, resp.Cache)

	require.Equal(t, 0, s.cache.Len())
}

func TestTriggerRefreshUnknownDatasetFails(t *testing.T) {
	s, _, stop := newHarness(t)
	defer stop()

	err := s.TriggerRefresh("missing")
	require.Error(t, err)
	require.True(t, types.IsKind(err, types.KindInvalidConfig))
}

func TestTriggerRefreshKnownDatasetSucceeds(t *testing.T) {
	s, _, stop := newHarness(t)
	defer stop()

	require.NoError(t, s.TriggerRefresh("orders"))
}

func TestRuntimeDatasetsReflectsRegistry(t *testing.T) {
	s, _, stop := newHarness(t)
	defer stop()

	rows := s.RuntimeDatasets()
	require.Len(t, rows, 1)
	require.Equal(t, "orders", rows[0].Dataset)
}

func TestInvalidateDatasetDropsCacheEntries(t *testing.T) {
	s, _, stop := newHarness(t)
	defer stop()

	req := QueryRequest{Dataset: "orders", SQL: "select * from orders", Fragment: fragmentScanAll()}
	_, err := s.Query(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, s.cache.Len())

	s.InvalidateDataset("orders")
	require.Equal(t, 0, s.cache.Len())
}
