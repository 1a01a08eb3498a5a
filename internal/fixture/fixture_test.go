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

package fixture

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spiceai/ade/internal/ident"
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

func testConfig() Config {
	return Config{
		Dataset: &types.Dataset{
			Name:   ident.ParseTable("orders"),
			Source: "fake:orders",
			Schema: testSchema,
			Refresh: types.RefreshPolicy{
				Mode:          types.RefreshFull,
				Full:          &types.FullOptions{},
				CheckInterval: time.Hour,
			},
			ReadyState: types.ReadyOnLoad,
		},
		Source: &fakeSource{rows: []types.Row{{int64(1)}}},
		Store:  store.Options{Schema: testSchema, Variant: store.VariantMemory},
	}
}

func TestNewFixtureAssemblesAllComponents(t *testing.T) {
	f, cleanup, err := NewFixture(testConfig())
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, f.Registry)
	require.NotNil(t, f.Cache)
	require.NotNil(t, f.Diag)
	require.NotNil(t, f.API)
	require.NotNil(t, f.Handle)

	got, ok := f.Registry.Get("orders")
	require.True(t, ok)
	require.Same(t, f.Handle, got)
}

func TestNewFixtureRuntimeDatasetsReportsRegisteredDataset(t *testing.T) {
	f, cleanup, err := NewFixture(testConfig())
	require.NoError(t, err)
	defer cleanup()

	f.Handle.Engine.Trigger()
	require.Eventually(t, func() bool {
		rows := f.API.RuntimeDatasets()
		return len(rows) == 1 && rows[0].Status == "ready"
	}, time.Second, 5*time.Millisecond)
}

func TestNewFixtureCleanupTearsDownRegistry(t *testing.T) {
	f, cleanup, err := NewFixture(testConfig())
	require.NoError(t, err)

	cleanup()
	require.Empty(t, f.Registry.Datasets())
}
