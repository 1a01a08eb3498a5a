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
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spiceai/ade/internal/ident"
	"github.com/spiceai/ade/internal/refresh/chaostest"
	"github.com/spiceai/ade/internal/stopper"
	"github.com/spiceai/ade/internal/store"
	"github.com/spiceai/ade/internal/types"
	"github.com/spiceai/ade/internal/watermark"
)

func testSchema() types.Schema {
	return types.Schema{
		{Name: ident.New("id"), Type: types.ColumnInt64},
		{Name: ident.New("value"), Type: types.ColumnString},
	}
}

type batchesSource struct {
	batches []types.Batch
	pos     int
	failErr error
}

func (s *batchesSource) Next(ctx context.Context) (types.Batch, error) {
	if s.failErr != nil {
		return types.Batch{}, s.failErr
	}
	if s.pos >= len(s.batches) {
		return types.Batch{}, io.EOF
	}
	b := s.batches[s.pos]
	s.pos++
	return b, nil
}

type fakeAdapter struct {
	schema  types.Schema
	scanErr error
	rows    []types.Row
}

func (a *fakeAdapter) Scan(ctx context.Context, opts types.ScanOptions) (types.BatchSource, error) {
	if a.scanErr != nil {
		return nil, a.scanErr
	}
	return &batchesSource{batches: []types.Batch{{Schema: a.schema, Rows: a.rows}}}, nil
}

func (a *fakeAdapter) SupportsFederatedSQL() bool { return false }

func (a *fakeAdapter) Query(ctx context.Context, sql string, args ...any) (types.BatchSource, error) {
	return &batchesSource{batches: []types.Batch{{Schema: a.schema, Rows: a.rows}}}, nil
}

func (a *fakeAdapter) ProjectedSchema(ctx context.Context) (types.Schema, error) {
	return a.schema, nil
}

func dataset(mode types.RefreshMode) *types.Dataset {
	return &types.Dataset{
		Name:   ident.NewTable("public", "events"),
		Schema: testSchema(),
		Refresh: types.RefreshPolicy{
			Mode:          mode,
			CheckInterval: 10 * time.Millisecond,
			Full:          &types.FullOptions{},
		},
	}
}

func TestRunFullReplacesStoreContents(t *testing.T) {
	ctx := context.Background()
	schema := testSchema()
	s := store.NewMemory(schema, nil, types.UnsupportedTypeError)
	adapter := &fakeAdapter{schema: schema, rows: []types.Row{{int64(1), "a"}}}

	eng := New(dataset(types.RefreshFull), adapter, s)
	stop := stopper.WithContext(ctx)
	commit, err := eng.runFull(stop)
	require.NoError(t, err)
	require.Equal(t, 1, commit.RowCount)

	out, err := s.Scan(ctx, types.ScanOptions{})
	require.NoError(t, err)
	batch, err := out.Next(ctx)
	require.NoError(t, err)
	require.Len(t, batch.Rows, 1)
}

func TestRunCycleAdvancesEpochOnSuccess(t *testing.T) {
	ctx := context.Background()
	schema := testSchema()
	s := store.NewMemory(schema, nil, types.UnsupportedTypeError)
	adapter := &fakeAdapter{schema: schema, rows: []types.Row{{int64(1), "a"}}}

	eng := New(dataset(types.RefreshFull), adapter, s)
	stop := stopper.WithContext(ctx)

	require.Equal(t, uint64(0), uint64(eng.Epoch()))
	require.NoError(t, eng.runCycle(stop))
	require.Equal(t, uint64(1), uint64(eng.Epoch()))
}

func TestTriggerCoalescesWhilePending(t *testing.T) {
	eng := New(dataset(types.RefreshFull), &fakeAdapter{schema: testSchema()}, store.NewMemory(testSchema(), nil, types.UnsupportedTypeError))

	eng.Trigger()
	eng.Trigger()
	eng.Trigger()

	require.Len(t, eng.trigger, 1)
}

func TestRunCycleWrapsSourceFailureAsStructuredError(t *testing.T) {
	ctx := context.Background()
	schema := testSchema()
	s := store.NewMemory(schema, nil, types.UnsupportedTypeError)
	adapter := &fakeAdapter{schema: schema, scanErr: io.ErrUnexpectedEOF}

	eng := New(dataset(types.RefreshFull), adapter, s)
	stop := stopper.WithContext(ctx)

	err := eng.runCycle(stop)
	require.Error(t, err)
	require.True(t, types.IsKind(err, types.KindSourceUnavailable))
}

// capturingAdapter records the ScanOptions passed to its last Scan
// call, letting a test inspect the filter predicates the Refresh
// Engine built without needing a real source to evaluate them.
type capturingAdapter struct {
	schema  types.Schema
	rows    []types.Row
	lastOpt types.ScanOptions
}

func (a *capturingAdapter) Scan(ctx context.Context, opts types.ScanOptions) (types.BatchSource, error) {
	a.lastOpt = opts
	return &batchesSource{batches: []types.Batch{{Schema: a.schema, Rows: a.rows}}}, nil
}

func (a *capturingAdapter) SupportsFederatedSQL() bool { return false }

func (a *capturingAdapter) Query(ctx context.Context, sql string, args ...any) (types.BatchSource, error) {
	return &batchesSource{batches: []types.Batch{{Schema: a.schema, Rows: a.rows}}}, nil
}

func (a *capturingAdapter) ProjectedSchema(ctx context.Context) (types.Schema, error) {
	return a.schema, nil
}

// TestRunAppendFiltersOnBothPartitionAndTimeColumns exercises scenario
// S6: a watermark with both a physical (coarser, partition-pruning)
// and logical (precise) component must filter the source scan on both
// columns, not either alone.
func TestRunAppendFiltersOnBothPartitionAndTimeColumns(t *testing.T) {
	ctx := context.Background()
	schema := testSchema()
	s := store.NewMemory(schema, nil, types.UnsupportedTypeError)

	ds := dataset(types.RefreshAppend)
	ds.TimeColumn = ident.New("ts")
	ds.TimePartitionColumn = ident.New("date_col")
	ds.Refresh.Append = &types.AppendOptions{TimeColumn: ident.New("ts")}

	logical := time.Date(2024, 2, 4, 10, 0, 0, 0, time.UTC)
	physical := time.Date(2024, 2, 4, 0, 0, 0, 0, time.UTC)

	adapter := &capturingAdapter{schema: schema}
	eng := New(ds, adapter, s)
	eng.watermark.Update(func(prev watermark.Cursor) watermark.Cursor {
		return watermark.Cursor{Physical: physical, HasPhysical: true, Logical: logical}
	})

	stop := stopper.WithContext(ctx)
	_, err := eng.runAppend(stop)
	require.NoError(t, err)

	require.Len(t, adapter.lastOpt.Filter, 2)

	byColumn := map[string]types.Predicate{}
	for _, p := range adapter.lastOpt.Filter {
		byColumn[p.Column.Raw()] = p
	}

	partition, ok := byColumn["date_col"]
	require.True(t, ok, "expected a filter on the physical partition column")
	require.Equal(t, types.OpGreaterOrEqual, partition.Op)
	require.Equal(t, physical, partition.Value)

	precise, ok := byColumn["ts"]
	require.True(t, ok, "expected a filter on the logical time column")
	require.Equal(t, types.OpGreater, precise.Op)
	require.Equal(t, logical, precise.Value)
}

// TestRunCycleAppendZeroRowsDoesNotAdvanceEpoch covers the spec §4.2
// carve-out: a zero-row Append commit under a re-read overlap window
// is still a successful commit, but it must not bump the freshness
// epoch since nothing changed for the Results Cache to go stale over.
func TestRunCycleAppendZeroRowsDoesNotAdvanceEpoch(t *testing.T) {
	ctx := context.Background()
	schema := testSchema()
	s := store.NewMemory(schema, nil, types.UnsupportedTypeError)

	ds := dataset(types.RefreshAppend)
	ds.TimeColumn = ident.New("id")
	ds.Refresh.Append = &types.AppendOptions{TimeColumn: ident.New("id"), Overlap: time.Minute}

	adapter := &fakeAdapter{schema: schema} // no rows
	eng := New(ds, adapter, s)
	stop := stopper.WithContext(ctx)

	require.Equal(t, uint64(0), uint64(eng.Epoch()))
	require.NoError(t, eng.runCycle(stop))
	require.Equal(t, uint64(0), uint64(eng.Epoch()))

	committed, _ := eng.Committed()
	require.True(t, committed, "a zero-row commit still counts as a landed commit for readiness")
}

// waitForState polls eng's state, using the notify.Var wakeup channel
// rather than a busy loop, until it observes want or timeout elapses.
func waitForState(eng *Engine, want State, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		s, ch := eng.State()
		if s == want {
			return true
		}
		select {
		case <-ch:
		case <-deadline:
			return false
		}
	}
}

func waitForCommit(eng *Engine, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		committed, ch := eng.Committed()
		if committed {
			return true
		}
		select {
		case <-ch:
		case <-deadline:
			return false
		}
	}
}

// TestRunRecoversFromSourceFailureViaBackoff drives the Refresh
// Engine's Run loop against a chaos-wrapped Source Adapter that fails
// most of the time, confirming the engine cycles failure -> Backoff ->
// retry -> success rather than disabling itself on the first error
// (spec §4.2: "Exhaustion transitions to Backoff ... the dataset
// remains queryable from its last good snapshot").
func TestRunRecoversFromSourceFailureViaBackoff(t *testing.T) {
	ctx := context.Background()
	schema := testSchema()
	s := store.NewMemory(schema, nil, types.UnsupportedTypeError)

	ds := dataset(types.RefreshFull)
	ds.Refresh.CheckInterval = 2 * time.Millisecond
	ds.Refresh.Retry = types.RetryPolicy{Enabled: true, MaxAttempts: 3}

	adapter := &fakeAdapter{schema: schema, rows: []types.Row{{int64(1), "a"}}}
	flaky := chaostest.WithSourceChaos(adapter, 0.7)

	eng := New(ds, flaky, s)
	stop := stopper.WithContext(ctx)
	eng.Run(stop)
	defer stop.Stop(time.Second)

	require.True(t, waitForState(eng, Backoff, 5*time.Second),
		"expected the engine to enter Backoff after an injected source failure")
	require.True(t, waitForCommit(eng, 5*time.Second),
		"expected the engine to eventually commit once the chaos source stops failing")

	out, err := s.Scan(ctx, types.ScanOptions{})
	require.NoError(t, err)
	batch, err := out.Next(ctx)
	require.NoError(t, err)
	require.Len(t, batch.Rows, 1)
}

// TestRunRecoversFromStoreFailureViaBackoff is the same scenario as
// TestRunRecoversFromSourceFailureViaBackoff but with the chaos
// injected on the Acceleration Store's commit path instead of the
// Source Adapter's read path, exercising chaostest.WithStoreChaos.
func TestRunRecoversFromStoreFailureViaBackoff(t *testing.T) {
	ctx := context.Background()
	schema := testSchema()
	s := store.NewMemory(schema, nil, types.UnsupportedTypeError)
	flaky := chaostest.WithStoreChaos(s, 0.7)

	ds := dataset(types.RefreshFull)
	ds.Refresh.CheckInterval = 2 * time.Millisecond
	ds.Refresh.Retry = types.RetryPolicy{Enabled: true, MaxAttempts: 3}

	adapter := &fakeAdapter{schema: schema, rows: []types.Row{{int64(1), "a"}}}

	eng := New(ds, adapter, flaky)
	stop := stopper.WithContext(ctx)
	eng.Run(stop)
	defer stop.Stop(time.Second)

	require.True(t, waitForState(eng, Backoff, 5*time.Second),
		"expected the engine to enter Backoff after an injected store failure")
	require.True(t, waitForCommit(eng, 5*time.Second),
		"expected the engine to eventually commit once the chaos store stops failing")

	out, err := s.Scan(ctx, types.ScanOptions{})
	require.NoError(t, err)
	batch, err := out.Next(ctx)
	require.NoError(t, err)
	require.Len(t, batch.Rows, 1)
}

func TestAppendUsesUpsertWhenPrimaryKeyConfigured(t *testing.T) {
	ctx := context.Background()
	schema := testSchema()
	s := store.NewMemory(schema, []ident.Ident{ident.New("id")}, types.UnsupportedTypeError)

	ds := dataset(types.RefreshAppend)
	ds.PrimaryKey = []ident.Ident{ident.New("id")}
	ds.OnConflict = map[string]types.OnConflictAction{"id": types.OnConflictUpsert}
	ds.Refresh.Append = &types.AppendOptions{TimeColumn: ident.New("id")}

	adapter := &fakeAdapter{schema: schema, rows: []types.Row{{int64(1), "first"}}}
	eng := New(ds, adapter, s)
	stop := stopper.WithContext(ctx)

	_, err := eng.runAppend(stop)
	require.NoError(t, err)

	adapter.rows = []types.Row{{int64(1), "second"}}
	_, err = eng.runAppend(stop)
	require.NoError(t, err)

	out, err := s.Scan(ctx, types.ScanOptions{})
	require.NoError(t, err)
	batch, err := out.Next(ctx)
	require.NoError(t, err)
	require.Len(t, batch.Rows, 1)
	require.Equal(t, "second", batch.Rows[0][1])
}
