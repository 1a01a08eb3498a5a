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

package store

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spiceai/ade/internal/ident"
	"github.com/spiceai/ade/internal/types"
)

func schemaIDValue() types.Schema {
	return types.Schema{
		{Name: ident.New("id"), Type: types.ColumnInt64},
		{Name: ident.New("value"), Type: types.ColumnString},
	}
}

type staticSource struct {
	batches []types.Batch
	pos     int
}

func (s *staticSource) Next(ctx context.Context) (types.Batch, error) {
	if s.pos >= len(s.batches) {
		return types.Batch{}, io.EOF
	}
	b := s.batches[s.pos]
	s.pos++
	return b, nil
}

func oneBatch(schema types.Schema, rows ...types.Row) *staticSource {
	return &staticSource{batches: []types.Batch{{Schema: schema, Rows: rows}}}
}

func TestMemoryAppendAccumulates(t *testing.T) {
	ctx := context.Background()
	schema := schemaIDValue()
	s := NewMemory(schema, nil, types.UnsupportedTypeError)

	_, err := s.AppendStream(ctx, oneBatch(schema, types.Row{int64(1), "a"}))
	require.NoError(t, err)
	commit, err := s.AppendStream(ctx, oneBatch(schema, types.Row{int64(2), "b"}))
	require.NoError(t, err)
	require.Equal(t, 1, commit.RowCount)

	out, err := s.Scan(ctx, types.ScanOptions{})
	require.NoError(t, err)
	batch, err := out.Next(ctx)
	require.NoError(t, err)
	require.Len(t, batch.Rows, 2)
}

func TestMemoryUpsertResolvesByPrimaryKey(t *testing.T) {
	ctx := context.Background()
	schema := schemaIDValue()
	pk := []ident.Ident{ident.New("id")}
	s := NewMemory(schema, pk, types.UnsupportedTypeError)

	_, err := s.UpsertStream(ctx, oneBatch(schema, types.Row{int64(1), "first"}), pk, types.OnConflictUpsert)
	require.NoError(t, err)
	_, err = s.UpsertStream(ctx, oneBatch(schema, types.Row{int64(1), "second"}), pk, types.OnConflictUpsert)
	require.NoError(t, err)

	out, err := s.Scan(ctx, types.ScanOptions{})
	require.NoError(t, err)
	batch, err := out.Next(ctx)
	require.NoError(t, err)
	require.Len(t, batch.Rows, 1)
	require.Equal(t, "second", batch.Rows[0][1])
}

func TestMemoryReplaceAllSwapsSnapshot(t *testing.T) {
	ctx := context.Background()
	schema := schemaIDValue()
	s := NewMemory(schema, nil, types.UnsupportedTypeError)

	_, err := s.AppendStream(ctx, oneBatch(schema, types.Row{int64(1), "old"}))
	require.NoError(t, err)

	_, err = s.ReplaceAll(ctx, oneBatch(schema, types.Row{int64(2), "new"}))
	require.NoError(t, err)

	out, err := s.Scan(ctx, types.ScanOptions{})
	require.NoError(t, err)
	batch, err := out.Next(ctx)
	require.NoError(t, err)
	require.Len(t, batch.Rows, 1)
	require.Equal(t, int64(2), batch.Rows[0][0])
}

func TestMemoryScanIsolatedFromConcurrentReplace(t *testing.T) {
	ctx := context.Background()
	schema := schemaIDValue()
	s := NewMemory(schema, nil, types.UnsupportedTypeError)

	_, err := s.AppendStream(ctx, oneBatch(schema, types.Row{int64(1), "v1"}))
	require.NoError(t, err)

	scan, err := s.Scan(ctx, types.ScanOptions{})
	require.NoError(t, err)

	_, err = s.ReplaceAll(ctx, oneBatch(schema, types.Row{int64(2), "v2"}))
	require.NoError(t, err)

	batch, err := scan.Next(ctx)
	require.NoError(t, err)
	require.Len(t, batch.Rows, 1)
	require.Equal(t, int64(1), batch.Rows[0][0], "scan taken before the replace must not observe it")
}

func TestMemoryDeleteByPredicate(t *testing.T) {
	ctx := context.Background()
	schema := schemaIDValue()
	s := NewMemory(schema, nil, types.UnsupportedTypeError)

	_, err := s.AppendStream(ctx, oneBatch(schema,
		types.Row{int64(1), "a"},
		types.Row{int64(2), "b"},
		types.Row{int64(3), "c"},
	))
	require.NoError(t, err)

	removed, err := s.Delete(ctx, types.Predicate{Column: ident.New("id"), Op: types.OpLessOrEqual, Value: int64(2)})
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	out, err := s.Scan(ctx, types.ScanOptions{})
	require.NoError(t, err)
	batch, err := out.Next(ctx)
	require.NoError(t, err)
	require.Len(t, batch.Rows, 1)
	require.Equal(t, int64(3), batch.Rows[0][0])
}

func TestMemoryDeleteWithCompositePredicateRequiresAllToMatch(t *testing.T) {
	ctx := context.Background()
	schema := types.Schema{
		{Name: ident.New("tenant"), Type: types.ColumnString},
		{Name: ident.New("id"), Type: types.ColumnInt64},
	}
	s := NewMemory(schema, nil, types.UnsupportedTypeError)

	_, err := s.AppendStream(ctx, oneBatch(schema,
		types.Row{"a", int64(1)},
		types.Row{"a", int64(2)},
		types.Row{"b", int64(1)},
	))
	require.NoError(t, err)

	// A composite key (tenant="a", id=1) must match both columns at
	// once; a delete that ORed the predicates would also remove
	// (tenant="b", id=1), which shares only one of the two columns.
	removed, err := s.Delete(ctx,
		types.Predicate{Column: ident.New("tenant"), Op: types.OpEqual, Value: "a"},
		types.Predicate{Column: ident.New("id"), Op: types.OpEqual, Value: int64(1)},
	)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	out, err := s.Scan(ctx, types.ScanOptions{})
	require.NoError(t, err)
	batch, err := out.Next(ctx)
	require.NoError(t, err)
	require.Len(t, batch.Rows, 2)
	for _, row := range batch.Rows {
		require.False(t, row[0] == "a" && row[1] == int64(1))
	}
}

func TestMemorySnapshotMaxTracksWatermarkColumn(t *testing.T) {
	ctx := context.Background()
	schema := schemaIDValue()
	s := NewMemory(schema, nil, types.UnsupportedTypeError)

	_, ok, err := s.SnapshotMax(ctx, ident.New("id"))
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.AppendStream(ctx, oneBatch(schema, types.Row{int64(5), "a"}, types.Row{int64(1), "b"}))
	require.NoError(t, err)

	max, ok, err := s.SnapshotMax(ctx, ident.New("id"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(5), max)
}

func TestMemoryScanProjectsColumns(t *testing.T) {
	ctx := context.Background()
	schema := schemaIDValue()
	s := NewMemory(schema, nil, types.UnsupportedTypeError)

	_, err := s.AppendStream(ctx, oneBatch(schema, types.Row{int64(1), "a"}))
	require.NoError(t, err)

	out, err := s.Scan(ctx, types.ScanOptions{Projection: types.Projection{ident.New("value")}})
	require.NoError(t, err)
	batch, err := out.Next(ctx)
	require.NoError(t, err)
	require.Len(t, batch.Schema, 1)
	require.Equal(t, "value", batch.Schema[0].Name.Raw())
	require.Equal(t, "a", batch.Rows[0][0])
}
