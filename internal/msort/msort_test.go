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

package msort

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spiceai/ade/internal/ident"
	"github.com/spiceai/ade/internal/types"
)

func testSchema() types.Schema {
	return types.Schema{
		{Name: ident.New("id"), Type: types.ColumnInt64},
		{Name: ident.New("value"), Type: types.ColumnString},
	}
}

func TestResolveConflictsUpsertLastWins(t *testing.T) {
	schema := testSchema()
	rows := []types.Row{
		{int64(1), "first"},
		{int64(2), "only"},
		{int64(1), "second"},
		{int64(1), "third"},
	}

	out := ResolveConflicts(rows, schema, []string{"id"}, types.OnConflictUpsert)
	require.Len(t, out, 2)

	byID := map[int64]string{}
	for _, row := range out {
		byID[row[0].(int64)] = row[1].(string)
	}
	require.Equal(t, "third", byID[1])
	require.Equal(t, "only", byID[2])
}

func TestResolveConflictsDropFirstWins(t *testing.T) {
	schema := testSchema()
	rows := []types.Row{
		{int64(1), "first"},
		{int64(1), "second"},
	}

	out := ResolveConflicts(rows, schema, []string{"id"}, types.OnConflictDrop)
	require.Len(t, out, 1)
	require.Equal(t, "first", out[0][1])
}

func TestResolveConflictsNoPrimaryKeyIsNoOp(t *testing.T) {
	schema := testSchema()
	rows := []types.Row{
		{int64(1), "a"},
		{int64(1), "b"},
	}

	out := ResolveConflicts(rows, schema, nil, types.OnConflictUpsert)
	require.Len(t, out, 2)
}

func TestResolveConflictsPreservesOrderOfSurvivors(t *testing.T) {
	schema := testSchema()
	rows := []types.Row{
		{int64(2), "a"},
		{int64(1), "b"},
		{int64(2), "c"},
	}

	out := ResolveConflicts(rows, schema, []string{"id"}, types.OnConflictUpsert)
	require.Len(t, out, 2)
	require.Equal(t, int64(1), out[0][0])
	require.Equal(t, int64(2), out[1][0])
	require.Equal(t, "c", out[1][1])
}
