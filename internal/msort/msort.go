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

// Package msort contains utility functions for resolving primary-key
// conflicts within a batch of rows before it is committed to an
// Acceleration Store (spec §3 invariants, §8 property 3).
package msort

import (
	"fmt"

	"github.com/spiceai/ade/internal/types"
)

// keyOf renders a row's primary-key column values into a comparable
// string, using the declared key-column order.
func keyOf(row types.Row, schema types.Schema, pk []string) string {
	key := ""
	for _, col := range pk {
		idx := -1
		for i, c := range schema {
			if c.Name.Raw() == col {
				idx = i
				break
			}
		}
		if idx < 0 || idx >= len(row) {
			key += "\x00"
			continue
		}
		key += fmt.Sprintf("%v\x00", row[idx])
	}
	return key
}

// ResolveConflicts applies the dataset's on-conflict policy to rows
// sharing the same primary key, matching the semantics of spec §8
// property 3: with OnConflictUpsert, the last row per key (in input
// order) wins; with OnConflictDrop, the first wins.
func ResolveConflicts(rows []types.Row, schema types.Schema, pk []string, action types.OnConflictAction) []types.Row {
	if len(pk) == 0 || len(rows) == 0 {
		return rows
	}

	switch action {
	case types.OnConflictUpsert:
		return lastWins(rows, schema, pk)
	default:
		return firstWins(rows, schema, pk)
	}
}

// lastWins keeps, for each key, the last row seen in input order,
// while preserving that row's relative position among surviving keys.
// This mirrors the "move to rear while scanning backwards" idiom used
// to deduplicate ordered mutation batches by key.
func lastWins(rows []types.Row, schema types.Schema, pk []string) []types.Row {
	seenIdx := make(map[string]int, len(rows))
	dest := len(rows)
	out := make([]types.Row, len(rows))
	for src := len(rows) - 1; src >= 0; src-- {
		key := keyOf(rows[src], schema, pk)
		if _, found := seenIdx[key]; found {
			continue
		}
		dest--
		seenIdx[key] = dest
		out[dest] = rows[src]
	}
	return out[dest:]
}

// firstWins keeps, for each key, the first row seen in input order.
func firstWins(rows []types.Row, schema types.Schema, pk []string) []types.Row {
	seen := make(map[string]struct{}, len(rows))
	out := make([]types.Row, 0, len(rows))
	for _, row := range rows {
		key := keyOf(row, schema, pk)
		if _, found := seen[key]; found {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, row)
	}
	return out
}
