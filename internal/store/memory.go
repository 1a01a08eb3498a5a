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
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/spiceai/ade/internal/ident"
	"github.com/spiceai/ade/internal/msort"
	"github.com/spiceai/ade/internal/types"
)

// memoryStore is the in-memory Acceleration Store variant
// (spec §4.1). It holds its visible data as an immutable snapshot
// slice of rows, not in a columnar layout; writers build a new snapshot and atomically swap the
// pointer, giving scans copy-on-write isolation without holding a
// lock across the read.
type memoryStore struct {
	schema types.Schema
	pk     []ident.Ident
	action types.UnsupportedTypeAction

	mu       sync.RWMutex
	snapshot []types.Row
}

// NewMemory opens an in-memory Acceleration Store for schema.
func NewMemory(schema types.Schema, pk []ident.Ident, action types.UnsupportedTypeAction) types.AccelerationStore {
	return &memoryStore{schema: schema, pk: pk, action: action}
}

func (m *memoryStore) Schema() types.Schema { return m.schema }

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) readAll(ctx context.Context, stream types.BatchSource) ([]types.Row, types.Schema, error) {
	var rows []types.Row
	var srcSchema types.Schema
	for {
		batch, err := stream.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		if srcSchema == nil {
			srcSchema = batch.Schema
		}
		for _, row := range batch.Rows {
			coerced, err := CoerceRow(row, batch.Schema, m.schema, m.action)
			if err != nil {
				return nil, nil, types.NewError(types.KindUnsupportedType, ident.Table{}, err)
			}
			if len(m.pk) > 0 {
				if err := VerifyPrimaryKey(coerced, m.schema, m.pk); err != nil {
					return nil, nil, types.NewError(types.KindConstraintViolation, ident.Table{}, err)
				}
			}
			rows = append(rows, coerced)
		}
	}
	return rows, srcSchema, nil
}

func (m *memoryStore) pkNames() []string {
	names := make([]string, len(m.pk))
	for i, c := range m.pk {
		names[i] = c.Raw()
	}
	return names
}

// AppendStream implements types.AccelerationStore.
func (m *memoryStore) AppendStream(ctx context.Context, stream types.BatchSource) (types.Commit, error) {
	rows, _, err := m.readAll(ctx, stream)
	if err != nil {
		return types.Commit{}, err
	}

	m.mu.Lock()
	next := make([]types.Row, 0, len(m.snapshot)+len(rows))
	next = append(next, m.snapshot...)
	next = append(next, rows...)
	if len(m.pk) > 0 {
		next = msort.ResolveConflicts(next, m.schema, m.pkNames(), types.OnConflictUpsert)
	}
	m.snapshot = next
	m.mu.Unlock()

	return types.Commit{ID: uuid.New(), RowCount: len(rows)}, nil
}

// UpsertStream implements types.AccelerationStore.
func (m *memoryStore) UpsertStream(
	ctx context.Context, stream types.BatchSource, pk []ident.Ident, action types.OnConflictAction,
) (types.Commit, error) {
	rows, _, err := m.readAll(ctx, stream)
	if err != nil {
		return types.Commit{}, err
	}

	pkNames := make([]string, len(pk))
	for i, c := range pk {
		pkNames[i] = c.Raw()
	}

	m.mu.Lock()
	merged := append(append([]types.Row{}, m.snapshot...), rows...)
	m.snapshot = msort.ResolveConflicts(merged, m.schema, pkNames, action)
	m.mu.Unlock()

	return types.Commit{ID: uuid.New(), RowCount: len(rows)}, nil
}

// ReplaceAll implements types.AccelerationStore.
func (m *memoryStore) ReplaceAll(ctx context.Context, stream types.BatchSource) (types.Commit, error) {
	rows, _, err := m.readAll(ctx, stream)
	if err != nil {
		return types.Commit{}, err
	}

	m.mu.Lock()
	m.snapshot = rows
	m.mu.Unlock()

	return types.Commit{ID: uuid.New(), RowCount: len(rows)}, nil
}

// Delete implements types.AccelerationStore.
func (m *memoryStore) Delete(ctx context.Context, predicates ...types.Predicate) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(predicates) == 0 {
		return 0, nil
	}
	for _, p := range predicates {
		if m.schema.IndexOf(p.Column) < 0 {
			return 0, errors.Errorf("column %q not present in store schema", p.Column.Raw())
		}
	}

	kept := make([]types.Row, 0, len(m.snapshot))
	removed := 0
	for _, row := range m.snapshot {
		if matchesAll(row, m.schema, predicates) {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	m.snapshot = kept
	return removed, nil
}

func matches(value any, p types.Predicate) bool {
	cmp := compareValues(value, p.Value)
	switch p.Op {
	case types.OpLess:
		return cmp < 0
	case types.OpLessOrEqual:
		return cmp <= 0
	case types.OpGreater:
		return cmp > 0
	case types.OpGreaterOrEqual:
		return cmp >= 0
	case types.OpEqual:
		return cmp == 0
	default:
		return false
	}
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case int64:
		bv, _ := b.(int64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case float64:
		bv, _ := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		bv, _ := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case time.Time:
		bv, _ := b.(time.Time)
		switch {
		case av.Before(bv):
			return -1
		case av.After(bv):
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

// Scan implements types.AccelerationStore. The returned BatchSource
// is backed by a private copy of the snapshot slice header taken
// under the read lock, so later writers swapping m.snapshot never
// perturb an in-flight scan (copy-on-write isolation).
func (m *memoryStore) Scan(ctx context.Context, opts types.ScanOptions) (types.BatchSource, error) {
	m.mu.RLock()
	snap := m.snapshot
	m.mu.RUnlock()

	rows := make([]types.Row, 0, len(snap))
	for _, row := range snap {
		if !matchesAll(row, m.schema, opts.Filter) {
			continue
		}
		rows = append(rows, projectRow(row, m.schema, opts.Projection))
		if opts.Limit > 0 && len(rows) >= opts.Limit {
			break
		}
	}

	schema := m.schema
	if len(opts.Projection) > 0 {
		schema = projectSchema(m.schema, opts.Projection)
	}

	return &sliceSource{schema: schema, rows: rows}, nil
}

func matchesAll(row types.Row, schema types.Schema, filters []types.Predicate) bool {
	for _, f := range filters {
		idx := schema.IndexOf(f.Column)
		if idx < 0 || idx >= len(row) {
			return false
		}
		if !matches(row[idx], f) {
			return false
		}
	}
	return true
}

func projectRow(row types.Row, schema types.Schema, proj types.Projection) types.Row {
	if len(proj) == 0 {
		return row
	}
	out := make(types.Row, len(proj))
	for i, col := range proj {
		idx := schema.IndexOf(col)
		if idx >= 0 && idx < len(row) {
			out[i] = row[idx]
		}
	}
	return out
}

func projectSchema(schema types.Schema, proj types.Projection) types.Schema {
	out := make(types.Schema, 0, len(proj))
	for _, col := range proj {
		idx := schema.IndexOf(col)
		if idx >= 0 {
			out = append(out, schema[idx])
		}
	}
	return out
}

// SnapshotMax implements types.AccelerationStore.
func (m *memoryStore) SnapshotMax(ctx context.Context, column ident.Ident) (any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx := m.schema.IndexOf(column)
	if idx < 0 {
		return nil, false, errors.Errorf("column %q not present in store schema", column.Raw())
	}

	var max any
	found := false
	for _, row := range m.snapshot {
		if row[idx] == nil {
			continue
		}
		if !found || compareValues(row[idx], max) > 0 {
			max = row[idx]
			found = true
		}
	}
	return max, found, nil
}

// sliceSource adapts an in-memory row slice to types.BatchSource,
// returning the entire slice as a single Batch.
type sliceSource struct {
	schema types.Schema
	rows   []types.Row
	done   bool
}

func (s *sliceSource) Next(ctx context.Context) (types.Batch, error) {
	if s.done {
		return types.Batch{}, io.EOF
	}
	s.done = true
	return types.Batch{Schema: s.schema, Rows: s.rows}, nil
}
