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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/spiceai/ade/internal/metrics"
	"github.com/spiceai/ade/internal/stopper"
	"github.com/spiceai/ade/internal/types"
)

// ChangeSource opens the dataset's Changes event stream. It is
// supplied separately from types.SourceAdapter because not every
// adapter exposes a change stream, and because the stream is stateful
// (it must resume from the last applied Seq), unlike the idempotent
// Scan/Query methods.
type ChangeSource interface {
	Open(ctx context.Context, afterSeq uint64) (types.ChangeStream, error)
}

// runChanges applies mutations from the dataset's Changes stream in
// order, one flush per call, stopping after draining whatever is
// currently available (spec §4.2, RefreshChanges). Order violations
// are fatal to the dataset, not the process (spec §7).
func (e *Engine) runChanges(ctx *stopper.Context) (types.Commit, error) {
	opts := e.dataset.Refresh.Changes
	if opts == nil || e.changeSource == nil {
		return types.Commit{}, errors.Errorf("dataset %s is configured for changes refresh without a change source", e.dataset.Name.Raw())
	}

	stream, err := e.changeSource.Open(ctx, e.lastSeq)
	if err != nil {
		return types.Commit{}, types.NewError(types.KindSourceUnavailable, e.datasetTable(), err)
	}

	started := time.Now()
	defer func() {
		metrics.StoreCommitDuration.WithLabelValues(e.dataset.Name.Raw()).Observe(time.Since(started).Seconds())
	}()

	applied := 0
	for {
		mut, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return types.Commit{}, err
		}
		if mut.Seq != 0 && mut.Seq <= e.lastSeq {
			continue // already applied; stream resumed at-or-before our position
		}
		if mut.Seq != 0 && e.lastSeq != 0 && mut.Seq != e.lastSeq+1 {
			return types.Commit{}, types.NewError(types.KindInternalInvariant, e.datasetTable(), types.ErrOutOfOrder)
		}

		if err := e.applyMutation(ctx, mut); err != nil {
			return types.Commit{}, err
		}
		if mut.Seq != 0 {
			e.lastSeq = mut.Seq
		}
		applied++
	}

	return types.Commit{RowCount: applied}, nil
}

func (e *Engine) applyMutation(ctx context.Context, mut types.Mutation) error {
	schema := e.store.Schema()
	pk := e.dataset.PrimaryKey

	if mut.IsDelete() {
		if len(pk) == 0 {
			return errors.Errorf("dataset %s received a delete mutation without a configured primary key", e.dataset.Name.Raw())
		}
		dec := json.NewDecoder(bytes.NewReader(mut.Key))
		dec.UseNumber()
		var keyValues []any
		if err := dec.Decode(&keyValues); err != nil {
			return errors.WithStack(err)
		}
		predicates := make([]types.Predicate, 0, len(pk))
		for i, col := range pk {
			if i >= len(keyValues) {
				break
			}
			idx := schema.IndexOf(col)
			value := keyValues[i]
			if idx >= 0 {
				value = coerceJSONValue(value, schema[idx].Type)
			}
			predicates = append(predicates, types.Predicate{Column: col, Op: types.OpEqual, Value: value})
		}
		_, err := e.store.Delete(ctx, predicates...)
		return err
	}

	row, err := decodeRow(mut.After, schema)
	if err != nil {
		return err
	}
	stream := singleRowSource{schema: schema, row: row}

	if len(pk) > 0 {
		_, err = e.store.UpsertStream(ctx, &stream, pk, e.dataset.ConflictAction())
	} else {
		_, err = e.store.AppendStream(ctx, &stream)
	}
	return err
}

// decodeRow decodes after's JSON object into a Row shaped per schema.
// It decodes numbers with json.Number rather than letting
// encoding/json default every numeric field to float64, then converts
// each field to its destination column's native Go type: otherwise an
// int64 column fed by a CDC event's JSON-encoded integer would fail
// CoerceRow's cast check and be rejected as UnsupportedType even
// though no precision was actually lost in transit.
func decodeRow(after json.RawMessage, schema types.Schema) (types.Row, error) {
	dec := json.NewDecoder(bytes.NewReader(after))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, errors.WithStack(err)
	}
	row := make(types.Row, len(schema))
	for i, col := range schema {
		row[i] = coerceJSONValue(fields[col.Name.Raw()], col.Type)
	}
	return row, nil
}

// coerceJSONValue converts a value produced by a json.Number-aware
// decode into the native Go type CoerceRow's cast check expects for
// want, leaving anything it does not recognize for CoerceRow's own
// policy-driven widening to handle.
func coerceJSONValue(v any, want types.ColumnType) any {
	num, ok := v.(json.Number)
	if !ok {
		return v
	}
	switch want {
	case types.ColumnInt64:
		if n, err := num.Int64(); err == nil {
			return n
		}
	case types.ColumnFloat64:
		if f, err := num.Float64(); err == nil {
			return f
		}
	}
	return v
}

// singleRowSource adapts one decoded row to types.BatchSource so that
// it can flow through the same AppendStream/UpsertStream write paths
// a batched refresh uses.
type singleRowSource struct {
	schema types.Schema
	row    types.Row
	done   bool
}

func (s *singleRowSource) Next(ctx context.Context) (types.Batch, error) {
	if s.done {
		return types.Batch{}, io.EOF
	}
	s.done = true
	return types.Batch{Schema: s.schema, Rows: []types.Row{s.row}}, nil
}
