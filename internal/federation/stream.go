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

package federation

import (
	"context"
	"io"
	"time"

	"github.com/spiceai/ade/internal/types"
)

// emptySource is a BatchSource that immediately reports exhaustion.
type emptySource struct{}

func (emptySource) Next(context.Context) (types.Batch, error) { return types.Batch{}, io.EOF }

// prependSource replays a peeked first batch before falling through
// to rest, used to undo a zero-results probe without dropping rows.
type prependSource struct {
	first types.Batch
	sentF bool
	rest  types.BatchSource
}

func (p *prependSource) Next(ctx context.Context) (types.Batch, error) {
	if !p.sentF {
		p.sentF = true
		return p.first, nil
	}
	return p.rest.Next(ctx)
}

// postFilterSource applies residual predicates the accelerated
// store's dialect could not evaluate, row by row, over an upstream
// BatchSource (spec §4.4 step 4: "split: execute the maximal
// sub-fragment locally... leaving residual predicates to post-filter
// on the returned batches").
type postFilterSource struct {
	inner      types.BatchSource
	predicates []types.Predicate
}

func (p *postFilterSource) Next(ctx context.Context) (types.Batch, error) {
	for {
		batch, err := p.inner.Next(ctx)
		if err != nil {
			return types.Batch{}, err
		}
		filtered := batch.Rows[:0:0]
		for _, row := range batch.Rows {
			if matchesAll(row, batch.Schema, p.predicates) {
				filtered = append(filtered, row)
			}
		}
		if len(filtered) == 0 && len(batch.Rows) > 0 {
			// Nothing in this batch survived the residual filter;
			// pull the next one rather than returning a spurious
			// empty batch that could be misread as end-of-stream.
			continue
		}
		return types.Batch{Schema: batch.Schema, Rows: filtered}, nil
	}
}

func matchesAll(row types.Row, schema types.Schema, predicates []types.Predicate) bool {
	for _, p := range predicates {
		idx := schema.IndexOf(p.Column)
		if idx < 0 || idx >= len(row) {
			return false
		}
		if !matchPredicate(row[idx], p) {
			return false
		}
	}
	return true
}

// matchPredicate mirrors the Acceleration Store's own scan-filter
// comparison (internal/store's in-memory variant) so that a split
// fragment's residual is evaluated with identical ordering semantics
// to whatever the store already pushed down.
func matchPredicate(value any, p types.Predicate) bool {
	cmp := comparePredicateValues(value, p.Value)
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

func comparePredicateValues(a, b any) int {
	switch av := a.(type) {
	case int64:
		bv, _ := b.(int64)
		return cmpOrdered(av, bv)
	case float64:
		bv, _ := b.(float64)
		return cmpOrdered(av, bv)
	case string:
		bv, _ := b.(string)
		return cmpOrdered(av, bv)
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

func cmpOrdered[T int64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
