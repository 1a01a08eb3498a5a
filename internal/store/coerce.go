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
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/pkg/errors"

	"github.com/spiceai/ade/internal/ident"
	"github.com/spiceai/ade/internal/types"
)

// Widen reconciles a dataset's author-declared schema against its
// Source Adapter's actual projected schema, producing the schema the
// Acceleration Store is opened with (spec §3: "the Acceleration
// Store's schema is a widening of the Source Adapter's projected
// schema"). declared wins when both agree or when declared's type is
// a safe widening of the source's; a genuine mismatch is resolved by
// action exactly as a per-row coercion failure would be. A column the
// source projects but the author never declared is still added to the
// result — dropping it silently would mean the store can never hold
// data the source actually sends, violating the widening invariant.
func Widen(declared, projected types.Schema, action types.UnsupportedTypeAction) (types.Schema, error) {
	out := make(types.Schema, 0, len(declared)+len(projected))
	seen := make(map[string]bool, len(declared))

	for _, d := range declared {
		seen[d.Name.Raw()] = true

		idx := projected.IndexOf(d.Name)
		if idx < 0 {
			// The source never projects this column; keep the
			// declaration as-is, nothing to reconcile it against.
			out = append(out, d)
			continue
		}

		src := projected[idx]
		if src.Type == types.ColumnUnknown || isWidening(src.Type, d.Type) {
			out = append(out, d)
			continue
		}

		switch action {
		case types.UnsupportedTypeWarn:
			log.WithFields(log.Fields{
				"column":   d.Name.Raw(),
				"declared": d.Type,
				"source":   src.Type,
			}).Warn("declared column type does not widen the source's projected type; keeping the declared type")
			out = append(out, d)
		case types.UnsupportedTypeIgnore:
			log.WithFields(log.Fields{"column": d.Name.Raw()}).Debug("dropping declared column whose type does not widen the source's projected type")
		case types.UnsupportedTypeString:
			out = append(out, types.Column{Name: d.Name, Type: types.ColumnString, Nullable: true})
		default:
			return nil, errors.Errorf(
				"column %q declared as %v does not widen the source's projected type %v",
				d.Name.Raw(), d.Type, src.Type)
		}
	}

	for _, src := range projected {
		if seen[src.Name.Raw()] {
			continue
		}
		out = append(out, src)
	}

	return out, nil
}

// isWidening reports whether a column declared as to can hold every
// value a source column typed from can produce without loss: the
// identical type always qualifies, a source int64 safely widens into
// a declared float64, and any source type widens into a declared
// string (the universal fallback representation).
func isWidening(from, to types.ColumnType) bool {
	if from == to {
		return true
	}
	switch to {
	case types.ColumnFloat64:
		return from == types.ColumnInt64
	case types.ColumnString:
		return true
	default:
		return false
	}
}

// CoerceRow casts row (shaped per srcSchema) into a row shaped per
// dstSchema, applying action to any lossy or unrepresentable value.
// Violations under UnsupportedTypeError return a plain error; the store
// variants wrap it in a *types.Error of Kind KindUnsupportedType.
func CoerceRow(
	row types.Row, srcSchema, dstSchema types.Schema, action types.UnsupportedTypeAction,
) (types.Row, error) {
	out := make(types.Row, len(dstSchema))
	for i, dst := range dstSchema {
		srcIdx := srcSchema.IndexOf(dst.Name)
		if srcIdx < 0 || srcIdx >= len(row) {
			out[i] = nil
			continue
		}
		val, err := coerceValue(row[srcIdx], dst.Type, action)
		if err != nil {
			return nil, err
		}
		out[i] = val
	}
	return out, nil
}

func coerceValue(v any, want types.ColumnType, action types.UnsupportedTypeAction) (any, error) {
	if v == nil {
		return nil, nil
	}
	if castable(v, want) {
		return castValue(v, want), nil
	}

	switch action {
	case types.UnsupportedTypeWarn:
		log.WithFields(log.Fields{
			"value": v,
			"want":  want,
		}).Warn("lossy cast while coercing batch to store schema")
		return castValue(v, want), nil
	case types.UnsupportedTypeIgnore:
		return nil, nil
	case types.UnsupportedTypeString:
		return fmt.Sprintf("%v", v), nil
	default:
		return nil, errors.Errorf("value %v cannot be cast to column type %v without a widening policy", v, want)
	}
}

func castable(v any, want types.ColumnType) bool {
	switch want {
	case types.ColumnString:
		_, ok := v.(string)
		return ok
	case types.ColumnInt64:
		switch v.(type) {
		case int64, int:
			return true
		}
		return false
	case types.ColumnFloat64:
		switch v.(type) {
		case float64, float32:
			return true
		}
		return false
	case types.ColumnBool:
		_, ok := v.(bool)
		return ok
	case types.ColumnTimestamp:
		_, ok := v.(time.Time)
		return ok
	case types.ColumnBytes:
		_, ok := v.([]byte)
		return ok
	default:
		return true
	}
}

func castValue(v any, want types.ColumnType) any {
	switch want {
	case types.ColumnString:
		return fmt.Sprintf("%v", v)
	case types.ColumnInt64:
		switch t := v.(type) {
		case int64:
			return t
		case int:
			return int64(t)
		case float64:
			return int64(t)
		case string:
			n, _ := strconv.ParseInt(t, 10, 64)
			return n
		}
	case types.ColumnFloat64:
		switch t := v.(type) {
		case float64:
			return t
		case float32:
			return float64(t)
		case int64:
			return float64(t)
		}
	}
	return v
}

// VerifyPrimaryKey implements invariant (ii) of spec §4.7: PK columns
// must be non-null.
func VerifyPrimaryKey(row types.Row, schema types.Schema, pk []ident.Ident) error {
	for _, col := range pk {
		idx := schema.IndexOf(col)
		if idx < 0 || idx >= len(row) || row[idx] == nil {
			return errors.Errorf("primary key column %q is null or missing", col.Raw())
		}
	}
	return nil
}
