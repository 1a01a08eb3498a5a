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

package config

import (
	"github.com/spiceai/ade/internal/ident"
	"github.com/spiceai/ade/internal/store"
	"github.com/spiceai/ade/internal/types"
)

// ToDataset translates a validated Dataset (the document must already
// have passed Preflight) into the engine's internal types.Dataset plus
// the store.Options its Acceleration Store should be opened with.
// ok reports whether acceleration is enabled at all; when it is not,
// the dataset has no accelerated replica and opts is the zero value.
func (d *Dataset) ToDataset() (*types.Dataset, store.Options, bool) {
	ds := &types.Dataset{
		Name:                  ident.ParseTable(d.Name),
		Source:                d.From,
		Schema:                columnsToSchema(d.Columns),
		TimeColumn:            ident.New(d.TimeColumn),
		TimeFormat:            d.TimeFormat,
		TimePartitionColumn:   ident.New(d.TimePartitionColumn),
		TimePartitionFormat:   d.TimePartitionFormat,
		UnsupportedTypeAction: unsupportedTypeAction(d.UnsupportedTypeAction),
		ReadyState:            readyStatePolicy(d.effectiveReadyState()),
	}

	acc := d.Acceleration
	if acc == nil || !acc.Enabled {
		return ds, store.Options{}, false
	}

	ds.PrimaryKey = identList(acc.PrimaryKey)
	ds.Indexes = indexSpecs(acc.Indexes)
	ds.OnConflict = conflictActionsByRawName(acc.OnConflict)
	ds.ZeroResults = zeroResultsPolicy(acc.OnZeroResults)
	ds.Refresh = refreshPolicy(acc)
	if ds.Refresh.Append != nil {
		ds.Refresh.Append.TimeColumn = ident.New(d.TimeColumn)
	}
	ds.Retention = retentionPolicy(acc, d.TimeColumn)

	return ds, storeOptions(ds, acc), true
}

func columnsToSchema(cols []Column) types.Schema {
	schema := make(types.Schema, len(cols))
	for i, c := range cols {
		schema[i] = types.Column{
			Name:     ident.New(c.Name),
			Type:     columnType(c.Type),
			Nullable: c.Nullable,
		}
	}
	return schema
}

func columnType(t string) types.ColumnType {
	switch t {
	case "bool", "boolean":
		return types.ColumnBool
	case "int", "int64", "bigint", "integer":
		return types.ColumnInt64
	case "float", "float64", "double":
		return types.ColumnFloat64
	case "string", "text", "varchar":
		return types.ColumnString
	case "bytes", "blob", "binary":
		return types.ColumnBytes
	case "timestamp", "datetime", "time":
		return types.ColumnTimestamp
	case "json":
		return types.ColumnJSON
	default:
		return types.ColumnUnknown
	}
}

func unsupportedTypeAction(s string) types.UnsupportedTypeAction {
	switch s {
	case "warn":
		return types.UnsupportedTypeWarn
	case "ignore":
		return types.UnsupportedTypeIgnore
	case "string":
		return types.UnsupportedTypeString
	default:
		return types.UnsupportedTypeError
	}
}

func readyStatePolicy(s string) types.ReadyStatePolicy {
	if s == "on_registration" {
		return types.ReadyOnRegistration
	}
	return types.ReadyOnLoad
}

func zeroResultsPolicy(s string) types.ZeroResultsPolicy {
	if s == "use_source" {
		return types.ZeroResultsUseSource
	}
	return types.ZeroResultsReturnEmpty
}

func identList(raw []string) []ident.Ident {
	out := make([]ident.Ident, len(raw))
	for i, s := range raw {
		out[i] = ident.New(s)
	}
	return out
}

func indexSpecs(raw map[string]string) []types.IndexSpec {
	out := make([]types.IndexSpec, 0, len(raw))
	for col, kind := range raw {
		out = append(out, types.IndexSpec{Column: ident.New(col), Unique: kind == "unique"})
	}
	return out
}

func conflictActionsByRawName(raw map[string]string) map[string]types.OnConflictAction {
	out := make(map[string]types.OnConflictAction, len(raw))
	for col, action := range raw {
		if action == "upsert" {
			out[col] = types.OnConflictUpsert
		} else {
			out[col] = types.OnConflictDrop
		}
	}
	return out
}

func refreshPolicy(acc *Acceleration) types.RefreshPolicy {
	checkInterval, _ := parseDuration(acc.RefreshCheckInterval)
	jitterMax, _ := parseDuration(acc.RefreshJitterMax)
	lookback, _ := parseDuration(acc.RefreshDataWindow)
	overlap, _ := parseDuration(acc.RefreshAppendOverlap)

	policy := types.RefreshPolicy{
		CheckInterval: checkInterval,
		Retry: types.RetryPolicy{
			Enabled:     acc.RefreshRetryEnabled,
			MaxAttempts: acc.RefreshRetryMaxAttempts,
		},
		Jitter: types.JitterPolicy{
			Enabled: acc.RefreshJitterEnabled,
			Max:     jitterMax,
		},
	}

	switch acc.RefreshMode {
	case "append":
		policy.Mode = types.RefreshAppend
		policy.Append = &types.AppendOptions{
			LookbackWindow: lookback,
			Overlap:        overlap,
		}
	case "changes":
		policy.Mode = types.RefreshChanges
		policy.Changes = &types.ChangesOptions{Stream: acc.Params["stream"]}
	default:
		policy.Mode = types.RefreshFull
		policy.Full = &types.FullOptions{SQL: acc.RefreshSQL}
	}
	// TimeColumn for Append is resolved from the dataset, not the
	// acceleration block, so callers of refreshPolicy (ToDataset) set
	// it separately after this call returns.
	return policy
}

func retentionPolicy(acc *Acceleration, timeColumn string) *types.RetentionPolicy {
	period, _ := parseDuration(acc.RetentionPeriod)
	if period <= 0 {
		return nil
	}
	checkInterval, _ := parseDuration(acc.RetentionCheckInterval)
	if checkInterval <= 0 {
		checkInterval = period
	}
	return &types.RetentionPolicy{
		TimeColumn:    ident.New(timeColumn),
		Period:        period,
		CheckInterval: checkInterval,
	}
}

func storeOptions(ds *types.Dataset, acc *Acceleration) store.Options {
	opts := store.Options{
		Schema:          ds.Schema,
		PrimaryKey:      ds.PrimaryKey,
		UnsupportedType: ds.UnsupportedTypeAction,
		FilePath:        acc.Params["file_path"],
	}
	if acc.Mode == "file" {
		opts.Variant = store.VariantFile
	} else {
		opts.Variant = store.VariantMemory
	}
	return opts
}
