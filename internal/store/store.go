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

// Package store implements the Acceleration Store described in spec
// §4.1: a pluggable, schema-typed row store that the Refresh Engine
// commits batches into and that the Federation Arbiter and Results
// Cache scan for query execution. Three variants are provided: an
// in-memory row store (not columnar) for small or ephemeral datasets, an
// embedded file store backed by SQLite, and a remote SQL store for
// Postgres-family warehouses.
package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/spiceai/ade/internal/ident"
	"github.com/spiceai/ade/internal/types"
)

// Variant selects an Acceleration Store implementation.
type Variant int

const (
	// VariantMemory keeps the entire accelerated dataset resident,
	// with copy-on-write scan isolation.
	VariantMemory Variant = iota
	// VariantFile persists the accelerated dataset to a local
	// embedded SQLite database.
	VariantFile
	// VariantSQL accelerates into an external Postgres-family
	// database reachable over the network.
	VariantSQL
)

// String names a Variant for diagnostics and logging.
func (v Variant) String() string {
	switch v {
	case VariantMemory:
		return "memory"
	case VariantFile:
		return "file"
	case VariantSQL:
		return "sql"
	default:
		return "unknown"
	}
}

// Options configures Open. Only the fields relevant to the selected
// Variant are consulted; variant-specific settings live in their own
// option structs rather than a single flat bag (spec §9).
type Options struct {
	Variant Variant
	Schema  types.Schema
	// PrimaryKey, when non-empty, is enforced as non-null on every
	// committed row and used to resolve upsert/drop conflicts.
	PrimaryKey []ident.Ident
	// UnsupportedType governs how values that do not natively fit
	// the destination schema are handled.
	UnsupportedType types.UnsupportedTypeAction

	// FilePath is consulted when Variant is VariantFile.
	FilePath string

	// SQL is consulted when Variant is VariantSQL.
	SQL SQLOptions
}

// Open constructs the Acceleration Store variant named by opts.
func Open(ctx context.Context, opts Options) (types.AccelerationStore, error) {
	switch opts.Variant {
	case VariantMemory:
		return NewMemory(opts.Schema, opts.PrimaryKey, opts.UnsupportedType), nil
	case VariantFile:
		sqlOpts := SQLOptions{
			DriverName:     "sqlite",
			DataSourceName: opts.FilePath,
			Table:          ident.NewTable("accelerated"),
		}
		store, err := OpenSQL(ctx, opts.Schema, opts.PrimaryKey, opts.UnsupportedType, sqlOpts)
		if err != nil {
			return nil, errors.Wrap(err, "opening file-backed acceleration store")
		}
		if err := ensureTable(ctx, store, opts.Schema, sqlOpts.Table.Raw(), "sqlite"); err != nil {
			return nil, err
		}
		return store, nil
	case VariantSQL:
		store, err := OpenSQL(ctx, opts.Schema, opts.PrimaryKey, opts.UnsupportedType, opts.SQL)
		if err != nil {
			return nil, errors.Wrap(err, "opening remote acceleration store")
		}
		return store, nil
	default:
		return nil, errors.Errorf("unknown acceleration store variant %d", opts.Variant)
	}
}

// ensureTable issues a CREATE TABLE IF NOT EXISTS for embedded
// variants that own their schema's lifecycle, unlike VariantSQL where
// the destination table is expected to already exist in the external
// warehouse.
func ensureTable(ctx context.Context, store types.AccelerationStore, schema types.Schema, table, dialect string) error {
	s, ok := store.(*sqlStore)
	if !ok {
		return nil
	}
	return createTableIfNotExists(ctx, s.db, schema, table, dialect)
}
