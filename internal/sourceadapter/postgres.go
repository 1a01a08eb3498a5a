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

package sourceadapter

import (
	"context"
	"io"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/spiceai/ade/internal/ident"
	"github.com/spiceai/ade/internal/types"
)

// PostgresOptions configures OpenPostgresAsSource.
type PostgresOptions struct {
	ConnString     string
	Table          ident.Table
	WaitForStartup bool
}

type postgresAdapter struct {
	pool   *pgxpool.Pool
	table  string
	schema types.Schema
}

// OpenPostgresAsSource opens a read-only Source Adapter over pgx's
// native connection pool, reusing the connect-then-ping-retry shape
// stdpool applies to database/sql pools but against pgxpool.Pool,
// since Postgres sources are better served by pgx's native protocol
// support (binary format, COPY, prepared statement caching) than by
// going through database/sql.
func OpenPostgresAsSource(ctx context.Context, opts PostgresOptions, schema types.Schema) (types.SourceAdapter, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, errors.WithStack(err)
	}

ping:
	if err := pool.Ping(ctx); err != nil {
		if opts.WaitForStartup {
			log.WithError(err).Info("waiting for postgres source to become ready")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				goto ping
			}
		}
		return nil, errors.Wrap(err, "could not ping postgres source")
	}

	return &postgresAdapter{pool: pool, table: opts.Table.Raw(), schema: schema}, nil
}

func (a *postgresAdapter) ProjectedSchema(ctx context.Context) (types.Schema, error) {
	return a.schema, nil
}

func (a *postgresAdapter) SupportsFederatedSQL() bool { return true }

func (a *postgresAdapter) Query(ctx context.Context, sql string, args ...any) (types.BatchSource, error) {
	rows, err := a.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return newPgxRowsSource(rows, a.schema), nil
}

func (a *postgresAdapter) Scan(ctx context.Context, opts types.ScanOptions) (types.BatchSource, error) {
	stmt, args, err := buildSelect(a.table, a.schema, opts, dollarPlaceholder)
	if err != nil {
		return nil, err
	}
	rows, err := a.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	schema := a.schema
	if len(opts.Projection) > 0 {
		schema = projectSchema(a.schema, opts.Projection)
	}
	return newPgxRowsSource(rows, schema), nil
}

type pgxRowsSource struct {
	rows   pgx.Rows
	schema types.Schema
}

func newPgxRowsSource(rows pgx.Rows, schema types.Schema) *pgxRowsSource {
	return &pgxRowsSource{rows: rows, schema: schema}
}

func (s *pgxRowsSource) Next(ctx context.Context) (types.Batch, error) {
	var rows []types.Row
	for len(rows) < rowsBatchSize && s.rows.Next() {
		values, err := s.rows.Values()
		if err != nil {
			return types.Batch{}, errors.WithStack(err)
		}
		rows = append(rows, types.Row(values))
	}
	if len(rows) == 0 {
		if err := s.rows.Err(); err != nil {
			return types.Batch{}, errors.WithStack(err)
		}
		s.rows.Close()
		return types.Batch{}, io.EOF
	}
	return types.Batch{Schema: s.schema, Rows: rows}, nil
}
