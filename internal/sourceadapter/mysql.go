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
	"database/sql"
	sqldriver "database/sql/driver"
	"io"
	"time"

	_ "github.com/go-sql-driver/mysql" // register driver
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/spiceai/ade/internal/ident"
	"github.com/spiceai/ade/internal/types"
)

// MySQLOptions configures OpenMySQLAsSource.
type MySQLOptions struct {
	// DataSourceName is passed verbatim to sql.Open("mysql", ...).
	DataSourceName string
	Table          ident.Table
	// WaitForStartup retries the opening ping against a
	// not-yet-ready database instead of failing immediately.
	WaitForStartup bool
}

type mysqlAdapter struct {
	db     *sql.DB
	table  string
	schema types.Schema
}

// OpenMySQLAsSource opens a read-only Source Adapter backed by a
// MySQL-compatible database, adapted from stdpool's target-side
// OpenMySQLAsTarget: same connect/ping-retry/version-probe shape, used
// here to read rather than write.
func OpenMySQLAsSource(ctx context.Context, opts MySQLOptions, schema types.Schema) (types.SourceAdapter, error) {
	db, err := sql.Open("mysql", opts.DataSourceName)
	if err != nil {
		return nil, errors.WithStack(err)
	}

ping:
	if err := db.PingContext(ctx); err != nil {
		if opts.WaitForStartup && isMySQLStartupError(err) {
			log.WithError(err).Info("waiting for mysql source to become ready")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				goto ping
			}
		}
		return nil, errors.Wrap(err, "could not ping mysql source")
	}

	var version string
	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		return nil, errors.Wrap(err, "could not query mysql version")
	}
	log.WithField("version", version).Info("mysql source adapter ready")

	return &mysqlAdapter{db: db, table: opts.Table.Raw(), schema: schema}, nil
}

func isMySQLStartupError(err error) bool {
	return errors.Is(err, sqldriver.ErrBadConn)
}

func (a *mysqlAdapter) ProjectedSchema(ctx context.Context) (types.Schema, error) {
	return a.schema, nil
}

func (a *mysqlAdapter) SupportsFederatedSQL() bool { return true }

func (a *mysqlAdapter) Query(ctx context.Context, sql string, args ...any) (types.BatchSource, error) {
	rows, err := a.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return newSQLRowsSource(rows, a.schema), nil
}

func (a *mysqlAdapter) Scan(ctx context.Context, opts types.ScanOptions) (types.BatchSource, error) {
	stmt, args, err := buildSelect(a.table, a.schema, opts, questionPlaceholder)
	if err != nil {
		return nil, err
	}
	rows, err := a.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	schema := a.schema
	if len(opts.Projection) > 0 {
		schema = projectSchema(a.schema, opts.Projection)
	}
	return newSQLRowsSource(rows, schema), nil
}

func projectSchema(schema types.Schema, proj types.Projection) types.Schema {
	out := make(types.Schema, 0, len(proj))
	for _, col := range proj {
		if idx := schema.IndexOf(col); idx >= 0 {
			out = append(out, schema[idx])
		}
	}
	return out
}

const rowsBatchSize = 1024

type sqlRowsSource struct {
	rows   *sql.Rows
	schema types.Schema
}

func newSQLRowsSource(rows *sql.Rows, schema types.Schema) *sqlRowsSource {
	return &sqlRowsSource{rows: rows, schema: schema}
}

func (s *sqlRowsSource) Next(ctx context.Context) (types.Batch, error) {
	var rows []types.Row
	for len(rows) < rowsBatchSize && s.rows.Next() {
		dest := make([]any, len(s.schema))
		ptrs := make([]any, len(s.schema))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := s.rows.Scan(ptrs...); err != nil {
			return types.Batch{}, errors.WithStack(err)
		}
		rows = append(rows, types.Row(dest))
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
