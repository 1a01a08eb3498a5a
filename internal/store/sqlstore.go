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
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/spiceai/ade/internal/ident"
	"github.com/spiceai/ade/internal/types"
)

// SQLOptions configures the remote SQL Acceleration Store variant
// (spec §9: "keep variant-specific options in per-variant option
// structs").
type SQLOptions struct {
	// DriverName is the database/sql driver to use, e.g. "postgres".
	DriverName string
	// DataSourceName is passed verbatim to sql.Open.
	DataSourceName string
	// Table is the fully-qualified name backing the store.
	Table ident.Table
	// WaitForStartup retries the opening ping against a
	// not-yet-ready database instead of failing immediately,
	// matching stdpool's MySQL startup wait.
	WaitForStartup bool
}

// sqlStore is an Acceleration Store variant backed by an external SQL
// database, grounded on the statement-building shape used to sink CDC
// mutations into a result table, generalized from a single primary
// key column to an arbitrary composite key and to the store's full
// append/upsert/replace/delete/scan surface.
type sqlStore struct {
	db     *sql.DB
	table  string
	schema types.Schema
	pk     []ident.Ident
	action types.UnsupportedTypeAction
}

// OpenSQL opens (and pings) a SQL-backed Acceleration Store.
func OpenSQL(
	ctx context.Context, schema types.Schema, pk []ident.Ident, action types.UnsupportedTypeAction, opts SQLOptions,
) (types.AccelerationStore, error) {
	db, err := sql.Open(opts.DriverName, opts.DataSourceName)
	if err != nil {
		return nil, errors.WithStack(err)
	}

ping:
	if err := db.PingContext(ctx); err != nil {
		if opts.WaitForStartup {
			log.WithError(err).Info("waiting for acceleration store database to become ready")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
				goto ping
			}
		}
		return nil, errors.Wrap(err, "could not ping acceleration store database")
	}

	return &sqlStore{
		db:     db,
		table:  opts.Table.Raw(),
		schema: schema,
		pk:     pk,
		action: action,
	}, nil
}

func (s *sqlStore) Schema() types.Schema { return s.schema }

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) pkNames() map[string]struct{} {
	out := make(map[string]struct{}, len(s.pk))
	for _, c := range s.pk {
		out[c.Raw()] = struct{}{}
	}
	return out
}

// AppendStream implements types.AccelerationStore by issuing one
// INSERT per batch row inside a single transaction.
func (s *sqlStore) AppendStream(ctx context.Context, stream types.BatchSource) (types.Commit, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Commit{}, errors.WithStack(err)
	}
	defer tx.Rollback()

	count, err := s.writeStream(ctx, tx, stream, func(tx *sql.Tx, row types.Row) error {
		return s.insertRow(tx, row)
	})
	if err != nil {
		return types.Commit{}, err
	}
	if err := tx.Commit(); err != nil {
		return types.Commit{}, errors.WithStack(err)
	}
	return types.Commit{ID: uuid.New(), RowCount: count}, nil
}

// UpsertStream implements types.AccelerationStore using an
// INSERT ... ON CONFLICT statement built the same way CreateSink's
// upsertRow assembles its column and placeholder lists.
func (s *sqlStore) UpsertStream(
	ctx context.Context, stream types.BatchSource, pk []ident.Ident, action types.OnConflictAction,
) (types.Commit, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Commit{}, errors.WithStack(err)
	}
	defer tx.Rollback()

	count, err := s.writeStream(ctx, tx, stream, func(tx *sql.Tx, row types.Row) error {
		return s.upsertRow(tx, row, pk, action)
	})
	if err != nil {
		return types.Commit{}, err
	}
	if err := tx.Commit(); err != nil {
		return types.Commit{}, errors.WithStack(err)
	}
	return types.Commit{ID: uuid.New(), RowCount: count}, nil
}

// ReplaceAll implements types.AccelerationStore by truncating the
// backing table and reloading it from stream within one transaction.
func (s *sqlStore) ReplaceAll(ctx context.Context, stream types.BatchSource) (types.Commit, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Commit{}, errors.WithStack(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", s.table)); err != nil {
		return types.Commit{}, errors.WithStack(err)
	}

	count, err := s.writeStream(ctx, tx, stream, func(tx *sql.Tx, row types.Row) error {
		return s.insertRow(tx, row)
	})
	if err != nil {
		return types.Commit{}, err
	}
	if err := tx.Commit(); err != nil {
		return types.Commit{}, errors.WithStack(err)
	}
	return types.Commit{ID: uuid.New(), RowCount: count}, nil
}

func (s *sqlStore) writeStream(
	ctx context.Context, tx *sql.Tx, stream types.BatchSource, write func(*sql.Tx, types.Row) error,
) (int, error) {
	count := 0
	for {
		batch, err := stream.Next(ctx)
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, err
		}
		for _, row := range batch.Rows {
			coerced, err := CoerceRow(row, batch.Schema, s.schema, s.action)
			if err != nil {
				return count, types.NewError(types.KindUnsupportedType, ident.Table{}, err)
			}
			if len(s.pk) > 0 {
				if err := VerifyPrimaryKey(coerced, s.schema, s.pk); err != nil {
					return count, types.NewError(types.KindConstraintViolation, ident.Table{}, err)
				}
			}
			if err := write(tx, coerced); err != nil {
				return count, err
			}
			count++
		}
	}
}

// insertRow mirrors upsertRow's column/placeholder assembly but omits
// the ON CONFLICT clause.
func (s *sqlStore) insertRow(tx *sql.Tx, row types.Row) error {
	var statement strings.Builder
	fmt.Fprintf(&statement, "INSERT INTO %s (", s.table)
	values := make([]any, 0, len(s.schema))
	for i, col := range s.schema {
		if i > 0 {
			fmt.Fprint(&statement, ", ")
		}
		fmt.Fprint(&statement, col.Name.Raw())
		values = append(values, row[i])
	}
	fmt.Fprint(&statement, ") VALUES (")
	for i := range values {
		if i > 0 {
			fmt.Fprint(&statement, ", ")
		}
		fmt.Fprintf(&statement, "$%d", i+1)
	}
	fmt.Fprint(&statement, ")")

	_, err := tx.Exec(statement.String(), values...)
	return errors.WithStack(err)
}

func (s *sqlStore) upsertRow(tx *sql.Tx, row types.Row, pk []ident.Ident, action types.OnConflictAction) error {
	pkSet := make(map[string]struct{}, len(pk))
	for _, c := range pk {
		pkSet[c.Raw()] = struct{}{}
	}

	var statement strings.Builder
	fmt.Fprintf(&statement, "INSERT INTO %s (", s.table)
	values := make([]any, 0, len(s.schema))
	for i, col := range s.schema {
		if i > 0 {
			fmt.Fprint(&statement, ", ")
		}
		fmt.Fprint(&statement, col.Name.Raw())
		values = append(values, row[i])
	}
	fmt.Fprint(&statement, ") VALUES (")
	for i := range values {
		if i > 0 {
			fmt.Fprint(&statement, ", ")
		}
		fmt.Fprintf(&statement, "$%d", i+1)
	}
	fmt.Fprint(&statement, ")")

	if len(pk) > 0 {
		fmt.Fprint(&statement, " ON CONFLICT (")
		for i, c := range pk {
			if i > 0 {
				fmt.Fprint(&statement, ", ")
			}
			fmt.Fprint(&statement, c.Raw())
		}
		switch action {
		case types.OnConflictDrop:
			fmt.Fprint(&statement, ") DO NOTHING")
		default:
			fmt.Fprint(&statement, ") DO UPDATE SET ")
			first := true
			for i, col := range s.schema {
				if _, isPK := pkSet[col.Name.Raw()]; isPK {
					continue
				}
				if !first {
					fmt.Fprint(&statement, ", ")
				}
				first = false
				fmt.Fprintf(&statement, "%s = $%d", col.Name.Raw(), i+1)
			}
		}
	}

	log.WithField("table", s.table).Trace(statement.String())
	_, err := tx.Exec(statement.String(), values...)
	return errors.WithStack(err)
}

// Delete implements types.AccelerationStore. Multiple predicates are
// ANDed together, so a composite primary key's delete-by-key (spec
// §3) removes only the row matching every key column at once.
func (s *sqlStore) Delete(ctx context.Context, predicates ...types.Predicate) (int, error) {
	if len(predicates) == 0 {
		return 0, nil
	}

	var where strings.Builder
	values := make([]any, 0, len(predicates))
	for i, p := range predicates {
		op, err := sqlOperator(p.Op)
		if err != nil {
			return 0, err
		}
		if i > 0 {
			where.WriteString(" AND ")
		}
		fmt.Fprintf(&where, "%s %s $%d", p.Column.Raw(), op, i+1)
		values = append(values, p.Value)
	}

	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", s.table, where.String())
	res, err := s.db.ExecContext(ctx, stmt, values...)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, errors.WithStack(err)
	}
	return int(affected), nil
}

func sqlOperator(op types.PredicateOp) (string, error) {
	switch op {
	case types.OpLess:
		return "<", nil
	case types.OpLessOrEqual:
		return "<=", nil
	case types.OpGreater:
		return ">", nil
	case types.OpGreaterOrEqual:
		return ">=", nil
	case types.OpEqual:
		return "=", nil
	default:
		return "", errors.Errorf("unsupported predicate operator %v", op)
	}
}

// Scan implements types.AccelerationStore.
func (s *sqlStore) Scan(ctx context.Context, opts types.ScanOptions) (types.BatchSource, error) {
	schema := s.schema
	proj := opts.Projection
	if len(proj) == 0 {
		proj = make(types.Projection, len(s.schema))
		for i, col := range s.schema {
			proj[i] = col.Name
		}
	} else {
		schema = projectSchema(s.schema, proj)
	}

	var statement strings.Builder
	fmt.Fprint(&statement, "SELECT ")
	for i, col := range proj {
		if i > 0 {
			fmt.Fprint(&statement, ", ")
		}
		fmt.Fprint(&statement, col.Raw())
	}
	fmt.Fprintf(&statement, " FROM %s", s.table)

	args := make([]any, 0, len(opts.Filter))
	for i, f := range opts.Filter {
		op, err := sqlOperator(f.Op)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			fmt.Fprint(&statement, " WHERE ")
		} else {
			fmt.Fprint(&statement, " AND ")
		}
		args = append(args, f.Value)
		fmt.Fprintf(&statement, "%s %s $%d", f.Column.Raw(), op, len(args))
	}
	if opts.Limit > 0 {
		fmt.Fprintf(&statement, " LIMIT %d", opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, statement.String(), args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &sqlRowSource{rows: rows, schema: schema}, nil
}

// SnapshotMax implements types.AccelerationStore.
func (s *sqlStore) SnapshotMax(ctx context.Context, column ident.Ident) (any, bool, error) {
	stmt := fmt.Sprintf("SELECT MAX(%s) FROM %s", column.Raw(), s.table)
	var value sql.NullString
	if err := s.db.QueryRowContext(ctx, stmt).Scan(&value); err != nil {
		return nil, false, errors.WithStack(err)
	}
	if !value.Valid {
		return nil, false, nil
	}
	return value.String, true, nil
}

// sqlRowSource adapts *sql.Rows to types.BatchSource, yielding Batches
// of up to sqlBatchSize rows each.
type sqlRowSource struct {
	rows   *sql.Rows
	schema types.Schema
}

const sqlBatchSize = 1024

func (r *sqlRowSource) Next(ctx context.Context) (types.Batch, error) {
	var rows []types.Row
	for len(rows) < sqlBatchSize && r.rows.Next() {
		dest := make([]any, len(r.schema))
		ptrs := make([]any, len(r.schema))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := r.rows.Scan(ptrs...); err != nil {
			return types.Batch{}, errors.WithStack(err)
		}
		rows = append(rows, types.Row(dest))
	}
	if len(rows) == 0 {
		if err := r.rows.Err(); err != nil {
			return types.Batch{}, errors.WithStack(err)
		}
		r.rows.Close()
		return types.Batch{}, io.EOF
	}
	return types.Batch{Schema: r.schema, Rows: rows}, nil
}
