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
	"strings"

	_ "modernc.org/sqlite" // register driver for VariantFile

	"github.com/pkg/errors"

	"github.com/spiceai/ade/internal/types"
)

// createTableIfNotExists issues DDL for the embedded file variant,
// which (unlike VariantSQL's externally-managed warehouse table) owns
// its own schema.
func createTableIfNotExists(ctx context.Context, db *sql.DB, schema types.Schema, table, dialect string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (", table)
	for i, col := range schema {
		if i > 0 {
			fmt.Fprint(&b, ", ")
		}
		fmt.Fprintf(&b, "%s %s", col.Name.Raw(), sqlType(col.Type, dialect))
		if !col.Nullable {
			fmt.Fprint(&b, " NOT NULL")
		}
	}
	fmt.Fprint(&b, ")")

	_, err := db.ExecContext(ctx, b.String())
	return errors.WithStack(err)
}

func sqlType(t types.ColumnType, dialect string) string {
	switch t {
	case types.ColumnBool:
		return "BOOLEAN"
	case types.ColumnInt64:
		return "INTEGER"
	case types.ColumnFloat64:
		return "REAL"
	case types.ColumnString:
		return "TEXT"
	case types.ColumnBytes:
		return "BLOB"
	case types.ColumnTimestamp:
		if dialect == "sqlite" {
			return "TIMESTAMP"
		}
		return "TIMESTAMPTZ"
	case types.ColumnJSON:
		if dialect == "sqlite" {
			return "TEXT"
		}
		return "JSONB"
	default:
		return "TEXT"
	}
}
