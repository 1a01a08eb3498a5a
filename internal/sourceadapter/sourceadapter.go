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

// Package sourceadapter implements the Source Adapter capability
// described in spec §2.1: pure, read-only access to a dataset's
// upstream system, with optional federated-SQL execution for the
// Federation Arbiter's forward/split pushdown paths.
package sourceadapter

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/spiceai/ade/internal/types"
)

// buildSelect assembles a SELECT statement over table honoring opts'
// projection, filter, and limit pushdown hints. It is shared by every
// SQL-backed Source Adapter variant; only the placeholder syntax
// differs ($n for Postgres, ? for MySQL), supplied by placeholder.
func buildSelect(table string, schema types.Schema, opts types.ScanOptions, placeholder func(int) string) (string, []any, error) {
	proj := opts.Projection
	if len(proj) == 0 {
		proj = make(types.Projection, len(schema))
		for i, col := range schema {
			proj[i] = col.Name
		}
	}

	var b strings.Builder
	fmt.Fprint(&b, "SELECT ")
	for i, col := range proj {
		if i > 0 {
			fmt.Fprint(&b, ", ")
		}
		fmt.Fprint(&b, col.Raw())
	}
	fmt.Fprintf(&b, " FROM %s", table)

	args := make([]any, 0, len(opts.Filter))
	for i, f := range opts.Filter {
		op, err := predicateOperator(f.Op)
		if err != nil {
			return "", nil, err
		}
		if i == 0 {
			fmt.Fprint(&b, " WHERE ")
		} else {
			fmt.Fprint(&b, " AND ")
		}
		args = append(args, f.Value)
		fmt.Fprintf(&b, "%s %s %s", f.Column.Raw(), op, placeholder(len(args)))
	}
	if opts.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", opts.Limit)
	}

	return b.String(), args, nil
}

func predicateOperator(op types.PredicateOp) (string, error) {
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

func dollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }
func questionPlaceholder(int) string { return "?" }
