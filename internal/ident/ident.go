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

// Package ident provides identifiers for datasets and columns that
// preserve the case-sensitivity with which they were declared. Refresh
// SQL column names are never silently lowercased (spec §4.7.iv).
package ident

import "strings"

// An Ident is a single identifier component, such as a column or
// dataset-path segment. Two Idents are equal only if their Raw forms
// match exactly; comparisons never fold case.
type Ident struct {
	raw string
}

// New constructs an Ident from its exact, as-declared spelling.
func New(raw string) Ident { return Ident{raw: raw} }

// Raw returns the identifier exactly as declared.
func (i Ident) Raw() string { return i.raw }

// Empty reports whether the identifier has no content.
func (i Ident) Empty() bool { return i.raw == "" }

// Equal compares two identifiers by their exact spelling.
func (i Ident) Equal(o Ident) bool { return i.raw == o.raw }

func (i Ident) String() string { return i.raw }

// A Table is a qualified dataset name, e.g. "catalog.schema.orders".
// Identity of a Dataset (spec §3) is its Table.
type Table struct {
	parts []Ident
}

// NewTable builds a qualified name from ordered path segments.
func NewTable(parts ...string) Table {
	ret := make([]Ident, len(parts))
	for i, p := range parts {
		ret[i] = New(p)
	}
	return Table{parts: ret}
}

// Raw renders the qualified name using "." as a separator, preserving
// the exact case of every segment.
func (t Table) Raw() string {
	parts := make([]string, len(t.parts))
	for i, p := range t.parts {
		parts[i] = p.Raw()
	}
	return strings.Join(parts, ".")
}

// Equal compares two qualified names segment-by-segment, case-sensitive.
func (t Table) Equal(o Table) bool {
	if len(t.parts) != len(o.parts) {
		return false
	}
	for i := range t.parts {
		if !t.parts[i].Equal(o.parts[i]) {
			return false
		}
	}
	return true
}

func (t Table) String() string { return t.Raw() }

// Column is a short-hand for a column identifier within some dataset.
type Column = Ident

// ParseTable splits a dotted qualified name into a Table value without
// altering the case of any segment.
func ParseTable(raw string) Table {
	segs := strings.Split(raw, ".")
	return NewTable(segs...)
}
