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

// Package federation implements the Federation Arbiter described in
// spec §4.4: given a query fragment touching one dataset, decide
// whether to execute it locally against the Acceleration Store,
// forward it to the Source Adapter, or split it into a locally
// executed sub-fragment plus a post-filter residual.
//
// A query fragment is represented as a tagged tree (spec §9,
// "Dynamic dispatch": "represent plans as tagged trees and decide
// pushdown by a pure predicate over the tree; do not embed dispatch
// in the plan nodes themselves"), grounded on the structural
// plan-node walks used to classify pushdown eligibility in Vitess's
// query executor and in a context-API query planner. Query planning
// itself is out of scope (spec §1 non-goals); the tree only carries
// enough structure for the arbiter's routing predicate.
package federation

import "github.com/spiceai/ade/internal/types"

// NodeKind tags one node of a query fragment's tree.
type NodeKind int

const (
	NodeProjection NodeKind = iota
	NodeFilter
	NodeAggregate
	NodeJoin
	NodeOrder
	NodeLimit
	// NodeOpaque marks a construct the accelerated store's dialect
	// cannot express (a window function, a source-specific builtin,
	// a cross-source join, ...). Its presence anywhere in the tree
	// forces at least a split.
	NodeOpaque
)

// Node is one element of a query fragment's plan tree. Children model
// nested sub-expressions (e.g. a Filter's operand, a Join's two
// sides); Tables names every dataset-qualified table the node
// references directly (leaves only).
type Node struct {
	Kind     NodeKind
	Tables   []string
	Children []Node
}

// Fragment is the query-plan fragment the arbiter decides over: the
// tagged tree used for purity/single-source classification, the part
// of the fragment translatable into the accelerated store's
// Scan(projection, filter, limit) dialect, and any residual
// predicates the store cannot evaluate and must instead be
// post-filtered by the caller over returned batches.
type Fragment struct {
	Root     Node
	Scan     types.ScanOptions
	Residual []types.Predicate
	// Sources maps every table name appearing in Root to the source
	// locator that owns it (spec §4.4 step 3).
	Sources map[string]string
}

// isPure walks the tree and reports whether every node is expressible
// in the accelerated store's dialect: projection, filter, aggregate,
// join, order, and limit are pure; anything tagged NodeOpaque is not
// (spec §4.4 step 2).
func isPure(n Node) bool {
	if n.Kind == NodeOpaque {
		return false
	}
	for _, c := range n.Children {
		if !isPure(c) {
			return false
		}
	}
	return true
}

// singleSource reports whether every table referenced anywhere in the
// fragment maps to the same source locator, and returns it.
func singleSource(f Fragment) (string, bool) {
	source := ""
	seen := false
	var walk func(n Node) bool
	walk = func(n Node) bool {
		for _, t := range n.Tables {
			s, ok := f.Sources[t]
			if !ok {
				return false
			}
			if !seen {
				source, seen = s, true
				continue
			}
			if s != source {
				return false
			}
		}
		for _, c := range n.Children {
			if !walk(c) {
				return false
			}
		}
		return true
	}
	if !walk(f.Root) {
		return "", false
	}
	return source, seen
}
