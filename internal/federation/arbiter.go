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

package federation

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/spiceai/ade/internal/readiness"
	"github.com/spiceai/ade/internal/types"
)

// Route names the decision the Arbiter reaches for one fragment.
type Route int

const (
	// RouteLocal executes entirely against the Acceleration Store.
	RouteLocal Route = iota
	// RouteForward rewrites and forwards the fragment to the Source
	// Adapter's federated SQL.
	RouteForward
	// RouteSplit executes the maximal local sub-fragment and leaves
	// Fragment.Residual to be applied as a post-filter.
	RouteSplit
)

func (r Route) String() string {
	switch r {
	case RouteLocal:
		return "local"
	case RouteForward:
		return "forward"
	case RouteSplit:
		return "split"
	default:
		return "unknown"
	}
}

// Arbiter decides, per query fragment touching one dataset, whether
// to execute locally, forward to the source, or split (spec §4.4).
// It is lock-free: it only ever reads the gate's atomically-published
// readiness snapshot (spec §5).
type Arbiter struct {
	gate   *readiness.Gate
	store  types.AccelerationStore
	source types.SourceAdapter
}

// New builds an Arbiter for one dataset's gate, store, and source.
func New(gate *readiness.Gate, store types.AccelerationStore, source types.SourceAdapter) *Arbiter {
	return &Arbiter{gate: gate, store: store, source: source}
}

// Decide applies the four-step routing rule of spec §4.4 to fragment.
func (a *Arbiter) Decide(fragment Fragment) Route {
	if a.gate.ServeFromSource() {
		return RouteForward
	}
	if a.gate.ServeFromStore() && isPure(fragment.Root) {
		return RouteLocal
	}
	if a.source.SupportsFederatedSQL() {
		if _, ok := singleSource(fragment); ok {
			return RouteForward
		}
	}
	return RouteSplit
}

// Execute runs fragment to completion per the Arbiter's routing
// decision, applying the tie-break and one-shot zero-results fallback
// of spec §4.4 ("prefer local unless on_zero_results = use_source and
// the local path returns zero rows; then re-issue against source
// within the same query — fallback is one shot, no loop").
func (a *Arbiter) Execute(ctx context.Context, fragment Fragment, zeroResults types.ZeroResultsPolicy) (types.BatchSource, Route, error) {
	route := a.Decide(fragment)

	switch route {
	case RouteForward:
		stream, err := a.forward(ctx, fragment)
		return stream, route, err

	case RouteLocal, RouteSplit:
		stream, err := a.store.Scan(ctx, fragment.Scan)
		if err != nil {
			return nil, route, err
		}
		if route == RouteSplit && len(fragment.Residual) > 0 {
			stream = &postFilterSource{inner: stream, predicates: fragment.Residual}
		}

		if zeroResults != types.ZeroResultsUseSource {
			return stream, route, nil
		}

		empty, buffered, err := peekEmpty(ctx, stream)
		if err != nil {
			return nil, route, err
		}
		if !empty {
			return buffered, route, nil
		}
		// Zero local rows and the policy asks for a source fallback:
		// re-issue once against the source, within this same query.
		fallback, err := a.forward(ctx, fragment)
		if err != nil {
			return nil, route, err
		}
		return fallback, RouteForward, nil

	default:
		return nil, route, errors.Errorf("unknown federation route %v", route)
	}
}

// forward rewrites fragment's scan shape into a federated SQL call.
// Per spec §1 the rewrite itself (SQL generation from the plan tree)
// is a query-planner concern and out of scope; callers that reach
// RouteForward because the fragment is a simple dataset scan can rely
// on the Source Adapter's own Scan, which already honors the
// projection/filter/limit pushdown hints carried on Fragment.Scan.
func (a *Arbiter) forward(ctx context.Context, fragment Fragment) (types.BatchSource, error) {
	return a.source.Scan(ctx, fragment.Scan)
}

// peekEmpty drains stream's first batch to determine whether it is
// empty, returning a BatchSource that replays the peeked batch (if
// any) followed by the remainder, so the caller never loses rows.
func peekEmpty(ctx context.Context, stream types.BatchSource) (bool, types.BatchSource, error) {
	first, err := stream.Next(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return true, emptySource{}, nil
		}
		return false, nil, err
	}
	if len(first.Rows) == 0 {
		// An empty batch does not itself prove the stream is
		// exhausted; keep pulling until a non-empty batch or EOF.
		return peekEmpty(ctx, stream)
	}
	return false, &prependSource{first: first, rest: stream}, nil
}
