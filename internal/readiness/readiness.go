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

// Package readiness implements the Readiness Gate described in
// spec §4.3: the small state machine that decides whether a query
// against a dataset is served from the Acceleration Store, from the
// live source, or rejected outright.
package readiness

import (
	"github.com/spiceai/ade/internal/notify"
	"github.com/spiceai/ade/internal/types"
)

// State is a point in the Readiness Gate's state machine.
type State int

const (
	// Registered is the dataset's initial state: known to the
	// registry, not yet attempted a first load.
	Registered State = iota
	// Loading means a first refresh is in flight and no commit has
	// landed yet.
	Loading
	// LiveSourceFallback means queries are served directly from the
	// Source Adapter while the first load is still in flight
	// (ReadyOnRegistration datasets only).
	LiveSourceFallback
	// AcceleratedReady means at least one commit has landed; queries
	// are served from the Acceleration Store.
	AcceleratedReady
)

func (s State) String() string {
	switch s {
	case Registered:
		return "registered"
	case Loading:
		return "loading"
	case LiveSourceFallback:
		return "live_source_fallback"
	case AcceleratedReady:
		return "accelerated_ready"
	default:
		return "unknown"
	}
}

// Gate tracks one dataset's readiness state. The zero value is not
// usable; construct with New.
type Gate struct {
	policy types.ReadyStatePolicy
	state  *notify.Var[State]
}

// New builds a Gate in the Registered state for a dataset configured
// with policy.
func New(policy types.ReadyStatePolicy) *Gate {
	return &Gate{policy: policy, state: notify.NewWithValue(Registered)}
}

// BeginLoad transitions Registered to Loading (or LiveSourceFallback
// under ReadyOnRegistration), to be called once when a dataset's
// Refresh Engine starts its first cycle.
func (g *Gate) BeginLoad() {
	g.state.Update(func(prev State) State {
		if prev != Registered {
			return prev
		}
		if g.policy == types.ReadyOnRegistration {
			return LiveSourceFallback
		}
		return Loading
	})
}

// CommitLanded transitions to AcceleratedReady. It is idempotent and
// is the only transition out of Loading/LiveSourceFallback (spec §4.3:
// readiness only ever advances, it never regresses on a later empty
// refresh).
func (g *Gate) CommitLanded() {
	g.state.Update(func(prev State) State {
		return AcceleratedReady
	})
}

// Current returns the gate's current state and a channel that closes
// on the next transition.
func (g *Gate) Current() (State, <-chan struct{}) {
	return g.state.Get()
}

// ServeFromSource reports whether a query arriving in the current
// state should be answered by the live Source Adapter rather than by
// the Acceleration Store or rejected.
func (g *Gate) ServeFromSource() bool {
	state, _ := g.state.Get()
	return state == LiveSourceFallback
}

// ServeFromStore reports whether a query arriving in the current
// state should be answered by the Acceleration Store.
func (g *Gate) ServeFromStore() bool {
	state, _ := g.state.Get()
	return state == AcceleratedReady
}

// Ready reports whether queries can be served at all (spec §7:
// KindNotReady covers every state where neither ServeFromSource nor
// ServeFromStore holds).
func (g *Gate) Ready() bool {
	return g.ServeFromSource() || g.ServeFromStore()
}
