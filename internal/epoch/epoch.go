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

// Package epoch implements the per-dataset FreshnessEpoch described in
// spec §3: a monotonically increasing counter bumped exactly once per
// successful refresh commit, per retention sweep that deletes at least
// one row, and per manual refresh trigger. The Results Cache uses the
// epoch as its coherence token (spec §4.5).
package epoch

import (
	"sync/atomic"

	"github.com/spiceai/ade/internal/notify"
)

// Epoch is the coherence token type. Zero means "never committed".
type Epoch uint64

// Counter tracks a dataset's current epoch and notifies subscribers
// whenever it advances.
type Counter struct {
	value atomic.Uint64
	watch *notify.Var[Epoch]
}

// NewCounter returns a Counter starting at epoch 0.
func NewCounter() *Counter {
	return &Counter{watch: notify.New[Epoch]()}
}

// Current returns the current epoch.
func (c *Counter) Current() Epoch {
	return Epoch(c.value.Load())
}

// Advance increments the epoch by one and returns the new value. It
// must be called exactly once per qualifying event (spec §3); callers
// that conditionally commit (e.g. a retention sweep that deleted zero
// rows) must not call Advance when the condition does not hold.
func (c *Counter) Advance() Epoch {
	next := Epoch(c.value.Add(1))
	c.watch.Set(next)
	return next
}

// Watch returns the current epoch and a channel that closes the next
// time the epoch advances, for cache-invalidation style wakeups.
func (c *Counter) Watch() (Epoch, <-chan struct{}) {
	return c.watch.Get()
}
