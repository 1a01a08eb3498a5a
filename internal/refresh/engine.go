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

// Package refresh implements the Refresh Engine described in spec §4.2:
// the per-dataset loop that pulls data from a Source Adapter into an
// Acceleration Store according to the dataset's RefreshPolicy, advancing
// the watermark and freshness epoch on successful commits (a zero-row
// Append commit leaves the epoch unchanged).
package refresh

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/spiceai/ade/internal/epoch"
	"github.com/spiceai/ade/internal/ident"
	"github.com/spiceai/ade/internal/metrics"
	"github.com/spiceai/ade/internal/notify"
	"github.com/spiceai/ade/internal/stopper"
	"github.com/spiceai/ade/internal/types"
	"github.com/spiceai/ade/internal/watermark"
)

// State names a point in the Refresh Engine's state machine
// (spec §4.2).
type State int

const (
	Idle State = iota
	Scheduled
	Running
	Committing
	Backoff
	Disabled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Running:
		return "running"
	case Committing:
		return "committing"
	case Backoff:
		return "backoff"
	case Disabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Engine drives the refresh lifecycle of one dataset. An Engine value
// must be built by New and is not safe to copy.
type Engine struct {
	dataset *types.Dataset
	source  types.SourceAdapter
	store   types.AccelerationStore
	epoch   *epoch.Counter

	state     *notify.Var[State]
	watermark *notify.Var[watermark.Cursor]
	committed *notify.Var[bool]
	trigger   chan struct{}

	// attempt counts consecutive failed refresh cycles, reset to zero
	// on a successful commit. It backs the retry/backoff policy.
	attempt int

	// changeSource and lastSeq are only used in RefreshChanges mode.
	changeSource ChangeSource
	lastSeq      uint64

	status struct {
		sync.Mutex
		lastErr     error
		lastSuccess time.Time
	}
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithChangeSource supplies the Changes-mode event source. It is
// required for any dataset whose RefreshPolicy.Mode is RefreshChanges.
func WithChangeSource(cs ChangeSource) Option {
	return func(e *Engine) { e.changeSource = cs }
}

// WithEpoch supplies the epoch.Counter the Engine bumps on commit. A
// dataset's Retention Sweeper must advance the same Counter, so the
// registry that owns both constructs one Counter and shares it via
// this option instead of letting New allocate a private one.
func WithEpoch(c *epoch.Counter) Option {
	return func(e *Engine) { e.epoch = c }
}

// New builds an Engine for dataset, reading from source and writing
// into store. The caller owns source and store's lifecycle.
func New(dataset *types.Dataset, source types.SourceAdapter, store types.AccelerationStore, opts ...Option) *Engine {
	e := &Engine{
		dataset:   dataset,
		source:    source,
		store:     store,
		epoch:     epoch.NewCounter(),
		state:     notify.NewWithValue(Idle),
		watermark: notify.New[watermark.Cursor](),
		committed: notify.NewWithValue(false),
		trigger:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EpochCounter returns the Counter this Engine advances on commit, so
// callers (the registry) can share it with the dataset's Retention
// Sweeper and Results Cache coherence lookups.
func (e *Engine) EpochCounter() *epoch.Counter {
	return e.epoch
}

// LastError returns the error from the most recently completed refresh
// cycle, or nil if the most recent cycle committed successfully (or no
// cycle has run yet). Diagnostics use this to report a Disabled dataset
// whose last cycle failed as being in error rather than administratively
// disabled.
func (e *Engine) LastError() error {
	e.status.Lock()
	defer e.status.Unlock()
	return e.status.lastErr
}

// LastRefreshedAt returns the time of the most recent successful
// commit, or the zero time if none has landed yet.
func (e *Engine) LastRefreshedAt() time.Time {
	e.status.Lock()
	defer e.status.Unlock()
	return e.status.lastSuccess
}

func (e *Engine) recordSuccess() {
	e.status.Lock()
	defer e.status.Unlock()
	e.status.lastErr = nil
	e.status.lastSuccess = time.Now()
}

func (e *Engine) recordFailure(err error) {
	e.status.Lock()
	defer e.status.Unlock()
	e.status.lastErr = err
}

// State returns the current lifecycle state and a channel that closes
// on the next transition.
func (e *Engine) State() (State, <-chan struct{}) {
	return e.state.Get()
}

// Epoch returns the dataset's current freshness epoch (spec §3).
func (e *Engine) Epoch() epoch.Epoch {
	return e.epoch.Current()
}

// Watermark returns the dataset's current watermark and a channel
// that closes the next time it advances.
func (e *Engine) Watermark() (watermark.Cursor, <-chan struct{}) {
	return e.watermark.Get()
}

// Committed returns whether at least one refresh cycle has committed
// successfully, and a channel that closes the first time it does.
// Unlike the freshness epoch, this is true even for a zero-row commit
// (spec §4.3: the Readiness Gate advances on "at least one commit",
// not on a commit that changed anything).
func (e *Engine) Committed() (bool, <-chan struct{}) {
	return e.committed.Get()
}

// Trigger requests an out-of-band refresh cycle. Concurrent triggers
// while one is already pending are coalesced into a single extra
// cycle, matching the capacity-1 channel idiom used elsewhere in this
// engine for "wake up and look for work" signals. The freshness epoch
// advances once per call regardless of coalescing: spec §3 counts a
// manual trigger itself, not the refresh cycle it eventually causes,
// as a coherence-breaking event (a cache entry built before the
// trigger must not be trusted after it, even if the resulting cycle
// finds nothing new to commit).
func (e *Engine) Trigger() {
	e.epoch.Advance()
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Disable transitions the dataset out of the refresh loop permanently;
// Run returns once the current cycle, if any, completes.
func (e *Engine) Disable() {
	e.state.Set(Disabled)
}

// Run executes the Refresh Engine's loop until ctx is stopped or the
// dataset is Disabled. It is grounded on the polling-with-wakeup loop
// used to drive a changefeed's resolved-timestamp processing: a timer
// bounds the maximum time between cycles, and a manual trigger or
// state change can wake the loop early.
func (e *Engine) Run(ctx *stopper.Context) {
	ctx.Go(func() error {
		for {
			state, _ := e.state.Get()
			if state == Disabled {
				return nil
			}

			e.state.Set(Scheduled)
			label := e.dataset.Name.Raw()
			started := time.Now()
			err := e.runCycle(ctx)
			metrics.RefreshTotal.WithLabelValues(label).Inc()
			metrics.RefreshDuration.WithLabelValues(label).Observe(time.Since(started).Seconds())
			if err != nil {
				metrics.RefreshErrors.WithLabelValues(label).Inc()
				e.recordFailure(err)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				if errors.Is(err, types.ErrOutOfOrder) {
					// A Changes-stream order violation is fatal to this
					// dataset: stop refreshing it, but keep the process up.
					log.WithError(err).WithField("dataset", e.dataset.Name.Raw()).
						Error("changes stream order violation; disabling dataset")
					e.state.Set(Disabled)
					return nil
				}
				e.attempt++
				log.WithError(err).WithFields(log.Fields{
					"dataset": e.dataset.Name.Raw(),
					"attempt": e.attempt,
				}).Warn("refresh cycle failed")

				// Every other failure is recorded above via recordFailure
				// as a dataset-level error and retried after a backoff;
				// Retry.Enabled and Retry.MaxAttempts are not consulted,
				// so no number of failures disables the dataset. The
				// dataset stays queryable from its
				// last good snapshot and keeps cycling through Backoff,
				// so a source that recovers on its own is picked back up
				// without an operator having to reload config.
				e.state.Set(Backoff)
				if !e.sleep(ctx, e.backoffDuration()) {
					return nil
				}
				continue
			}

			e.attempt = 0
			e.recordSuccess()
			e.state.Set(Idle)
			if !e.sleep(ctx, e.intervalWithJitter()) {
				return nil
			}
		}
	})
}

func (e *Engine) runCycle(ctx *stopper.Context) error {
	e.state.Set(Running)
	var commit types.Commit
	var err error

	switch e.dataset.Refresh.Mode {
	case types.RefreshFull:
		commit, err = e.runFull(ctx)
	case types.RefreshAppend:
		commit, err = e.runAppend(ctx)
	case types.RefreshChanges:
		commit, err = e.runChanges(ctx)
	default:
		return errors.Errorf("unknown refresh mode %v", e.dataset.Refresh.Mode)
	}
	if err != nil {
		return err
	}

	e.state.Set(Committing)
	metrics.StoreCommitRows.WithLabelValues(e.dataset.Name.Raw()).Add(float64(commit.RowCount))
	// spec §4.2: a zero-row Append commit (the source had nothing
	// past the watermark, less any overlap window) is still successful
	// but does not advance the freshness epoch — there is nothing for the Results Cache to have
	// gone stale over.
	if e.dataset.Refresh.Mode != types.RefreshAppend || commit.RowCount > 0 {
		e.epoch.Advance()
	}
	e.committed.Set(true)
	if commit.Watermark != watermark.Zero {
		e.watermark.Update(func(prev watermark.Cursor) watermark.Cursor {
			return watermark.Max(prev, commit.Watermark)
		})
	}
	return nil
}

// sleep waits for d, an early manual trigger, a state change (such as
// Disable), or shutdown. It returns false if the engine should stop
// running.
func (e *Engine) sleep(ctx *stopper.Context, d time.Duration) bool {
	state, stateChanged := e.state.Get()
	if state == Disabled {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-e.trigger:
		return true
	case <-stateChanged:
		return true
	case <-ctx.Stopping():
		return false
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) intervalWithJitter() time.Duration {
	interval := e.dataset.Refresh.CheckInterval
	jitter := e.dataset.Refresh.Jitter
	if !jitter.Enabled || jitter.Max <= 0 {
		return interval
	}
	return interval + time.Duration(rand.Int63n(int64(jitter.Max)))
}

func (e *Engine) backoffDuration() time.Duration {
	base := e.dataset.Refresh.CheckInterval
	if base <= 0 {
		base = time.Second
	}
	backoff := base * time.Duration(1<<uint(min(e.attempt, 6)))
	jitter := e.dataset.Refresh.Jitter
	if jitter.Enabled && jitter.Max > 0 {
		backoff += time.Duration(rand.Int63n(int64(jitter.Max)))
	}
	return backoff
}

// datasetTable returns the dataset's identity for error annotation.
func (e *Engine) datasetTable() ident.Table {
	return e.dataset.Name
}
